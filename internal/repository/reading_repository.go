// internal/repository/reading_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"nori-bridge/internal/database"
	"nori-bridge/internal/model"
	"nori-bridge/internal/utils"
	"nori-bridge/pkg/devicetypes"
)

// readingRepository implements ReadingRepository on postgres
type readingRepository struct {
	db      *database.DB
	logger  *zap.Logger
	queries *utils.ServiceLogger
}

// NewReadingRepository creates a postgres-backed reading repository
func NewReadingRepository(db *database.DB, logger *zap.Logger) ReadingRepository {
	return &readingRepository{
		db:      db,
		logger:  logger.With(zap.String("component", "reading_repository")),
		queries: utils.NewServiceLogger(logger, "reading_repository"),
	}
}

const insertReading = `
	INSERT INTO sensor_readings (
		id, session_id, port, device_kind, value_format,
		number_value, text_value, received_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const deleteOlderReadings = `DELETE FROM sensor_readings WHERE received_at < $1`

// Create stores one reading
func (r *readingRepository) Create(ctx context.Context, reading *model.Reading) error {
	start := time.Now()
	_, err := r.db.ExecContext(ctx, insertReading,
		reading.ID, reading.SessionID, reading.Port, int(reading.DeviceKind),
		int(reading.Format), reading.Number, reading.Text, reading.ReceivedAt,
	)
	r.queries.LogDatabaseQuery(insertReading, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to create reading: %w", err)
	}
	return nil
}

// CreateBatch stores readings in one transaction
func (r *readingRepository) CreateBatch(ctx context.Context, readings []*model.Reading) (err error) {
	if len(readings) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { r.queries.LogDatabaseQuery(insertReading, time.Since(start), err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertReading)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, reading := range readings {
		if _, err := stmt.ExecContext(ctx,
			reading.ID, reading.SessionID, reading.Port, int(reading.DeviceKind),
			int(reading.Format), reading.Number, reading.Text, reading.ReceivedAt,
		); err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit readings: %w", err)
	}
	return nil
}

// List retrieves readings matching filter, newest first
func (r *readingRepository) List(ctx context.Context, filter *model.ReadingFilter) ([]*model.Reading, error) {
	query, args := buildListQuery(filter)

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.queries.LogDatabaseQuery(query, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	readings := []*model.Reading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			r.logger.Error("Failed to scan reading row", zap.Error(err))
			continue
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}

	return readings, nil
}

// Latest returns the newest reading of a port
func (r *readingRepository) Latest(ctx context.Context, port int) (*model.Reading, error) {
	query, args := buildListQuery(&model.ReadingFilter{Port: &port, Limit: 1})

	reading, err := scanReading(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	return reading, nil
}

// DeleteOlderThan removes readings received before cutoff
func (r *readingRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	result, err := r.db.ExecContext(ctx, deleteOlderReadings, cutoff)
	r.queries.LogDatabaseQuery(deleteOlderReadings, time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// buildListQuery renders the SELECT for filter with positional arguments
func buildListQuery(filter *model.ReadingFilter) (string, []interface{}) {
	if filter == nil {
		filter = &model.ReadingFilter{}
	}

	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.Port != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("port = $%d", argIndex))
		args = append(args, *filter.Port)
		argIndex++
	}

	if filter.Kind != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("device_kind = $%d", argIndex))
		args = append(args, *filter.Kind)
		argIndex++
	}

	if filter.Since != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("received_at >= $%d", argIndex))
		args = append(args, *filter.Since)
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT id, session_id, port, device_kind, value_format, number_value, text_value, received_at FROM sensor_readings %s ORDER BY received_at DESC LIMIT $%d`,
		whereClause, argIndex)
	args = append(args, normalizeLimit(filter.Limit))

	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*model.Reading, error) {
	reading := &model.Reading{}
	var kind, format int
	if err := row.Scan(
		&reading.ID, &reading.SessionID, &reading.Port, &kind, &format,
		&reading.Number, &reading.Text, &reading.ReceivedAt,
	); err != nil {
		return nil, err
	}
	reading.DeviceKind = devicetypes.DeviceKind(kind)
	reading.Format = devicetypes.ValueFormat(format)
	reading.Normalize()
	return reading, nil
}
