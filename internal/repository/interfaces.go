// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"nori-bridge/internal/model"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ErrNotFound is returned when no reading matches
var ErrNotFound = errors.New("reading not found")

// ReadingRepository defines sensor reading data access operations
type ReadingRepository interface {
	Create(ctx context.Context, reading *model.Reading) error
	CreateBatch(ctx context.Context, readings []*model.Reading) error

	// List returns matching readings, newest first
	List(ctx context.Context, filter *model.ReadingFilter) ([]*model.Reading, error)
	Latest(ctx context.Context, port int) (*model.Reading, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// normalizeLimit clamps a requested page size
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
