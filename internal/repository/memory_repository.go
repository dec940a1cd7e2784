// internal/repository/memory_repository.go
package repository

import (
	"context"
	"sync"
	"time"

	"nori-bridge/internal/model"
)

// memoryRepository keeps the most recent readings in a ring when no database is configured
type memoryRepository struct {
	mu       sync.RWMutex
	readings []*model.Reading // oldest first
	capacity int
}

// NewMemoryRepository creates an in-memory repository holding at most capacity readings
func NewMemoryRepository(capacity int) ReadingRepository {
	if capacity <= 0 {
		capacity = maxListLimit
	}
	return &memoryRepository{capacity: capacity}
}

func (r *memoryRepository) Create(_ context.Context, reading *model.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.append(reading)
	return nil
}

func (r *memoryRepository) CreateBatch(_ context.Context, readings []*model.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reading := range readings {
		r.append(reading)
	}
	return nil
}

func (r *memoryRepository) append(reading *model.Reading) {
	cp := *reading
	r.readings = append(r.readings, &cp)
	if over := len(r.readings) - r.capacity; over > 0 {
		clear(r.readings[:over])
		r.readings = r.readings[over:]
	}
}

func (r *memoryRepository) List(_ context.Context, filter *model.ReadingFilter) ([]*model.Reading, error) {
	if filter == nil {
		filter = &model.ReadingFilter{}
	}
	limit := normalizeLimit(filter.Limit)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*model.Reading{}
	for i := len(r.readings) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.Matches(r.readings[i]) {
			cp := *r.readings[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryRepository) Latest(ctx context.Context, port int) (*model.Reading, error) {
	readings, _ := r.List(ctx, &model.ReadingFilter{Port: &port, Limit: 1})
	if len(readings) == 0 {
		return nil, ErrNotFound
	}
	return readings[0], nil
}

func (r *memoryRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.readings[:0]
	var deleted int64
	for _, reading := range r.readings {
		if reading.ReceivedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, reading)
	}
	clear(r.readings[len(kept):])
	r.readings = kept
	return deleted, nil
}
