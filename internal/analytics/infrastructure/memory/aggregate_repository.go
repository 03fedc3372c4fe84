package memory

import (
	"context"
	"sync"

	"vehicle-telemetry/internal/analytics/domain/rolling"
)

// AggregateRepository keeps committed window records in process memory.
// It backs STORAGE_DRIVER=memory and tests.
type AggregateRepository struct {
	mu     sync.RWMutex
	nextID int64
	data   map[rolling.Window][]rolling.Record
}

// NewAggregateRepository constructs an empty repository.
func NewAggregateRepository() *AggregateRepository {
	return &AggregateRepository{
		data: make(map[rolling.Window][]rolling.Record),
	}
}

// InsertAggregate appends a record to its window.
func (r *AggregateRepository) InsertAggregate(ctx context.Context, record rolling.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	record.ID = r.nextID
	record.Values = copyResult(record.Values)
	r.data[record.Window] = append(r.data[record.Window], record)
	return nil
}

// ListAggregates returns up to limit records of a window for the vehicle, newest first.
func (r *AggregateRepository) ListAggregates(ctx context.Context, window rolling.Window, vehicleID int64, limit int) ([]rolling.Record, error) {
	_ = ctx
	if _, err := rolling.ParseWindow(string(window)); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.data[window]
	result := make([]rolling.Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if vehicleID > 0 && records[i].VehicleID != vehicleID {
			continue
		}
		rec := records[i]
		rec.Values = copyResult(rec.Values)
		result = append(result, rec)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// CountRows reports stored records for the aggregates_fast and aggregates_slow tables.
func (r *AggregateRepository) CountRows(ctx context.Context, table string) (int64, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for window, records := range r.data {
		if "aggregates_"+string(window) == table {
			return int64(len(records)), nil
		}
	}
	return 0, nil
}

func copyResult(in rolling.Result) rolling.Result {
	out := make(rolling.Result, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
