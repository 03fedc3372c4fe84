package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

// LogRepository keeps raw log rows in process memory.
type LogRepository struct {
	mu      sync.RWMutex
	nextID  int64
	entries []telemetry.LogEntry
}

// NewLogRepository constructs an empty repository.
func NewLogRepository() *LogRepository {
	return &LogRepository{}
}

// InsertLog appends a row.
func (r *LogRepository) InsertLog(ctx context.Context, entry telemetry.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	r.entries = append(r.entries, entry)
	return nil
}

// ListLogsSince returns rows captured strictly after since, oldest first.
func (r *LogRepository) ListLogsSince(ctx context.Context, since time.Time, limit int) ([]telemetry.LogEntry, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]telemetry.LogEntry, 0)
	for _, entry := range r.entries {
		if entry.CapturedAt.After(since) {
			result = append(result, entry)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CapturedAt.Before(result[j].CapturedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountRows reports stored rows for the logs table.
func (r *LogRepository) CountRows(ctx context.Context, table string) (int64, error) {
	_ = ctx
	if table != "logs" {
		return 0, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.entries)), nil
}
