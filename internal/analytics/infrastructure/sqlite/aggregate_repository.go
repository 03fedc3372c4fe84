package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"vehicle-telemetry/internal/analytics/domain/rolling"
	"vehicle-telemetry/internal/storage/sqlitepool"
)

const defaultListLimit = 100

// AggregateRepository stores window means in SQLite, one table per window.
// Timestamps are stored as unix milliseconds.
type AggregateRepository struct {
	pool    *sqlitepool.Pool
	missing *float64
}

// RepositoryOption configures the repository.
type RepositoryOption func(*AggregateRepository)

// WithMissingValue stores value for means the window did not produce.
func WithMissingValue(value float64) RepositoryOption {
	return func(repo *AggregateRepository) { repo.missing = &value }
}

// WithNullForMissing stores NULL for means the window did not produce.
func WithNullForMissing() RepositoryOption {
	return func(repo *AggregateRepository) { repo.missing = nil }
}

// NewAggregateRepository constructs a repository. Omitted means default to 0.
func NewAggregateRepository(pool *sqlitepool.Pool, opts ...RepositoryOption) *AggregateRepository {
	zero := 0.0
	repo := &AggregateRepository{pool: pool, missing: &zero}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// EnsureSchema creates the per-window tables.
func (r *AggregateRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return errors.New("aggregate repo: nil pool")
	}
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	var script strings.Builder
	for _, window := range rolling.Windows {
		columns, err := rolling.Columns(window)
		if err != nil {
			return err
		}
		table := rolling.Table(window)
		fmt.Fprintf(&script, "CREATE TABLE IF NOT EXISTS %s (\n\tid INTEGER PRIMARY KEY AUTOINCREMENT,\n\tvehicle_id INTEGER NOT NULL,\n\trecorded_at INTEGER NOT NULL", table)
		for _, column := range columns {
			fmt.Fprintf(&script, ",\n\t%s REAL", column)
		}
		script.WriteString("\n);\n")
		fmt.Fprintf(&script, "CREATE INDEX IF NOT EXISTS %s_vehicle_recorded_idx ON %s (vehicle_id, recorded_at DESC);\n", table, table)
	}
	if err := sqlitex.ExecuteScript(conn, script.String(), nil); err != nil {
		return fmt.Errorf("aggregate repo: schema: %w", err)
	}
	return nil
}

// InsertAggregate writes one window record.
func (r *AggregateRepository) InsertAggregate(ctx context.Context, record rolling.Record) error {
	if r == nil || r.pool == nil {
		return errors.New("aggregate repo: nil pool")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	columns, err := rolling.Columns(record.Window)
	if err != nil {
		return err
	}
	values, err := record.Row(r.missing)
	if err != nil {
		return err
	}

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)+2), ", ")
	query := fmt.Sprintf("INSERT INTO %s (vehicle_id, recorded_at, %s) VALUES (%s)",
		rolling.Table(record.Window), strings.Join(columns, ", "), placeholders)
	args := append([]any{record.VehicleID, record.RecordedAt.UnixMilli()}, values...)

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("aggregate repo: insert %s: %w", record.Window, err)
	}
	return nil
}

// ListAggregates returns up to limit records for a vehicle, newest first.
func (r *AggregateRepository) ListAggregates(ctx context.Context, window rolling.Window, vehicleID int64, limit int) ([]rolling.Record, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("aggregate repo: nil pool")
	}
	fields, err := rolling.FieldsFor(window)
	if err != nil {
		return nil, err
	}
	columns, _ := rolling.Columns(window)
	if limit <= 0 {
		limit = defaultListLimit
	}

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	query := fmt.Sprintf(
		"SELECT id, vehicle_id, recorded_at, %s FROM %s WHERE vehicle_id = ? ORDER BY recorded_at DESC, id DESC LIMIT ?",
		strings.Join(columns, ", "), rolling.Table(window))

	var records []rolling.Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{vehicleID, limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record := rolling.Record{
				ID:         stmt.ColumnInt64(0),
				VehicleID:  stmt.ColumnInt64(1),
				Window:     window,
				RecordedAt: time.UnixMilli(stmt.ColumnInt64(2)).UTC(),
				Values:     make(rolling.Result, len(fields)),
			}
			for i, field := range fields {
				col := 3 + i
				if stmt.ColumnType(col) == sqlite.TypeNull {
					continue
				}
				record.Values[field] = stmt.ColumnFloat(col)
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
