package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"vehicle-telemetry/internal/analytics/domain/rolling"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

const defaultListLimit = 100

// AggregateRepository stores window means in one Postgres table per window.
type AggregateRepository struct {
	db      *sql.DB
	missing *float64
}

// RepositoryOption configures the repository.
type RepositoryOption func(*AggregateRepository)

// WithMissingValue stores value for means the window did not produce.
func WithMissingValue(value float64) RepositoryOption {
	return func(repo *AggregateRepository) {
		repo.missing = &value
	}
}

// WithNullForMissing stores NULL for means the window did not produce.
func WithNullForMissing() RepositoryOption {
	return func(repo *AggregateRepository) {
		repo.missing = nil
	}
}

// NewAggregateRepository constructs a repository. Omitted means default to 0.
func NewAggregateRepository(db *sql.DB, opts ...RepositoryOption) *AggregateRepository {
	zero := 0.0
	repo := &AggregateRepository{db: db, missing: &zero}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// EnsureSchema creates the per-window tables.
func (r *AggregateRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("aggregate repo: nil db")
	}
	for _, window := range rolling.Windows {
		columns, err := rolling.Columns(window)
		if err != nil {
			return err
		}
		defs := make([]string, 0, len(columns))
		for _, column := range columns {
			defs = append(defs, column+" DOUBLE PRECISION")
		}
		table := rolling.Table(window)
		stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	vehicle_id BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	%s
)`, table, strings.Join(defs, ",\n\t"))
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("aggregate repo: create %s: %w", table, err)
		}
		index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_vehicle_recorded_idx ON %s (vehicle_id, recorded_at DESC)", table, table)
		if _, err := r.db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("aggregate repo: index %s: %w", table, err)
		}
	}
	return nil
}

// InsertAggregate writes one window record.
func (r *AggregateRepository) InsertAggregate(ctx context.Context, record rolling.Record) error {
	if r == nil || r.db == nil {
		return errors.New("aggregate repo: nil db")
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

	query := insertQuery(rolling.Table(record.Window), columns)
	args := append([]any{record.VehicleID, record.RecordedAt.UTC()}, values...)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("aggregate repo: insert %s: %w", record.Window, err)
	}
	return nil
}

// ListAggregates returns up to limit records for a vehicle, newest first.
func (r *AggregateRepository) ListAggregates(ctx context.Context, window rolling.Window, vehicleID int64, limit int) ([]rolling.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("aggregate repo: nil db")
	}
	fields, err := rolling.FieldsFor(window)
	if err != nil {
		return nil, err
	}
	columns, _ := rolling.Columns(window)
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := fmt.Sprintf(
		"SELECT id, vehicle_id, recorded_at, %s FROM %s WHERE vehicle_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT $2",
		strings.Join(columns, ", "), rolling.Table(window))

	rows, err := r.db.QueryContext(ctx, query, vehicleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []rolling.Record
	for rows.Next() {
		record, err := scanRecord(rows, window, fields)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CountRows counts rows of a table for the storage gauges.
func (r *AggregateRepository) CountRows(ctx context.Context, table string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("aggregate repo: nil db")
	}
	known := false
	for _, window := range rolling.Windows {
		if rolling.Table(window) == table {
			known = true
		}
	}
	if !known {
		return 0, fmt.Errorf("aggregate repo: unknown table %q", table)
	}
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	return count, err
}

func insertQuery(table string, columns []string) string {
	placeholders := make([]string, 0, len(columns)+2)
	for i := 1; i <= len(columns)+2; i++ {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
	}
	return fmt.Sprintf("INSERT INTO %s (vehicle_id, recorded_at, %s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ","))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, window rolling.Window, fields []telemetry.Field) (rolling.Record, error) {
	record := rolling.Record{Window: window, Values: make(rolling.Result, len(fields))}
	means := make([]sql.NullFloat64, len(fields))
	dest := []any{&record.ID, &record.VehicleID, &record.RecordedAt}
	for i := range means {
		dest = append(dest, &means[i])
	}
	if err := row.Scan(dest...); err != nil {
		return rolling.Record{}, err
	}
	for i, field := range fields {
		if means[i].Valid {
			record.Values[field] = means[i].Float64
		}
	}
	return record, nil
}
