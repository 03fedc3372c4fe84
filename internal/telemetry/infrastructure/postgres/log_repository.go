package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

const (
	defaultLogTable     = "logs"
	defaultVehicleTable = "vehicles"
	defaultLogLimit     = 1000
)

// LogRepository stores raw log rows and the vehicles they belong to.
type LogRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*LogRepository)

// WithTable overrides the default log table name.
func WithTable(table string) RepositoryOption {
	return func(repo *LogRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewLogRepository constructs a repository with default table names.
func NewLogRepository(db *sql.DB, opts ...RepositoryOption) *LogRepository {
	repo := &LogRepository{db: db, table: defaultLogTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// EnsureSchema creates the vehicle and log tables and the given vehicle.
func (r *LogRepository) EnsureSchema(ctx context.Context, vehicle telemetry.Vehicle) error {
	if r == nil || r.db == nil {
		return errors.New("log repo: nil db")
	}
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	vin TEXT NOT NULL UNIQUE,
	make TEXT NOT NULL DEFAULT 'Unknown',
	model TEXT NOT NULL DEFAULT 'Unknown',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, defaultVehicleTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	vehicle_id BIGINT NOT NULL REFERENCES %s (id),
	captured_at TIMESTAMPTZ NOT NULL,
	speed DOUBLE PRECISION,
	rpm DOUBLE PRECISION,
	coolant_temp DOUBLE PRECISION,
	fuel_level DOUBLE PRECISION,
	gps_latitude DOUBLE PRECISION,
	gps_longitude DOUBLE PRECISION
)`, r.table, defaultVehicleTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_captured_idx ON %s (captured_at)", r.table, r.table),
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("log repo: schema: %w", err)
		}
	}

	if vehicle.ID <= 0 || vehicle.VIN == "" {
		return nil
	}
	insert := fmt.Sprintf("INSERT INTO %s (id, vin, make, model) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING", defaultVehicleTable)
	if _, err := r.db.ExecContext(ctx, insert, vehicle.ID, vehicle.VIN, vehicle.Make, vehicle.Model); err != nil {
		return fmt.Errorf("log repo: default vehicle: %w", err)
	}
	return nil
}

// InsertLog writes one raw log row. Absent readings are stored as NULL.
func (r *LogRepository) InsertLog(ctx context.Context, entry telemetry.LogEntry) error {
	if r == nil || r.db == nil {
		return errors.New("log repo: nil db")
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	vehicle_id,
	captured_at,
	speed,
	rpm,
	coolant_temp,
	fuel_level,
	gps_latitude,
	gps_longitude
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		entry.VehicleID,
		entry.CapturedAt.UTC(),
		nullable(entry.Speed),
		nullable(entry.RPM),
		nullable(entry.CoolantTemp),
		nullable(entry.FuelLevel),
		nullable(entry.GPSLatitude),
		nullable(entry.GPSLongitude),
	)
	return err
}

// ListLogsSince returns rows captured strictly after since, oldest first.
func (r *LogRepository) ListLogsSince(ctx context.Context, since time.Time, limit int) ([]telemetry.LogEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("log repo: nil db")
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}

	query := fmt.Sprintf(`
SELECT id, vehicle_id, captured_at, speed, rpm, coolant_temp, fuel_level, gps_latitude, gps_longitude
FROM %s
WHERE captured_at > $1
ORDER BY captured_at ASC, id ASC
LIMIT $2`, r.table)

	rows, err := r.db.QueryContext(ctx, query, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []telemetry.LogEntry
	for rows.Next() {
		var entry telemetry.LogEntry
		var speed, rpm, coolant, fuel, lat, lon sql.NullFloat64
		if err := rows.Scan(&entry.ID, &entry.VehicleID, &entry.CapturedAt, &speed, &rpm, &coolant, &fuel, &lat, &lon); err != nil {
			return nil, err
		}
		entry.Speed = reading(speed)
		entry.RPM = reading(rpm)
		entry.CoolantTemp = reading(coolant)
		entry.FuelLevel = reading(fuel)
		entry.GPSLatitude = reading(lat)
		entry.GPSLongitude = reading(lon)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountRows counts stored log rows.
func (r *LogRepository) CountRows(ctx context.Context, table string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("log repo: nil db")
	}
	if table != r.table {
		return 0, fmt.Errorf("log repo: unknown table %q", table)
	}
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.table).Scan(&count)
	return count, err
}

func nullable(r telemetry.Reading) sql.NullFloat64 {
	if !r.Present {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: r.Value, Valid: true}
}

func reading(v sql.NullFloat64) telemetry.Reading {
	if !v.Valid {
		return telemetry.Absent
	}
	return telemetry.Present(v.Float64)
}
