package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"vehicle-telemetry/internal/storage/sqlitepool"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

const defaultLogLimit = 1000

const schema = `
CREATE TABLE IF NOT EXISTS vehicles (
	id INTEGER PRIMARY KEY,
	vin TEXT NOT NULL UNIQUE,
	make TEXT NOT NULL DEFAULT 'Unknown',
	model TEXT NOT NULL DEFAULT 'Unknown',
	created_at INTEGER NOT NULL DEFAULT (unixepoch())
);
CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vehicle_id INTEGER NOT NULL REFERENCES vehicles (id),
	captured_at INTEGER NOT NULL,
	speed REAL,
	rpm REAL,
	coolant_temp REAL,
	fuel_level REAL,
	gps_latitude REAL,
	gps_longitude REAL
);
CREATE INDEX IF NOT EXISTS logs_captured_idx ON logs (captured_at);
`

// LogRepository stores raw log rows in SQLite. Timestamps are unix milliseconds.
type LogRepository struct {
	pool *sqlitepool.Pool
}

// NewLogRepository constructs a repository.
func NewLogRepository(pool *sqlitepool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// EnsureSchema creates the vehicle and log tables and the given vehicle.
func (r *LogRepository) EnsureSchema(ctx context.Context, vehicle telemetry.Vehicle) error {
	if r == nil || r.pool == nil {
		return errors.New("log repo: nil pool")
	}
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("log repo: schema: %w", err)
	}
	if vehicle.ID <= 0 || vehicle.VIN == "" {
		return nil
	}
	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO vehicles (id, vin, make, model) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{vehicle.ID, vehicle.VIN, vehicle.Make, vehicle.Model}})
	if err != nil {
		return fmt.Errorf("log repo: default vehicle: %w", err)
	}
	return nil
}

// InsertLog writes one raw log row. Absent readings are stored as NULL.
func (r *LogRepository) InsertLog(ctx context.Context, entry telemetry.LogEntry) error {
	if r == nil || r.pool == nil {
		return errors.New("log repo: nil pool")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	return sqlitex.Execute(conn, `
INSERT INTO logs (
	vehicle_id, captured_at, speed, rpm, coolant_temp, fuel_level, gps_latitude, gps_longitude
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			entry.VehicleID,
			entry.CapturedAt.UnixMilli(),
			nullable(entry.Speed),
			nullable(entry.RPM),
			nullable(entry.CoolantTemp),
			nullable(entry.FuelLevel),
			nullable(entry.GPSLatitude),
			nullable(entry.GPSLongitude),
		},
	})
}

// ListLogsSince returns rows captured strictly after since, oldest first.
func (r *LogRepository) ListLogsSince(ctx context.Context, since time.Time, limit int) ([]telemetry.LogEntry, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("log repo: nil pool")
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	var entries []telemetry.LogEntry
	err = sqlitex.Execute(conn, `
SELECT id, vehicle_id, captured_at, speed, rpm, coolant_temp, fuel_level, gps_latitude, gps_longitude
FROM logs
WHERE captured_at > ?
ORDER BY captured_at ASC, id ASC
LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{since.UnixMilli(), limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entries = append(entries, telemetry.LogEntry{
				ID:           stmt.ColumnInt64(0),
				VehicleID:    stmt.ColumnInt64(1),
				CapturedAt:   time.UnixMilli(stmt.ColumnInt64(2)).UTC(),
				Speed:        column(stmt, 3),
				RPM:          column(stmt, 4),
				CoolantTemp:  column(stmt, 5),
				FuelLevel:    column(stmt, 6),
				GPSLatitude:  column(stmt, 7),
				GPSLongitude: column(stmt, 8),
			})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func nullable(r telemetry.Reading) any {
	if !r.Present {
		return nil
	}
	return r.Value
}

func column(stmt *sqlite.Stmt, col int) telemetry.Reading {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return telemetry.Absent
	}
	return telemetry.Present(stmt.ColumnFloat(col))
}
