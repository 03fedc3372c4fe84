package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

func TestInsertLogStoresAbsentAsNull(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO logs (")).
		WithArgs(
			int64(1), at,
			sql.NullFloat64{Float64: 88, Valid: true},
			sql.NullFloat64{Float64: 3200, Valid: true},
			sql.NullFloat64{},
			sql.NullFloat64{},
			sql.NullFloat64{},
			sql.NullFloat64{},
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewLogRepository(db).InsertLog(context.Background(), telemetry.LogEntry{
		VehicleID:  1,
		CapturedAt: at,
		Speed:      telemetry.Present(88),
		RPM:        telemetry.Present(3200),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertLogRejectsInvalidEntry(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if err := NewLogRepository(db).InsertLog(context.Background(), telemetry.LogEntry{}); !errors.Is(err, telemetry.ErrInvalidLogEntry) {
		t.Fatalf("expected ErrInvalidLogEntry, got %v", err)
	}
}

func TestListLogsSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "vehicle_id", "captured_at", "speed", "rpm", "coolant_temp", "fuel_level", "gps_latitude", "gps_longitude"}).
		AddRow(int64(9), int64(1), since.Add(5*time.Second), 50.0, 2100.0, nil, 41.0, 52.52, 13.40)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE captured_at > $1")).
		WithArgs(since, 10).
		WillReturnRows(rows)

	entries, err := NewLogRepository(db).ListLogsSince(context.Background(), since, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.ID != 9 || got.Speed.Value != 50 || got.CoolantTemp.Present || got.GPSLongitude.Value != 13.40 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsureSchemaCreatesDefaultVehicle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS vehicles").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS logs_captured_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vehicles (id, vin, make, model)")).
		WithArgs(int64(1), "DEFAULTVIN0000000", "Unknown", "Unknown").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewLogRepository(db).EnsureSchema(context.Background(), telemetry.DefaultVehicle); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
