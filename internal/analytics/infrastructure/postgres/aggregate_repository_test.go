package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"vehicle-telemetry/internal/analytics/domain/rolling"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

func TestInsertAggregateDefaultsOmittedMeans(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewAggregateRepository(db)
	at := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)

	expected := regexp.QuoteMeta("INSERT INTO aggregates_fast (vehicle_id, recorded_at, mean_rpm, mean_speed) VALUES ($1,$2,$3,$4)")
	mock.ExpectExec(expected).
		WithArgs(int64(1), at, 1500.0, 0.0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.InsertAggregate(context.Background(), rolling.Record{
		VehicleID:  1,
		Window:     rolling.WindowFast,
		RecordedAt: at,
		Values:     rolling.Result{telemetry.FieldRPM: 1500},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertAggregateWritesNullWhenConfigured(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewAggregateRepository(db, WithNullForMissing())
	at := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)

	expected := regexp.QuoteMeta("INSERT INTO aggregates_slow (vehicle_id, recorded_at, mean_coolant_temp, mean_oil_temp, mean_fuel_level, mean_voltage, mean_boost, mean_oil_pressure) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)")
	mock.ExpectExec(expected).
		WithArgs(int64(1), at, 95.0, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.InsertAggregate(context.Background(), rolling.Record{
		VehicleID:  1,
		Window:     rolling.WindowSlow,
		RecordedAt: at,
		Values:     rolling.Result{telemetry.FieldCoolantTemp: 95},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertAggregateWrapsDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	driverErr := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO aggregates_fast").WillReturnError(driverErr)

	err = NewAggregateRepository(db, WithMissingValue(-1)).InsertAggregate(context.Background(), rolling.Record{
		VehicleID:  1,
		Window:     rolling.WindowFast,
		RecordedAt: time.Now(),
		Values:     rolling.Result{telemetry.FieldSpeed: 80},
	})
	if !errors.Is(err, driverErr) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestListAggregatesScansPresentMeansOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)
	expected := regexp.QuoteMeta("SELECT id, vehicle_id, recorded_at, mean_rpm, mean_speed FROM aggregates_fast WHERE vehicle_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT $2")
	rows := sqlmock.NewRows([]string{"id", "vehicle_id", "recorded_at", "mean_rpm", "mean_speed"}).
		AddRow(int64(2), int64(1), at, 4000.0, nil).
		AddRow(int64(1), int64(1), at.Add(-time.Second), 3000.0, 110.0)
	mock.ExpectQuery(expected).WithArgs(int64(1), defaultListLimit).WillReturnRows(rows)

	records, err := NewAggregateRepository(db).ListAggregates(context.Background(), rolling.WindowFast, 1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if _, ok := records[0].Values[telemetry.FieldSpeed]; ok {
		t.Fatalf("NULL mean must not be present: %v", records[0].Values)
	}
	if records[1].Values[telemetry.FieldSpeed] != 110 || records[0].ID != 2 {
		t.Fatalf("unexpected records: %+v", records)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListAggregatesRejectsUnknownWindow(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := NewAggregateRepository(db).ListAggregates(context.Background(), "hourly", 1, 5); !errors.Is(err, rolling.ErrUnknownWindow) {
		t.Fatalf("expected ErrUnknownWindow, got %v", err)
	}
}

func TestEnsureSchemaCreatesWindowTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	for _, window := range rolling.Windows {
		table := rolling.Table(window)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	if err := NewAggregateRepository(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCountRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM aggregates_slow")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))

	repo := NewAggregateRepository(db)
	count, err := repo.CountRows(context.Background(), "aggregates_slow")
	if err != nil || count != 12 {
		t.Fatalf("expected 12 rows, got %d err=%v", count, err)
	}
	if _, err := repo.CountRows(context.Background(), "logs; DROP TABLE x"); err == nil {
		t.Fatalf("expected unknown table error")
	}
}
