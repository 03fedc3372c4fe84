package sqlite

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"vehicle-telemetry/internal/storage/sqlitepool"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

func openTestRepo(t *testing.T) (*LogRepository, *sqlitepool.Pool) {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(t.TempDir(), "obd.db"),
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	repo := NewLogRepository(pool)
	if err := repo.EnsureSchema(context.Background(), telemetry.DefaultVehicle); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return repo, pool
}

func TestLogsSinceIsStrictAndOrdered(t *testing.T) {
	repo, pool := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := repo.InsertLog(ctx, telemetry.LogEntry{
			VehicleID:  1,
			CapturedAt: base.Add(time.Duration(i) * 5 * time.Second),
			RPM:        telemetry.Present(float64(1000 + i)),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	entries, err := repo.ListLogsSince(ctx, base, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after base, got %d", len(entries))
	}
	if entries[0].RPM.Value != 1001 || entries[1].RPM.Value != 1002 {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if entries[0].Speed.Present {
		t.Fatalf("absent speed must read back absent")
	}

	count, err := pool.CountRows(ctx, "logs")
	if err != nil || count != 3 {
		t.Fatalf("expected 3 rows, got %d err=%v", count, err)
	}
	vehicles, err := pool.CountRows(ctx, "vehicles")
	if err != nil || vehicles != 1 {
		t.Fatalf("expected default vehicle, got %d err=%v", vehicles, err)
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	repo, _ := openTestRepo(t)
	if err := repo.EnsureSchema(context.Background(), telemetry.DefaultVehicle); err != nil {
		t.Fatalf("second schema pass: %v", err)
	}
}

func TestInsertLogRejectsInvalidEntry(t *testing.T) {
	repo, _ := openTestRepo(t)
	if err := repo.InsertLog(context.Background(), telemetry.LogEntry{VehicleID: 1}); !errors.Is(err, telemetry.ErrInvalidLogEntry) {
		t.Fatalf("expected ErrInvalidLogEntry, got %v", err)
	}
}
