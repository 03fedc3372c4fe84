package apihttp

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"vehicle-telemetry/internal/analytics/domain/rolling"
	analyticsmemory "vehicle-telemetry/internal/analytics/infrastructure/memory"
	"vehicle-telemetry/internal/auth"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
	telemetrymemory "vehicle-telemetry/internal/telemetry/infrastructure/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedAggregates(t *testing.T) *analyticsmemory.AggregateRepository {
	t.Helper()
	repo := analyticsmemory.NewAggregateRepository()
	ctx := context.Background()
	records := []rolling.Record{
		{VehicleID: 1, Window: rolling.WindowFast, RecordedAt: t0.Add(time.Second), Values: rolling.Result{telemetry.FieldRPM: 4000, telemetry.FieldSpeed: 120}},
		{VehicleID: 1, Window: rolling.WindowFast, RecordedAt: t0.Add(2 * time.Second), Values: rolling.Result{telemetry.FieldRPM: 3000}},
		{VehicleID: 2, Window: rolling.WindowFast, RecordedAt: t0.Add(3 * time.Second), Values: rolling.Result{telemetry.FieldRPM: 900}},
		{VehicleID: 1, Window: rolling.WindowSlow, RecordedAt: t0.Add(10 * time.Second), Values: rolling.Result{telemetry.FieldCoolantTemp: 95}},
	}
	for _, record := range records {
		if err := repo.InsertAggregate(ctx, record); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return repo
}

func TestAggregatesHandler(t *testing.T) {
	handler := NewAggregatesHandler(seedAggregates(t), 1, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/aggregates?window=fast&limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rows []aggregateRow
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows for vehicle 1, got %d", len(rows))
	}
	if rows[0].Values["rpm"] != 3000 {
		t.Fatalf("expected newest first, got %+v", rows[0])
	}
	if _, ok := rows[0].Values["speed"]; ok {
		t.Fatalf("omitted mean must stay omitted")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/aggregates?window=slow", nil))
	rows = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &rows)
	if len(rows) != 1 || rows[0].Values["coolant_temp"] != 95 {
		t.Fatalf("unexpected slow rows %+v", rows)
	}
}

func TestAggregatesHandlerValidation(t *testing.T) {
	handler := NewAggregatesHandler(seedAggregates(t), 1, nil)
	for _, target := range []string{
		"/api/v1/aggregates?window=hourly",
		"/api/v1/aggregates?vehicle_id=abc",
		"/api/v1/aggregates?limit=0",
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestAggregatesHandlerVehicleScope(t *testing.T) {
	handler := NewAggregatesHandler(seedAggregates(t), 1, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/aggregates?vehicle_id=2", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), 1, auth.RoleViewer, "viewer"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

type failingQuery struct{}

func (failingQuery) ListAggregates(context.Context, rolling.Window, int64, int) ([]rolling.Record, error) {
	return nil, errors.New("db down")
}

func TestAggregatesHandlerQueryError(t *testing.T) {
	rec := httptest.NewRecorder()
	NewAggregatesHandler(failingQuery{}, 1, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/aggregates", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestLogsSinceHandler(t *testing.T) {
	repo := telemetrymemory.NewLogRepository()
	ctx := context.Background()
	first := telemetry.LogEntry{VehicleID: 1, CapturedAt: t0.Add(250 * time.Millisecond), Speed: telemetry.Reading{Value: 50, Present: true}}
	second := telemetry.LogEntry{VehicleID: 1, CapturedAt: t0.Add(5*time.Second + 125*time.Millisecond), RPM: telemetry.Reading{Value: 2100, Present: true}}
	for _, entry := range []telemetry.LogEntry{first, second} {
		if err := repo.InsertLog(ctx, entry); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	handler := NewLogsSinceHandler(repo, 0, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs/since?timestamp=0", nil))
	var resp logsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Logs) != 2 {
		t.Fatalf("expected 2 logs, got %+v", resp)
	}
	if resp.Logs[0].Speed == nil || *resp.Logs[0].Speed != 50 || resp.Logs[0].RPM != nil {
		t.Fatalf("unexpected first log %+v", resp.Logs[0])
	}
	if resp.Timestamp != resp.Logs[1].Timestamp {
		t.Fatalf("expected timestamp of newest log, got %v", resp.Timestamp)
	}

	// echoing the returned timestamp yields nothing new
	rec = httptest.NewRecorder()
	target := "/api/logs/since?timestamp=" + formatFloat(resp.Timestamp)
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var next logsResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &next)
	if next.Count != 0 || next.Timestamp != resp.Timestamp {
		t.Fatalf("expected empty follow-up, got %+v", next)
	}
	if next.Logs == nil {
		t.Fatalf("logs must encode as an empty list")
	}
}

func TestLogsSinceHandlerRejectsBadTimestamp(t *testing.T) {
	rec := httptest.NewRecorder()
	NewLogsSinceHandler(telemetrymemory.NewLogRepository(), 0, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs/since?timestamp=yesterday", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type fixedCounter int

func (c fixedCounter) Len() int { return int(c) }

func TestHealthHandler(t *testing.T) {
	frame := telemetry.NewLatestFrame()
	handler := NewHealthHandler(frame, fixedCounter(2), fixedCounter(1))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	var resp healthResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "ok" || resp.SourceConnected || resp.Subscribers != 3 {
		t.Fatalf("unexpected health %+v", resp)
	}

	frame.Merge([]telemetry.Pair{{Key: "RPM", Value: "800"}}, t0)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.SourceConnected {
		t.Fatalf("expected source connected after data")
	}
}

func TestExportCSV(t *testing.T) {
	handler, err := NewExportAggregatesHandler(seedAggregates(t), FormatCSV, 1, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/aggregates.csv?window=fast", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "aggregates_fast_1.csv") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "id,vehicle_id,recorded_at,mean_rpm,mean_speed" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][3] != "3000" || rows[1][4] != "" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
}

func TestExportXLSX(t *testing.T) {
	handler, err := NewExportAggregatesHandler(seedAggregates(t), FormatXLSX, 1, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/aggregates.xlsx?window=slow", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	value, err := f.GetCellValue("records", "D2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if value != "95" {
		t.Fatalf("expected coolant mean 95, got %q", value)
	}
}

func TestExportPDF(t *testing.T) {
	handler, err := NewExportAggregatesHandler(seedAggregates(t), FormatPDF, 1, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/aggregates.pdf", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected pdf body")
	}
}

func TestNewExportRejectsFormat(t *testing.T) {
	if _, err := NewExportAggregatesHandler(nil, "docx", 1, nil); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestExportLogsRequestingSubject(t *testing.T) {
	var logs bytes.Buffer
	handler, err := NewExportAggregatesHandler(seedAggregates(t), FormatCSV, 1, log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/aggregates.csv?window=fast", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), 1, auth.RoleViewer, "fleet-report"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(logs.String(), `subject="fleet-report"`) {
		t.Fatalf("expected subject in export log, got %q", logs.String())
	}
}
