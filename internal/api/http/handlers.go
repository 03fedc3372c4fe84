package apihttp

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"vehicle-telemetry/internal/analytics/domain/rolling"
	"vehicle-telemetry/internal/auth"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

const (
	timeLayout      = time.RFC3339
	defaultLimit    = 100
	maxLimit        = 10000
	defaultLogLimit = 1000
)

// AggregatesHandler serves stored window means.
type AggregatesHandler struct {
	query            rolling.AggregateQuery
	defaultVehicleID int64
	logger           *log.Logger
}

// NewAggregatesHandler constructs an AggregatesHandler.
func NewAggregatesHandler(query rolling.AggregateQuery, defaultVehicleID int64, logger *log.Logger) *AggregatesHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &AggregatesHandler{query: query, defaultVehicleID: defaultVehicleID, logger: logger}
}

// ServeHTTP handles GET /api/v1/aggregates.
func (h *AggregatesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.query == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	params, err := parseAggregateParams(r, h.defaultVehicleID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := auth.EnsureVehicle(r.Context(), params.vehicleID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	records, err := h.query.ListAggregates(r.Context(), params.window, params.vehicleID, params.limit)
	if err != nil {
		h.logger.Printf("api: list aggregates error: %v", err)
		http.Error(w, "query aggregates error", http.StatusInternalServerError)
		return
	}

	rows := make([]aggregateRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, newAggregateRow(record))
	}
	writeJSON(w, http.StatusOK, rows)
}

// LogsSinceHandler serves raw log rows captured after a unix timestamp.
type LogsSinceHandler struct {
	query  telemetry.LogQuery
	limit  int
	logger *log.Logger
}

// NewLogsSinceHandler constructs a LogsSinceHandler.
func NewLogsSinceHandler(query telemetry.LogQuery, limit int, logger *log.Logger) *LogsSinceHandler {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if logger == nil {
		logger = log.Default()
	}
	return &LogsSinceHandler{query: query, limit: limit, logger: logger}
}

// ServeHTTP handles GET /api/logs/since?timestamp=T. The response timestamp
// is the newest returned capture time, or T when nothing is new, so it can
// be passed back unchanged on the next call.
func (h *LogsSinceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.query == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	since := 0.0
	if raw := r.URL.Query().Get("timestamp"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			http.Error(w, "timestamp must be unix seconds", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	entries, err := h.query.ListLogsSince(r.Context(), unixSeconds(since), h.limit)
	if err != nil {
		h.logger.Printf("api: list logs error: %v", err)
		http.Error(w, "query logs error", http.StatusInternalServerError)
		return
	}

	rows := make([]logRow, 0, len(entries))
	latest := since
	for _, entry := range entries {
		row := newLogRow(entry)
		if row.Timestamp > latest {
			latest = row.Timestamp
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, logsResponse{Logs: rows, Timestamp: latest, Count: len(rows)})
}

// SubscriberCounter reports how many live subscribers are attached.
type SubscriberCounter interface {
	Len() int
}

// HealthHandler reports process and sensor state.
type HealthHandler struct {
	frame       *telemetry.LatestFrame
	subscribers []SubscriberCounter
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(frame *telemetry.LatestFrame, subscribers ...SubscriberCounter) *HealthHandler {
	return &HealthHandler{frame: frame, subscribers: subscribers}
}

// ServeHTTP handles GET /api/health.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	total := 0
	for _, counter := range h.subscribers {
		if counter != nil {
			total += counter.Len()
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		SourceConnected: h.frame.Connected(),
		Subscribers:     total,
	})
}

type aggregateRow struct {
	ID         int64              `json:"id"`
	VehicleID  int64              `json:"vehicle_id"`
	Window     string             `json:"window"`
	RecordedAt time.Time          `json:"recorded_at"`
	Values     map[string]float64 `json:"values"`
}

func newAggregateRow(record rolling.Record) aggregateRow {
	values := make(map[string]float64, len(record.Values))
	for field, mean := range record.Values {
		values[field.String()] = mean
	}
	return aggregateRow{
		ID:         record.ID,
		VehicleID:  record.VehicleID,
		Window:     string(record.Window),
		RecordedAt: record.RecordedAt.UTC(),
		Values:     values,
	}
}

type logRow struct {
	ID           int64    `json:"id"`
	VehicleID    int64    `json:"vehicle_id"`
	Timestamp    float64  `json:"timestamp"`
	Speed        *float64 `json:"speed"`
	RPM          *float64 `json:"rpm"`
	CoolantTemp  *float64 `json:"coolant_temp"`
	FuelLevel    *float64 `json:"fuel_level"`
	GPSLatitude  *float64 `json:"gps_latitude"`
	GPSLongitude *float64 `json:"gps_longitude"`
}

func newLogRow(entry telemetry.LogEntry) logRow {
	return logRow{
		ID:           entry.ID,
		VehicleID:    entry.VehicleID,
		Timestamp:    float64(entry.CapturedAt.UnixMilli()) / 1000,
		Speed:        readingPtr(entry.Speed),
		RPM:          readingPtr(entry.RPM),
		CoolantTemp:  readingPtr(entry.CoolantTemp),
		FuelLevel:    readingPtr(entry.FuelLevel),
		GPSLatitude:  readingPtr(entry.GPSLatitude),
		GPSLongitude: readingPtr(entry.GPSLongitude),
	}
}

type logsResponse struct {
	Logs      []logRow `json:"logs"`
	Timestamp float64  `json:"timestamp"`
	Count     int      `json:"count"`
}

type healthResponse struct {
	Status          string `json:"status"`
	SourceConnected bool   `json:"source_connected"`
	Subscribers     int    `json:"subscribers"`
}

type aggregateParams struct {
	window    rolling.Window
	vehicleID int64
	limit     int
}

func parseAggregateParams(r *http.Request, defaultVehicleID int64) (aggregateParams, error) {
	query := r.URL.Query()
	params := aggregateParams{window: rolling.WindowFast, vehicleID: defaultVehicleID, limit: defaultLimit}

	if raw := query.Get("window"); raw != "" {
		window, err := rolling.ParseWindow(raw)
		if err != nil {
			return params, errors.New("window must be fast or slow")
		}
		params.window = window
	}
	if raw := query.Get("vehicle_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return params, errors.New("vehicle_id must be a positive integer")
		}
		params.vehicleID = id
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return params, errors.New("limit must be a positive integer")
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		params.limit = limit
	}
	return params, nil
}

// unixSeconds rounds to the millisecond so a timestamp echoed back by a
// client matches the stored capture time exactly.
func unixSeconds(value float64) time.Time {
	return time.UnixMilli(int64(math.Round(value * 1000))).UTC()
}

func readingPtr(reading telemetry.Reading) *float64 {
	if !reading.Present {
		return nil
	}
	value := reading.Value
	return &value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
