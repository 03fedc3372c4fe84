package apihttp

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"vehicle-telemetry/internal/analytics/domain/rolling"
	"vehicle-telemetry/internal/auth"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// ExportAggregatesHandler serves stored aggregates as a downloadable file.
type ExportAggregatesHandler struct {
	query            rolling.AggregateQuery
	format           string
	defaultVehicleID int64
	now              func() time.Time
	logger           *log.Logger
}

// NewExportAggregatesHandler constructs a handler for one export format.
func NewExportAggregatesHandler(query rolling.AggregateQuery, format string, defaultVehicleID int64, logger *log.Logger) (*ExportAggregatesHandler, error) {
	switch format {
	case FormatCSV, FormatXLSX, FormatPDF:
	default:
		return nil, fmt.Errorf("export: unsupported format %q", format)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ExportAggregatesHandler{
		query:            query,
		format:           format,
		defaultVehicleID: defaultVehicleID,
		now:              time.Now,
		logger:           logger,
	}, nil
}

// ServeHTTP handles GET /api/v1/exports/aggregates.{csv,xlsx,pdf}.
func (h *ExportAggregatesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
		h.logger.Printf("api: export aggregates error: %v", err)
		http.Error(w, "query aggregates error", http.StatusInternalServerError)
		return
	}

	fields, err := rolling.FieldsFor(params.window)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report := AggregateReport{
		Window:      params.window,
		VehicleID:   params.vehicleID,
		Fields:      fields,
		Records:     records,
		GeneratedAt: h.now().UTC(),
	}

	var (
		body        []byte
		contentType string
	)
	switch h.format {
	case FormatCSV:
		body, err = BuildAggregatesCSV(report)
		contentType = "text/csv; charset=utf-8"
	case FormatXLSX:
		body, err = BuildAggregatesXLSX(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		body, err = BuildAggregatesPDF(report)
		contentType = "application/pdf"
	}
	if err != nil {
		h.logger.Printf("api: render %s export error: %v", h.format, err)
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("aggregates_%s_%d.%s", params.window, params.vehicleID, h.format)
	h.logger.Printf("api: export %s generated: records=%d subject=%q", filename, len(records), auth.SubjectFromContext(r.Context()))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(body)
}

// AggregateReport is the input of the export renderers.
type AggregateReport struct {
	Window      rolling.Window
	VehicleID   int64
	Fields      []telemetry.Field
	Records     []rolling.Record
	GeneratedAt time.Time
}

func (r AggregateReport) header() []string {
	header := []string{"id", "vehicle_id", "recorded_at"}
	for _, field := range r.Fields {
		header = append(header, rolling.Column(field))
	}
	return header
}

// BuildAggregatesCSV renders records as CSV. Omitted means are empty cells.
func BuildAggregatesCSV(report AggregateReport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.Write(report.header())
	for _, record := range report.Records {
		row := []string{
			fmt.Sprintf("%d", record.ID),
			fmt.Sprintf("%d", record.VehicleID),
			formatTime(record.RecordedAt),
		}
		for _, field := range report.Fields {
			if mean, ok := record.Values[field]; ok {
				row = append(row, formatFloat(mean))
			} else {
				row = append(row, "")
			}
		}
		_ = writer.Write(row)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAggregatesXLSX renders a summary sheet and a records sheet.
func BuildAggregatesXLSX(report AggregateReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	summarySheet := "summary"
	recordsSheet := "records"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(recordsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Vehicle Aggregates")
	_ = f.SetCellValue(summarySheet, "A3", "Vehicle")
	_ = f.SetCellValue(summarySheet, "B3", report.VehicleID)
	_ = f.SetCellValue(summarySheet, "A4", "Window")
	_ = f.SetCellValue(summarySheet, "B4", string(report.Window))
	_ = f.SetCellValue(summarySheet, "A5", "Records")
	_ = f.SetCellValue(summarySheet, "B5", len(report.Records))
	_ = f.SetCellValue(summarySheet, "A6", "Generated")
	_ = f.SetCellValue(summarySheet, "B6", formatTime(report.GeneratedAt))

	for col, name := range report.header() {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(recordsSheet, cell, name)
	}
	for i, record := range report.Records {
		row := i + 2
		values := []any{record.ID, record.VehicleID, formatTime(record.RecordedAt)}
		for _, field := range report.Fields {
			if mean, ok := record.Values[field]; ok {
				values = append(values, mean)
			} else {
				values = append(values, nil)
			}
		}
		for col, value := range values {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(recordsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAggregatesPDF renders a minimal tabular report.
func BuildAggregatesPDF(report AggregateReport) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Vehicle Aggregates")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Vehicle: %d", report.VehicleID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s", report.Window))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	widths := []float64{45}
	header := []string{"Recorded"}
	for _, field := range report.Fields {
		widths = append(widths, 35)
		header = append(header, strings.ReplaceAll(field.String(), "_", " "))
	}

	pdf.SetFont("Arial", "B", 9)
	for i, title := range header {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, record := range report.Records {
		pdf.CellFormat(widths[0], 6, record.RecordedAt.UTC().Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		for i, field := range report.Fields {
			text := "-"
			if mean, ok := record.Values[field]; ok {
				text = fmt.Sprintf("%.2f", mean)
			}
			pdf.CellFormat(widths[i+1], 6, text, "1", 0, "R", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
