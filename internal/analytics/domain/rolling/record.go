package rolling

import (
	"context"
	"time"

	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

// Record is a committed window result as handed to storage.
type Record struct {
	ID         int64
	VehicleID  int64
	Window     Window
	RecordedAt time.Time
	Values     Result
}

// Validate ensures the record can be stored.
func (r Record) Validate() error {
	if r.VehicleID <= 0 || r.RecordedAt.IsZero() {
		return ErrInvalidRecord
	}
	if _, err := ParseWindow(string(r.Window)); err != nil {
		return err
	}
	return nil
}

// Column returns the storage column of a field mean, e.g. mean_rpm.
func Column(field telemetry.Field) string {
	return "mean_" + string(field)
}

// AggregateRepository stores committed window results.
type AggregateRepository interface {
	InsertAggregate(ctx context.Context, record Record) error
}

// AggregateQuery reads the most recent records of a window.
type AggregateQuery interface {
	ListAggregates(ctx context.Context, window Window, vehicleID int64, limit int) ([]Record, error)
}

// Row returns the stored values of the window's field group in FieldsFor
// order. Omitted means become missing, or nil (NULL) when missing is nil.
func (r Record) Row(missing *float64) ([]any, error) {
	fields, err := FieldsFor(r.Window)
	if err != nil {
		return nil, err
	}
	row := make([]any, 0, len(fields))
	for _, field := range fields {
		if value, ok := r.Values[field]; ok {
			row = append(row, value)
			continue
		}
		if missing == nil {
			row = append(row, nil)
			continue
		}
		row = append(row, *missing)
	}
	return row, nil
}

// Columns returns the storage columns of a window's field group.
func Columns(window Window) ([]string, error) {
	fields, err := FieldsFor(window)
	if err != nil {
		return nil, err
	}
	columns := make([]string, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, Column(field))
	}
	return columns, nil
}

// Table returns the storage table of a window, e.g. aggregates_fast.
func Table(window Window) string {
	return "aggregates_" + string(window)
}
