package telemetry

import (
	"context"
	"time"
)

// LogEntry is one raw log row captured from the latest frame.
type LogEntry struct {
	ID           int64
	VehicleID    int64
	CapturedAt   time.Time
	Speed        Reading
	RPM          Reading
	CoolantTemp  Reading
	FuelLevel    Reading
	GPSLatitude  Reading
	GPSLongitude Reading
}

// LogEntryFromFrame builds a log row from a frame snapshot. The capture time
// is kept to millisecond precision, the resolution every backend stores.
func LogEntryFromFrame(vehicleID int64, frame Frame, at time.Time) LogEntry {
	entry := LogEntry{VehicleID: vehicleID, CapturedAt: at.UTC().Truncate(time.Millisecond)}
	for key, raw := range frame.Values {
		switch key {
		case "LAT", "GPS_LAT", "LATITUDE":
			entry.GPSLatitude = ParseReading(raw)
			continue
		case "LON", "LNG", "GPS_LON", "LONGITUDE":
			entry.GPSLongitude = ParseReading(raw)
			continue
		}
		field, ok := FieldForKey(key)
		if !ok {
			continue
		}
		reading := ParseReading(raw)
		if !reading.Present {
			continue
		}
		switch field {
		case FieldSpeed:
			entry.Speed = reading
		case FieldRPM:
			entry.RPM = reading
		case FieldCoolantTemp:
			entry.CoolantTemp = reading
		case FieldFuelLevel:
			entry.FuelLevel = reading
		}
	}
	return entry
}

// LogRepository persists raw log rows.
type LogRepository interface {
	InsertLog(ctx context.Context, entry LogEntry) error
}

// LogQuery reads raw log rows captured strictly after a point in time.
type LogQuery interface {
	ListLogsSince(ctx context.Context, since time.Time, limit int) ([]LogEntry, error)
}

// Validate ensures the row can be stored.
func (e LogEntry) Validate() error {
	if e.VehicleID <= 0 || e.CapturedAt.IsZero() {
		return ErrInvalidLogEntry
	}
	return nil
}
