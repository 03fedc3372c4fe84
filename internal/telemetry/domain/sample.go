package telemetry

import "time"

// Reading is a numeric sensor value that may be absent. An absent reading is
// never the same as a reported zero.
type Reading struct {
	Value   float64
	Present bool
}

// Absent is the zero Reading.
var Absent = Reading{}

// Present wraps a reported value.
func Present(value float64) Reading {
	return Reading{Value: value, Present: true}
}

// Sample is one immutable capture of all typed readings at a point in time.
type Sample struct {
	At time.Time

	RPM         Reading
	Speed       Reading
	CoolantTemp Reading
	OilTemp     Reading
	FuelLevel   Reading
	Voltage     Reading
	Boost       Reading
	OilPressure Reading
}

// Get returns the reading for a field; unknown fields are absent.
func (s Sample) Get(field Field) Reading {
	switch field {
	case FieldRPM:
		return s.RPM
	case FieldSpeed:
		return s.Speed
	case FieldCoolantTemp:
		return s.CoolantTemp
	case FieldOilTemp:
		return s.OilTemp
	case FieldFuelLevel:
		return s.FuelLevel
	case FieldVoltage:
		return s.Voltage
	case FieldBoost:
		return s.Boost
	case FieldOilPressure:
		return s.OilPressure
	default:
		return Absent
	}
}

// set is used only while a Sample is being built.
func (s *Sample) set(field Field, reading Reading) {
	switch field {
	case FieldRPM:
		s.RPM = reading
	case FieldSpeed:
		s.Speed = reading
	case FieldCoolantTemp:
		s.CoolantTemp = reading
	case FieldOilTemp:
		s.OilTemp = reading
	case FieldFuelLevel:
		s.FuelLevel = reading
	case FieldVoltage:
		s.Voltage = reading
	case FieldBoost:
		s.Boost = reading
	case FieldOilPressure:
		s.OilPressure = reading
	}
}

// NewSample builds a Sample from typed readings. Fields missing from the map
// are absent.
func NewSample(at time.Time, readings map[Field]Reading) Sample {
	sample := Sample{At: at}
	for field, reading := range readings {
		sample.set(field, reading)
	}
	return sample
}
