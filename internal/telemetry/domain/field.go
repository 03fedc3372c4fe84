package telemetry

import "strings"

// Field identifies one of the typed sensor readings carried by a Sample.
type Field string

const (
	FieldRPM         Field = "rpm"
	FieldSpeed       Field = "speed"
	FieldCoolantTemp Field = "coolant_temp"
	FieldOilTemp     Field = "oil_temp"
	FieldFuelLevel   Field = "fuel_level"
	FieldVoltage     Field = "voltage"
	FieldBoost       Field = "boost"
	FieldOilPressure Field = "oil_pressure"
)

// Fields lists every typed field in storage column order.
var Fields = []Field{
	FieldRPM,
	FieldSpeed,
	FieldCoolantTemp,
	FieldOilTemp,
	FieldFuelLevel,
	FieldVoltage,
	FieldBoost,
	FieldOilPressure,
}

// wireKeys maps upper-cased wire keys (and their aliases) to typed fields.
var wireKeys = map[string]Field{
	"RPM":          FieldRPM,
	"SPEED":        FieldSpeed,
	"COOLANT":      FieldCoolantTemp,
	"COOLANT_TEMP": FieldCoolantTemp,
	"OIL_TEMP":     FieldOilTemp,
	"OILTEMP":      FieldOilTemp,
	"FUEL":         FieldFuelLevel,
	"FUEL_LEVEL":   FieldFuelLevel,
	"VOLTAGE":      FieldVoltage,
	"VOLT":         FieldVoltage,
	"BATTERY":      FieldVoltage,
	"BOOST":        FieldBoost,
	"OIL_PRESSURE": FieldOilPressure,
	"OIL_PRESS":    FieldOilPressure,
	"OILPRESS":     FieldOilPressure,
}

// FieldForKey resolves a wire key to its typed field. Unknown keys report false
// and stay in the frame's auxiliary values only.
func FieldForKey(key string) (Field, bool) {
	field, ok := wireKeys[strings.ToUpper(strings.TrimSpace(key))]
	return field, ok
}

// IsValid checks if the field is one of the typed readings.
func (f Field) IsValid() bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

// String returns the storage name of the field.
func (f Field) String() string { return string(f) }
