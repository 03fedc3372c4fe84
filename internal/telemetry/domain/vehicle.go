package telemetry

// Vehicle owns logs and aggregates.
type Vehicle struct {
	ID    int64
	VIN   string
	Make  string
	Model string
}

// DefaultVehicle is created at startup so rows always have an owner.
var DefaultVehicle = Vehicle{ID: 1, VIN: "DEFAULTVIN0000000", Make: "Unknown", Model: "Unknown"}
