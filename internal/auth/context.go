package auth

import "context"

type contextKey string

const (
	contextKeyVehicle contextKey = "auth.vehicle_id"
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
)

// WithIdentity stores auth identity details in context. A zero vehicle id
// means the token is not scoped to one vehicle.
func WithIdentity(ctx context.Context, vehicleID int64, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyVehicle, vehicleID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// VehicleIDFromContext extracts the vehicle scope from context.
func VehicleIDFromContext(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	if vehicleID, ok := ctx.Value(contextKeyVehicle).(int64); ok {
		return vehicleID
	}
	return 0
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(contextKeySubject).(string); ok {
		return subject
	}
	return ""
}

// EnsureVehicle rejects a request for a vehicle outside the token's scope.
func EnsureVehicle(ctx context.Context, vehicleID int64) error {
	scope := VehicleIDFromContext(ctx)
	if scope == 0 || scope == vehicleID {
		return nil
	}
	return ErrForbidden
}
