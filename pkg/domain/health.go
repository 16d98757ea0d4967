package domain

// HealthState represents the health of a pipeline component.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthStatus describes the current health of a component together
// with a human-readable message and, for unhealthy components, the
// last error observed.
type HealthStatus struct {
	State   HealthState
	Message string
	Err     error
}

// NewHealthStatus creates a health status with the given state.
func NewHealthStatus(state HealthState, message string) *HealthStatus {
	return &HealthStatus{State: state, Message: message}
}

// NewHealthyStatus creates a healthy status.
func NewHealthyStatus(message string) *HealthStatus {
	return &HealthStatus{State: HealthHealthy, Message: message}
}

// NewUnhealthyStatus creates an unhealthy status carrying the last
// observed error.
func NewUnhealthyStatus(message string, err error) *HealthStatus {
	return &HealthStatus{State: HealthUnhealthy, Message: message, Err: err}
}

// IsHealthy returns true for healthy and degraded components. Degraded
// means the component still delivers events but needs attention.
func (h *HealthStatus) IsHealthy() bool {
	return h.State != HealthUnhealthy
}
