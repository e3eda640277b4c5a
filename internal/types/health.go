package types

import "time"

// HealthState is the coarse result of probing a model provider or the
// exclusion store.
type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateDegraded  HealthState = "degraded"
	HealthStateUnhealthy HealthState = "unhealthy"
)

func (s HealthState) String() string {
	return string(s)
}

// HealthStatus is the outcome of one probe.
type HealthStatus struct {
	State     HealthState   `json:"state"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

func status(state HealthState, message string) HealthStatus {
	return HealthStatus{State: state, Message: message, CheckedAt: time.Now()}
}

// Healthy reports a passing probe.
func Healthy(message string) HealthStatus { return status(HealthStateHealthy, message) }

// Degraded reports a probe that passed only in part.
func Degraded(message string) HealthStatus { return status(HealthStateDegraded, message) }

// Unhealthy reports a failing probe.
func Unhealthy(message string) HealthStatus { return status(HealthStateUnhealthy, message) }

// IsHealthy reports whether the state is healthy.
func (h HealthStatus) IsHealthy() bool {
	return h.State == HealthStateHealthy
}

// Timed runs probe and records its latency on the result.
func Timed(probe func() HealthStatus) HealthStatus {
	start := time.Now()
	h := probe()
	h.Latency = time.Since(start)
	return h
}
