package domain

import "time"

// HealthStatus is the coarse readiness state of one dependency or the whole service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the outcome of probing a single dependency.
type SystemHealthCheck struct {
	Status    HealthStatus  `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// SystemHealthReport aggregates dependency checks for /readyz.
type SystemHealthReport struct {
	Status      HealthStatus                 `json:"status"`
	Checks      map[string]SystemHealthCheck `json:"checks"`
	GeneratedAt time.Time                    `json:"generatedAt"`
}
