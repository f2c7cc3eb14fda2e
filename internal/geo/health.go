package geo

import (
	"fmt"
	"time"
)

type HealthStatus string

const (
	Healthy  HealthStatus = "healthy"
	Warning  HealthStatus = "warning"
	Critical HealthStatus = "critical"
	Offline  HealthStatus = "offline"
)

// HealthInput is what a component reports about itself.
type HealthInput struct {
	Component string
	// Running is false when the component is disabled or stopped.
	Running bool
	// LastActivity is the last time the component did useful work.
	LastActivity time.Time
	// Operations and Errors give the error rate.
	Operations uint64
	Errors     uint64
	// Liveness is the frame reader state for the receiver ("ok", "stale",
	// "poll"); empty for other components.
	Liveness string
}

type HealthCheck struct {
	Component string       `json:"component"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message"`
}

// Thresholds for Health.
type HealthLimits struct {
	CriticalAfter time.Duration
	CriticalRate  float64
	WarningRate   float64
}

var DefaultHealthLimits = HealthLimits{
	CriticalAfter: 5 * time.Minute,
	CriticalRate:  50,
	WarningRate:   20,
}

// Health classifies one component. Rates are error percentages.
func Health(in HealthInput, limits HealthLimits, now time.Time) HealthCheck {
	out := HealthCheck{Component: in.Component}
	if !in.Running || in.LastActivity.IsZero() {
		out.Status = Offline
		out.Message = "no activity recorded"
		return out
	}
	idle := now.Sub(in.LastActivity)
	if idle > limits.CriticalAfter {
		out.Status = Critical
		out.Message = fmt.Sprintf("no activity for %.0f seconds", idle.Seconds())
		return out
	}
	var rate float64
	if in.Operations > 0 {
		rate = float64(in.Errors) / float64(in.Operations) * 100
	}
	switch {
	case rate >= limits.CriticalRate:
		out.Status = Critical
		out.Message = fmt.Sprintf("error rate %.1f%%", rate)
	case rate >= limits.WarningRate:
		out.Status = Warning
		out.Message = fmt.Sprintf("error rate %.1f%%", rate)
	case in.Liveness == "stale" || in.Liveness == "poll":
		out.Status = Warning
		out.Message = fmt.Sprintf("data stale for %.0f seconds", idle.Seconds())
	default:
		out.Status = Healthy
		out.Message = "operating normally"
	}
	return out
}

// Overall folds component checks: any critical is critical, any warning or
// offline component is a warning.
func Overall(checks []HealthCheck) HealthStatus {
	if len(checks) == 0 {
		return Offline
	}
	status := Healthy
	for _, c := range checks {
		switch c.Status {
		case Critical:
			return Critical
		case Warning, Offline:
			status = Warning
		}
	}
	return status
}
