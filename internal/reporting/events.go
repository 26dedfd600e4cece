// Package reporting collects service lifecycle and health updates into a
// state store and logs the transitions. The state store backs the final
// per-service report of up and the status snapshots of the watch dashboard.
package reporting

import (
	"time"
)

// CauseLifecycle and friends identify what produced an update.
const (
	CauseLifecycle   = "lifecycle"
	CauseHealthCheck = "health_check"
	CauseTeardown    = "teardown"
)

// ServiceUpdate is one observed change for one service.
type ServiceUpdate struct {
	Timestamp   time.Time
	Name        string
	State       string // supervisor instance state, e.g. "Running"
	Health      string // health record status, e.g. "Healthy"
	Restarts    int
	InstanceID  string // PID or container ID, if launched
	CausedBy    string
	ErrorDetail error
}

// ServiceReporter consumes service updates.
type ServiceReporter interface {
	Report(update ServiceUpdate)

	// GetStateStore exposes the retained latest-per-service state.
	GetStateStore() StateStore
}
