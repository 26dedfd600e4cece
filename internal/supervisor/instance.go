package supervisor

import (
	"fmt"
	"time"

	"fhirstack/internal/config"
	"fhirstack/internal/runtime"
)

// InstanceState is the lifecycle state of a launched service.
//
// The transitions are:
//
//	Pending -> Starting -> Running -> Stopping -> Stopped
//	Starting|Running -> Crashed -> Starting (restart policy permitting)
//	Crashed -> Failed (policy exhausted or forbids restart)
//	Starting -> Failed (launch error)
type InstanceState string

const (
	StatePending  InstanceState = "Pending"
	StateStarting InstanceState = "Starting"
	StateRunning  InstanceState = "Running"
	StateStopping InstanceState = "Stopping"
	StateStopped  InstanceState = "Stopped"
	StateCrashed  InstanceState = "Crashed"
	StateFailed   InstanceState = "Failed"
)

// Terminal reports whether no further transition can occur without a new
// explicit start.
func (s InstanceState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// LaunchError is returned when the underlying process or container could
// not be started at all (exec failure, image pull failure). The instance
// moves to Failed.
type LaunchError struct {
	Service string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch service %q: %v", e.Service, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// instance is the runtime entity for one launched spec. It exclusively
// owns its runtime handle; all access goes through the supervisor's lock.
type instance struct {
	spec   config.ServiceDefinition
	state  InstanceState
	handle runtime.Handle
	// gen increments on every (re)launch so exit watchers from a previous
	// launch cannot act on the current one.
	gen       int
	restarts  int
	lastErr   error
	startedAt time.Time
}

// Snapshot is the read-only view of an instance handed to callers.
type Snapshot struct {
	Name      string
	State     InstanceState
	ID        string // PID or container ID; empty when not launched
	Restarts  int
	StartedAt time.Time
	Err       error
}

// Event is emitted on every instance state transition. The orchestrator
// consumes these to drive health monitoring and reporting.
type Event struct {
	Name     string
	OldState InstanceState
	NewState InstanceState
	Err      error
}
