// Package runtime launches and terminates the OS-level realization of a
// service: a local process or a docker container. It reports exits through
// a channel per handle so that crash detection is message passing, never
// shared-state polling.
package runtime

import (
	"context"
	"time"

	"fhirstack/internal/config"
)

// ExitEvent describes the termination of a launched service.
type ExitEvent struct {
	ExitCode int
	Err      error // Non-nil when the exit was abnormal or the code is unknown
}

// Handle is the exclusively-owned reference to one launched service.
// Only the supervisor holds handles; nothing else mutates them.
type Handle interface {
	// ID identifies the underlying process (PID) or container (container ID).
	ID() string

	// Exited is closed once the process or container has terminated.
	// Safe for any number of waiters.
	Exited() <-chan struct{}

	// ExitState reports how the service terminated. Only valid after
	// Exited has been closed.
	ExitState() ExitEvent

	// Stop terminates the service: graceful signal first, forced kill once
	// the grace period expires.
	Stop(ctx context.Context, grace time.Duration) error
}

// Runtime launches service definitions. stackName prefixes container names
// so that a later run can find leftovers from an earlier one.
type Runtime interface {
	Launch(ctx context.Context, spec config.ServiceDefinition, stackName string) (Handle, error)
}

// ContainerStatus is the inspected state of a named container, used by the
// status command when no supervisor is running.
type ContainerStatus struct {
	Exists  bool
	Running bool
	State   string // docker's state string, e.g. "running", "exited"
}

// ContainerManager is the extra surface a container backend exposes for
// reattaching to containers started by a previous run.
type ContainerManager interface {
	// StopNamed stops and removes the named container. A missing container
	// is not an error.
	StopNamed(ctx context.Context, name string, grace time.Duration) error

	// InspectNamed reports the state of the named container.
	InspectNamed(ctx context.Context, name string) (ContainerStatus, error)
}

// ContainerName returns the deterministic container name for a service.
func ContainerName(stackName, serviceName string) string {
	return stackName + "-" + serviceName
}

// ForSpec selects the backend for a service definition.
func ForSpec(spec config.ServiceDefinition) Runtime {
	if spec.IsContainer() {
		return NewDockerRuntime()
	}
	return NewProcessRuntime()
}
