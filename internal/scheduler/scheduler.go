// Package scheduler derives the dependency-ordered topology for a run and
// drives health-gated sequential startup. The scheduler never launches
// anything itself; starting and health observation are injected so the
// ordering logic stays independent of the process layer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fhirstack/internal/registry"
	"fhirstack/pkg/logging"
)

// DependencyTimeoutError is returned when a service's dependency set does
// not become healthy within the readiness timeout. It is fatal for the run:
// the orchestrator rolls back whatever was already started.
type DependencyTimeoutError struct {
	Service    string
	Dependency string
	Timeout    time.Duration
}

func (e *DependencyTimeoutError) Error() string {
	return fmt.Sprintf("service %q: dependency %q did not become healthy within %s", e.Service, e.Dependency, e.Timeout)
}

// Topology is an immutable per-run snapshot of the startup order. It is
// recomputed from the registry for every run and never mutated mid-run.
type Topology struct {
	order []string
}

// StartupOrder returns the services in dependency order: every service
// appears after all of its dependencies.
func (t Topology) StartupOrder() []string {
	order := make([]string, len(t.order))
	copy(order, t.order)
	return order
}

// ShutdownOrder returns the reverse of the startup order.
func (t Topology) ShutdownOrder() []string {
	order := make([]string, len(t.order))
	for i, name := range t.order {
		order[len(t.order)-1-i] = name
	}
	return order
}

// Len returns the number of services in the topology.
func (t Topology) Len() int {
	return len(t.order)
}

// ComputeTopology orders the registry's services with Kahn's algorithm.
// Zero-indegree candidates are taken in registry insertion order, which
// makes the result deterministic. The registry is expected to be validated
// already; a cycle that slipped through is still reported rather than
// silently truncating the order.
func ComputeTopology(reg *registry.Registry) (Topology, error) {
	names := reg.Names()
	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))

	for _, name := range names {
		spec, _ := reg.Get(name)
		indegree[name] = len(spec.DependsOn)
		for _, dep := range spec.DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	order := make([]string, 0, len(names))
	remaining := len(names)
	queued := make(map[string]bool, len(names))

	for remaining > 0 {
		selected := ""
		for _, name := range names {
			if !queued[name] && indegree[name] == 0 {
				selected = name
				break
			}
		}
		if selected == "" {
			if err := reg.ValidateAcyclic(); err != nil {
				return Topology{}, err
			}
			return Topology{}, errors.New("dependency order could not be computed")
		}
		queued[selected] = true
		order = append(order, selected)
		remaining--
		for _, dependent := range dependents[selected] {
			indegree[dependent]--
		}
	}

	return Topology{order: order}, nil
}

// Starter launches a single service. Implemented by the supervisor.
type Starter interface {
	Start(ctx context.Context, name string) error
}

// HealthAwaiter blocks until a service reports healthy, the context is
// cancelled, or the service becomes terminally unable to get there.
// Implemented by the health monitor.
type HealthAwaiter interface {
	AwaitHealthy(ctx context.Context, name string) error
}

// Advance drives the sequential startup of a topology. Each service is
// started only after its full dependency set has reported healthy. The
// wait for a service's dependency set is bounded by readyTimeout; on expiry
// Advance returns a DependencyTimeoutError and the names of the services it
// already started, so the caller can tear them down. The context cancels
// all pending waits, allowing a user-initiated down to interrupt an
// in-flight up.
func Advance(ctx context.Context, topo Topology, reg *registry.Registry, starter Starter, health HealthAwaiter, readyTimeout time.Duration) (started []string, err error) {
	for _, name := range topo.order {
		spec, _ := reg.Get(name)

		if len(spec.DependsOn) > 0 {
			// One readiness window covers the whole dependency set of
			// this service.
			waitCtx, cancel := context.WithTimeout(ctx, readyTimeout)
			for _, dep := range spec.DependsOn {
				logging.Debug("Scheduler", "Service %s waiting for dependency %s", name, dep)
				if waitErr := health.AwaitHealthy(waitCtx, dep); waitErr != nil {
					cancel()
					if ctx.Err() != nil {
						return started, ctx.Err()
					}
					if errors.Is(waitErr, context.DeadlineExceeded) {
						return started, &DependencyTimeoutError{Service: name, Dependency: dep, Timeout: readyTimeout}
					}
					return started, fmt.Errorf("service %q: dependency %q cannot become healthy: %w", name, dep, waitErr)
				}
			}
			cancel()
		}

		logging.Debug("Scheduler", "Dependencies satisfied, starting %s", name)
		if startErr := starter.Start(ctx, name); startErr != nil {
			return started, startErr
		}
		started = append(started, name)
	}
	return started, nil
}
