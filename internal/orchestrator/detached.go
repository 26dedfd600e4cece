package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"fhirstack/internal/health"
	"fhirstack/internal/runtime"
	"fhirstack/internal/supervisor"
	"fhirstack/pkg/logging"
)

// The down and status commands run in a fresh process with no live
// instance table. Container-backed services can still be reached through
// their deterministic names; process-backed services only exist underneath
// a foreground up and have nothing to reattach to.

// DownDetached stops the stack's containers by name, in reverse dependency
// order, best effort. Every service gets its stop attempt regardless of
// earlier failures; the failures come back combined.
func (o *Orchestrator) DownDetached(ctx context.Context, containers runtime.ContainerManager) error {
	var failures []error
	for _, name := range o.shutdownOrder() {
		spec, ok := o.registry.Get(name)
		if !ok {
			continue
		}
		if !spec.IsContainer() {
			logging.Debug("Orchestrator", "Service %s is process-backed, nothing to reattach to", name)
			continue
		}
		containerName := runtime.ContainerName(o.cfg.Stack.Name, name)
		if err := containers.StopNamed(ctx, containerName, o.cfg.Stack.StopGracePeriod); err != nil {
			logging.Error("Orchestrator", err, "Failed to stop %s, continuing teardown", containerName)
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
			continue
		}
		logging.Info("Orchestrator", "Stopped %s", containerName)
	}
	return errors.Join(failures...)
}

// InspectDetached builds a status snapshot without a live supervisor:
// container state comes from the runtime, health from running each
// declared probe exactly once.
func (o *Orchestrator) InspectDetached(ctx context.Context, containers runtime.ContainerManager) ([]ServiceStatus, error) {
	statuses := make([]ServiceStatus, 0, o.registry.Len())
	for _, name := range o.registry.Names() {
		spec, _ := o.registry.Get(name)
		st := ServiceStatus{
			Name:   name,
			State:  string(supervisor.StateStopped),
			Health: string(health.StatusUnknown),
		}

		if spec.IsContainer() {
			containerStatus, err := containers.InspectNamed(ctx, runtime.ContainerName(o.cfg.Stack.Name, name))
			if err != nil {
				return nil, fmt.Errorf("failed to inspect %s: %w", name, err)
			}
			switch {
			case !containerStatus.Exists:
				st.State = string(supervisor.StateStopped)
			case containerStatus.Running:
				st.State = string(supervisor.StateRunning)
			default:
				st.State = containerStatus.State
			}
		}

		if spec.HealthCheck.Enabled() && st.State == string(supervisor.StateRunning) {
			probe, err := health.NewProbe(spec.HealthCheck)
			if err != nil {
				return nil, err
			}
			probeCtx, cancel := context.WithTimeout(ctx, spec.HealthCheck.Timeout)
			if probeErr := probe.Check(probeCtx); probeErr != nil {
				st.Health = string(health.StatusUnhealthy)
				st.Err = probeErr
			} else {
				st.Health = string(health.StatusHealthy)
			}
			cancel()
		}

		statuses = append(statuses, st)
	}
	return statuses, nil
}
