// Package orchestrator composes the registry, scheduler, supervisor and
// health monitor into the end-to-end lifecycle operations behind the up,
// down and status commands. One orchestrator instance owns one deployment;
// there is no process-wide state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fhirstack/internal/config"
	"fhirstack/internal/health"
	"fhirstack/internal/registry"
	"fhirstack/internal/reporting"
	"fhirstack/internal/scheduler"
	"fhirstack/internal/supervisor"
	"fhirstack/pkg/logging"
)

// Orchestrator drives the lifecycle of the whole topology.
type Orchestrator struct {
	cfg      config.StackConfig
	registry *registry.Registry
	sup      *supervisor.Supervisor
	monitor  *health.Monitor
	reporter reporting.ServiceReporter

	topo scheduler.Topology

	ctx        context.Context
	cancelFunc context.CancelFunc

	pumpOnce sync.Once
	quit     chan struct{}

	mu          sync.RWMutex
	subscribers []chan<- StateChangedEvent
}

// StateChangedEvent is fanned out to subscribers on every lifecycle or
// health transition. States are strings so that subscribers (the watch
// dashboard) need no dependency on the supervisor or health packages.
type StateChangedEvent struct {
	Name     string
	OldState string
	NewState string
	Health   string
	Err      error
}

// New creates an orchestrator for a validated registry. It starts nothing;
// call Up to bring the topology up.
func New(cfg config.StackConfig, reg *registry.Registry, reporter reporting.ServiceReporter) *Orchestrator {
	if reporter == nil {
		reporter = reporting.NewConsoleReporter()
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: reg,
		sup:      supervisor.New(cfg.Stack.Name, cfg.Stack.StopGracePeriod),
		monitor:  health.NewMonitor(),
		reporter: reporter,
		quit:     make(chan struct{}),
	}
}

// Close releases the event pump. Call after the final Down.
func (o *Orchestrator) Close() {
	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	select {
	case <-o.quit:
	default:
		close(o.quit)
	}
}

// Supervisor exposes the supervisor for tests and the watch dashboard.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.sup
}

// Up brings the whole topology up in dependency order: each service starts
// only after its dependency set reports healthy, and the run fails if that
// gate times out. On any failure the services that did start are torn down
// again so no partial topology is left behind. The per-service outcome is
// reported regardless of success.
func (o *Orchestrator) Up(ctx context.Context) (*Report, error) {
	o.ctx, o.cancelFunc = context.WithCancel(ctx)

	o.monitor.SetTransitionCallback(o.handleHealthTransition)
	o.pumpOnce.Do(func() { go o.pumpEvents() })

	topo, err := scheduler.ComputeTopology(o.registry)
	if err != nil {
		return o.report(), err
	}
	o.topo = topo

	logging.Info("Orchestrator", "Starting %d services: %v", topo.Len(), topo.StartupOrder())

	started, err := scheduler.Advance(o.ctx, topo, o.registry, starterAdapter{o}, o.monitor, o.cfg.Stack.ReadyTimeout)
	if err == nil {
		err = o.awaitAllHealthy(started)
	}

	if err != nil {
		logging.Error("Orchestrator", err, "Startup aborted, rolling back %d started services", len(started))
		rollback := o.Down(context.WithoutCancel(ctx))
		if rollbackErr := rollback.Err(); rollbackErr != nil {
			logging.Error("Orchestrator", rollbackErr, "Rollback finished with errors")
		}
		return o.report(), err
	}

	logging.Info("Orchestrator", "All services running and healthy")
	return o.report(), nil
}

// awaitAllHealthy waits for every started service to reach Healthy, so the
// aggregate report reflects a fully observable topology. Dependencies were
// already gated by Advance; this closes the gap for the leaves.
func (o *Orchestrator) awaitAllHealthy(started []string) error {
	for _, name := range started {
		waitCtx, cancel := context.WithTimeout(o.ctx, o.cfg.Stack.ReadyTimeout)
		err := o.monitor.AwaitHealthy(waitCtx, name)
		cancel()
		if err != nil {
			if o.ctx.Err() != nil {
				return o.ctx.Err()
			}
			return fmt.Errorf("service %q did not become healthy: %w", name, err)
		}
	}
	return nil
}

// Down tears the topology down in reverse dependency order. Individual
// stop failures are collected, never fatal: every remaining instance gets
// its stop attempt. A down during an in-flight up cancels its pending
// readiness waits first.
func (o *Orchestrator) Down(ctx context.Context) *Report {
	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	for _, name := range o.shutdownOrder() {
		if _, ok := o.sup.Get(name); !ok {
			continue
		}
		o.monitor.Unwatch(name)
		if err := o.sup.Stop(ctx, name); err != nil {
			logging.Error("Orchestrator", err, "Failed to stop service %s, continuing teardown", name)
			o.reporter.Report(reporting.ServiceUpdate{
				Name:        name,
				State:       string(supervisor.StateFailed),
				CausedBy:    reporting.CauseTeardown,
				ErrorDetail: err,
			})
		}
	}

	return o.report()
}

// shutdownOrder is the reverse dependency order, derived fresh when no Up
// computed a topology in this process.
func (o *Orchestrator) shutdownOrder() []string {
	if o.topo.Len() > 0 {
		return o.topo.ShutdownOrder()
	}
	if topo, err := scheduler.ComputeTopology(o.registry); err == nil {
		return topo.ShutdownOrder()
	}
	return o.registry.Names()
}

// Status returns the current per-service snapshot. Pure read: it touches
// neither processes nor health records.
func (o *Orchestrator) Status() []ServiceStatus {
	statuses := make([]ServiceStatus, 0, o.registry.Len())
	for _, name := range o.registry.Names() {
		st := ServiceStatus{Name: name, State: string(supervisor.StatePending), Health: string(health.StatusUnknown)}
		if snap, ok := o.sup.Get(name); ok {
			st.State = string(snap.State)
			st.Restarts = snap.Restarts
			st.InstanceID = snap.ID
			st.Err = snap.Err
		}
		record := o.monitor.Status(name)
		st.Health = string(record.Status)
		statuses = append(statuses, st)
	}
	return statuses
}

// Subscribe returns a channel receiving every state change event. Slow
// subscribers lose events rather than stalling the orchestration flow.
func (o *Orchestrator) Subscribe() <-chan StateChangedEvent {
	eventChan := make(chan StateChangedEvent, 100)
	o.mu.Lock()
	o.subscribers = append(o.subscribers, eventChan)
	o.mu.Unlock()
	return eventChan
}

// pumpEvents consumes supervisor transitions: it keeps the health monitor
// in step with instance lifecycles, feeds the reporter and fans events out
// to subscribers. It outlives Up's context so that teardown transitions
// are still observed; Close ends it.
func (o *Orchestrator) pumpEvents() {
	for {
		select {
		case <-o.quit:
			return
		case ev := <-o.sup.Events():
			o.handleSupervisorEvent(ev)
		}
	}
}

func (o *Orchestrator) handleSupervisorEvent(ev supervisor.Event) {
	spec, _ := o.registry.Get(ev.Name)

	switch {
	case ev.NewState == supervisor.StateRunning:
		// Monitoring starts only once the OS reports the service alive.
		if err := o.monitor.Watch(o.ctx, ev.Name, spec.HealthCheck); err != nil {
			logging.Error("Orchestrator", err, "Cannot monitor health of %s", ev.Name)
		}
	case ev.OldState == supervisor.StateRunning:
		// Monitoring stops as soon as the instance leaves Running; a
		// restarted instance is watched again on its next Running.
		o.monitor.Unwatch(ev.Name)
	}

	if ev.NewState == supervisor.StateFailed {
		o.monitor.MarkFailed(ev.Name, ev.Err)
	}

	update := reporting.ServiceUpdate{
		Name:        ev.Name,
		State:       string(ev.NewState),
		CausedBy:    reporting.CauseLifecycle,
		ErrorDetail: ev.Err,
	}
	if snap, ok := o.sup.Get(ev.Name); ok {
		update.Restarts = snap.Restarts
		update.InstanceID = snap.ID
	}
	o.reporter.Report(update)

	o.publish(StateChangedEvent{
		Name:     ev.Name,
		OldState: string(ev.OldState),
		NewState: string(ev.NewState),
		Health:   string(o.monitor.Status(ev.Name).Status),
		Err:      ev.Err,
	})
}

// handleHealthTransition reacts to health record changes: reporting,
// subscriber fan-out, and the restart escalation for persistently
// unhealthy always-restart services.
func (o *Orchestrator) handleHealthTransition(name string, oldStatus, newStatus health.Status, err error) {
	state := ""
	if snap, ok := o.sup.Get(name); ok {
		state = string(snap.State)
	}

	o.reporter.Report(reporting.ServiceUpdate{
		Name:        name,
		State:       state,
		Health:      string(newStatus),
		CausedBy:    reporting.CauseHealthCheck,
		ErrorDetail: err,
	})

	o.publish(StateChangedEvent{
		Name:     name,
		OldState: state,
		NewState: state,
		Health:   string(newStatus),
		Err:      err,
	})

	if newStatus == health.StatusUnhealthy {
		spec, ok := o.registry.Get(name)
		if ok && spec.Restart.Mode == config.RestartAlways {
			logging.Warn("Orchestrator", "Service %s is unhealthy, restarting per policy", name)
			go o.restartService(name, spec)
		}
	}
}

// restartService bounces a persistently unhealthy instance.
func (o *Orchestrator) restartService(name string, spec config.ServiceDefinition) {
	if err := o.sup.Stop(o.ctx, name); err != nil {
		logging.Error("Orchestrator", err, "Failed to stop unhealthy service %s", name)
		return
	}
	if err := o.sup.Start(o.ctx, spec); err != nil {
		logging.Error("Orchestrator", err, "Failed to restart unhealthy service %s", name)
	}
}

func (o *Orchestrator) publish(event StateChangedEvent) {
	o.mu.RLock()
	subscribers := make([]chan<- StateChangedEvent, len(o.subscribers))
	copy(subscribers, o.subscribers)
	o.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			logging.Warn("Orchestrator", "Dropped state change event for %s (subscriber channel full)", event.Name)
		}
	}
}

// starterAdapter lets the scheduler start services through the supervisor
// without knowing about specs.
type starterAdapter struct {
	o *Orchestrator
}

func (a starterAdapter) Start(ctx context.Context, name string) error {
	spec, ok := a.o.registry.Get(name)
	if !ok {
		return fmt.Errorf("service %s not found", name)
	}
	return a.o.sup.Start(ctx, spec)
}

// report assembles the aggregate per-service report from the state store
// and the live snapshot.
func (o *Orchestrator) report() *Report {
	r := &Report{}
	for _, st := range o.Status() {
		r.Services = append(r.Services, st)
		if st.Err != nil {
			r.failures = append(r.failures, fmt.Errorf("%s: %w", st.Name, st.Err))
		}
	}
	return r
}

// ServiceStatus is one row of the aggregate report.
type ServiceStatus struct {
	Name       string
	State      string
	Health     string
	Restarts   int
	InstanceID string
	Err        error
}

// Report is the aggregate outcome of an up or down run.
type Report struct {
	Services []ServiceStatus
	failures []error
}

// Err combines the per-service failures, nil when there were none.
func (r *Report) Err() error {
	return errors.Join(r.failures...)
}
