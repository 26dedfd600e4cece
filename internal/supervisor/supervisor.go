// Package supervisor owns the runtime instances of all managed services:
// it launches them, watches their exits, restarts crashes per policy and
// performs graceful-then-forced stops. The instance table lives behind a
// single lock so that OS exit notifications and orchestrator-driven stops
// cannot race.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fhirstack/internal/config"
	"fhirstack/internal/runtime"
	"fhirstack/pkg/logging"
)

const eventBufferSize = 256

// RuntimeFor selects the launch backend for a service definition.
// Overridable in tests.
type RuntimeFor func(spec config.ServiceDefinition) runtime.Runtime

// Supervisor manages the instance table. One supervisor serves one run;
// it holds no state beyond the live instances.
type Supervisor struct {
	stackName  string
	stopGrace  time.Duration
	runtimeFor RuntimeFor

	mu        sync.Mutex
	instances map[string]*instance
	events    chan Event
	notify    chan struct{}
	queue     []Event // pending events, guarded by mu
}

// New creates a supervisor for the given stack.
func New(stackName string, stopGrace time.Duration) *Supervisor {
	s := &Supervisor{
		stackName:  stackName,
		stopGrace:  stopGrace,
		runtimeFor: runtime.ForSpec,
		instances:  make(map[string]*instance),
		events:     make(chan Event, eventBufferSize),
		notify:     make(chan struct{}, 1),
	}
	go s.dispatchEvents()
	return s
}

// SetRuntimeFor replaces the backend selector. Only used by tests.
func (s *Supervisor) SetRuntimeFor(fn RuntimeFor) {
	s.runtimeFor = fn
}

// Events returns the stream of instance state transitions.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Start launches a service. The instance transitions Pending -> Starting ->
// Running once the OS reports it alive; health is the monitor's concern,
// not the supervisor's. A launch failure returns a LaunchError and leaves
// the instance Failed.
func (s *Supervisor) Start(ctx context.Context, spec config.ServiceDefinition) error {
	s.mu.Lock()
	if existing, ok := s.instances[spec.Name]; ok && !existing.state.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("service %s is already running", spec.Name)
	}
	inst := &instance{spec: spec, state: StatePending}
	s.instances[spec.Name] = inst
	s.setState(inst, StateStarting, nil)
	s.mu.Unlock()

	return s.launch(ctx, inst)
}

// launch runs the backend launch for an instance already in Starting.
func (s *Supervisor) launch(ctx context.Context, inst *instance) error {
	handle, err := s.runtimeFor(inst.spec).Launch(ctx, inst.spec, s.stackName)

	s.mu.Lock()
	defer s.mu.Unlock()

	if inst.state != StateStarting {
		// Stopped while the launch was in flight; tear the orphan down.
		s.mu.Unlock()
		if handle != nil {
			_ = handle.Stop(ctx, s.stopGrace)
		}
		s.mu.Lock()
		return nil
	}

	if err != nil {
		launchErr := &LaunchError{Service: inst.spec.Name, Err: err}
		s.setState(inst, StateFailed, launchErr)
		return launchErr
	}

	inst.handle = handle
	inst.gen++
	inst.startedAt = time.Now()
	s.setState(inst, StateRunning, nil)

	gen := inst.gen
	go func() {
		<-handle.Exited()
		s.onExit(ctx, inst.spec.Name, gen, handle.ExitState())
	}()

	return nil
}

// onExit handles an exit notification from the runtime layer. Deliberate
// stops are finalized by Stop itself; everything else is a crash, restarted
// with exponential backoff when the policy permits, terminal Failed when
// it does not.
func (s *Supervisor) onExit(ctx context.Context, name string, gen int, exit runtime.ExitEvent) {
	s.mu.Lock()

	inst, ok := s.instances[name]
	if !ok || inst.gen != gen {
		s.mu.Unlock()
		return // Stale watcher from an earlier launch
	}
	if inst.state == StateStopping || inst.state.Terminal() {
		s.mu.Unlock()
		return // Deliberate stop in progress
	}

	inst.handle = nil
	logging.Warn("Supervisor", "Service %s exited unexpectedly (code %d)", name, exit.ExitCode)
	s.setState(inst, StateCrashed, exit.Err)

	policy := inst.spec.Restart
	restartable := policy.Mode == config.RestartAlways ||
		(policy.Mode == config.RestartOnFailure && exit.ExitCode != 0)
	if restartable && policy.MaxAttempts > 0 && inst.restarts >= policy.MaxAttempts {
		restartable = false
	}
	if !restartable || ctx.Err() != nil {
		err := exit.Err
		if err == nil {
			err = fmt.Errorf("service %s exited with code %d", name, exit.ExitCode)
		}
		s.setState(inst, StateFailed, err)
		s.mu.Unlock()
		return
	}

	inst.restarts++
	attempt := inst.restarts
	delay := backoffDelay(policy.BackoffBase, policy.BackoffCap, attempt)
	crashGen := inst.gen
	s.mu.Unlock()

	logging.Info("Supervisor", "Restarting %s in %s (attempt %d)", name, delay, attempt)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		inst, ok := s.instances[name]
		if !ok || inst.gen != crashGen || inst.state != StateCrashed {
			s.mu.Unlock()
			return // Stopped or superseded while backing off
		}
		s.setState(inst, StateStarting, nil)
		s.mu.Unlock()

		if err := s.launch(ctx, inst); err != nil {
			logging.Error("Supervisor", err, "Restart of %s failed", name)
		}
	}()
}

// Stop terminates an instance: graceful signal, forced kill after the
// grace period. Safe to call on crashed or already-stopped instances; a
// pending restart is cancelled.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	inst, ok := s.instances[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("service %s not found", name)
	}
	if inst.state.Terminal() {
		s.mu.Unlock()
		return nil
	}

	handle := inst.handle
	if handle == nil {
		// Crashed and waiting for a restart, or never launched. Marking it
		// Stopped cancels the pending restart.
		s.setState(inst, StateStopped, nil)
		s.mu.Unlock()
		return nil
	}

	s.setState(inst, StateStopping, nil)
	s.mu.Unlock()

	err := handle.Stop(ctx, s.stopGrace)

	s.mu.Lock()
	inst.handle = nil
	if err != nil {
		s.setState(inst, StateFailed, err)
	} else {
		s.setState(inst, StateStopped, nil)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to stop service %s: %w", name, err)
	}
	return nil
}

// Get returns the snapshot for one instance.
func (s *Supervisor) Get(name string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(name, inst), true
}

// Snapshots returns all instances, sorted by name for stable output.
func (s *Supervisor) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.instances))
	for name, inst := range s.instances {
		out = append(out, s.snapshot(name, inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// snapshot must be called with the lock held.
func (s *Supervisor) snapshot(name string, inst *instance) Snapshot {
	snap := Snapshot{
		Name:      name,
		State:     inst.state,
		Restarts:  inst.restarts,
		StartedAt: inst.startedAt,
		Err:       inst.lastErr,
	}
	if inst.handle != nil {
		snap.ID = inst.handle.ID()
	}
	return snap
}

// setState applies a transition and queues the event. Must be called with
// the lock held. Events are queued rather than sent directly so that a full
// channel never drops a transition: a missed Running would leave the
// instance without a health watch.
func (s *Supervisor) setState(inst *instance, newState InstanceState, err error) {
	oldState := inst.state
	if oldState == newState {
		return
	}
	inst.state = newState
	inst.lastErr = err

	logging.Debug("Supervisor", "Service %s state: %s -> %s", inst.spec.Name, oldState, newState)

	s.queue = append(s.queue, Event{Name: inst.spec.Name, OldState: oldState, NewState: newState, Err: err})
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dispatchEvents drains the queue into the events channel in transition
// order. Sends happen without the lock, so they may block on a slow consumer
// without stalling the supervisor.
func (s *Supervisor) dispatchEvents() {
	for range s.notify {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.events <- ev
		}
	}
}
