package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fhirstack/internal/config"
	"fhirstack/pkg/logging"
)

// Status represents the rolling health of a service instance.
type Status string

const (
	StatusUnknown   Status = "Unknown"
	StatusHealthy   Status = "Healthy"
	StatusUnhealthy Status = "Unhealthy"
)

// Record is the per-instance health snapshot. It is owned by the monitor;
// everything else gets read-only copies.
type Record struct {
	Status               Status
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	LastChecked          time.Time
	LastErr              error
	Terminal             bool // Set when the instance can no longer recover
}

// TransitionFunc is called whenever a service's health status changes.
// Invoked from the monitor's poll goroutines; implementations must be
// fast and must not call back into the monitor under their own locks.
type TransitionFunc func(name string, oldStatus, newStatus Status, err error)

type entry struct {
	record  Record
	cancel  context.CancelFunc
	waiters []chan struct{}
}

// Monitor tracks health records for all watched instances and runs the
// poll loops. Polling for independent services proceeds in parallel with
// no ordering between them.
type Monitor struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	onTransition TransitionFunc
}

// NewMonitor creates an empty health monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		entries: make(map[string]*entry),
	}
}

// SetTransitionCallback registers the state-change callback. Must be set
// before the first Watch.
func (m *Monitor) SetTransitionCallback(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// Watch begins polling a service with its declared probe. For services
// without a probe the record goes straight to Healthy: being alive is all
// the readiness they can express. Watching an already-watched service
// restarts its poll loop with fresh counters (used after a restart).
func (m *Monitor) Watch(ctx context.Context, name string, def config.HealthCheckDefinition) error {
	m.mu.Lock()
	if existing, ok := m.entries[name]; ok && existing.cancel != nil {
		existing.cancel()
	}

	e := &entry{record: Record{Status: StatusUnknown}}
	if prev, ok := m.entries[name]; ok {
		e.waiters = prev.waiters
	}
	m.entries[name] = e

	if !def.Enabled() {
		m.mu.Unlock()
		m.setStatus(name, StatusHealthy, nil, false)
		return nil
	}

	probe, err := NewProbe(def)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	m.mu.Unlock()

	go m.poll(pollCtx, name, probe, def)
	return nil
}

// Unwatch stops polling a service and resets its record to Unknown.
// Called when the instance leaves the Running state.
func (m *Monitor) Unwatch(name string) {
	m.mu.Lock()
	e, ok := m.entries[name]
	if ok && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	m.mu.Unlock()
	if ok {
		m.setStatus(name, StatusUnknown, nil, false)
	}
}

// MarkFailed records that an instance is terminally unable to become
// healthy. Pending AwaitHealthy calls return immediately with the error.
func (m *Monitor) MarkFailed(name string, err error) {
	m.mu.Lock()
	if e, ok := m.entries[name]; ok && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	m.mu.Unlock()
	m.setStatus(name, StatusUnhealthy, err, true)
}

// Status returns a copy of the health record for a service.
func (m *Monitor) Status(name string) Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[name]; ok {
		return e.record
	}
	return Record{Status: StatusUnknown}
}

// AwaitHealthy blocks until the service reports Healthy, the context ends,
// or the service is marked terminally failed.
func (m *Monitor) AwaitHealthy(ctx context.Context, name string) error {
	for {
		m.mu.Lock()
		e, ok := m.entries[name]
		if !ok {
			e = &entry{record: Record{Status: StatusUnknown}}
			m.entries[name] = e
		}
		if e.record.Status == StatusHealthy {
			m.mu.Unlock()
			return nil
		}
		if e.record.Terminal {
			err := e.record.LastErr
			m.mu.Unlock()
			if err == nil {
				err = fmt.Errorf("service %s failed", name)
			}
			return err
		}
		waiter := make(chan struct{}, 1)
		e.waiters = append(e.waiters, waiter)
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waiter:
			// Transition happened; loop and re-check.
		}
	}
}

// poll runs the periodic probe loop for one instance. The first check runs
// immediately so short-lived dependencies gate as fast as they can.
func (m *Monitor) poll(ctx context.Context, name string, probe Probe, def config.HealthCheckDefinition) {
	ticker := time.NewTicker(def.Interval)
	defer ticker.Stop()

	m.runCheck(ctx, name, probe, def)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCheck(ctx, name, probe, def)
		}
	}
}

func (m *Monitor) runCheck(ctx context.Context, name string, probe Probe, def config.HealthCheckDefinition) {
	checkCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	err := probe.Check(checkCtx)
	cancel()

	m.mu.Lock()
	// The cancellation check and the record update must share one critical
	// section: Unwatch cancels under the same lock, so a check that raced
	// past an earlier ctx.Err() test cannot overwrite the Unknown reset.
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	if err == nil {
		e.record.ConsecutiveSuccesses++
		e.record.ConsecutiveFailures = 0
	} else {
		e.record.ConsecutiveFailures++
		e.record.ConsecutiveSuccesses = 0
	}
	e.record.LastChecked = time.Now()
	e.record.LastErr = err

	newStatus := e.record.Status
	switch {
	case e.record.ConsecutiveFailures >= def.FailureThreshold:
		newStatus = StatusUnhealthy
	case e.record.ConsecutiveSuccesses >= def.SuccessThreshold:
		newStatus = StatusHealthy
	}

	oldStatus := e.record.Status
	var waiters []chan struct{}
	var callback TransitionFunc
	if oldStatus != newStatus {
		e.record.Status = newStatus
		waiters = e.waiters
		e.waiters = nil
		callback = m.onTransition
	}
	m.mu.Unlock()

	if err != nil {
		logging.Debug("HealthMonitor", "Probe for %s failed: %v", name, err)
	}

	for _, w := range waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	if oldStatus != newStatus {
		logging.Debug("HealthMonitor", "Service %s health: %s -> %s", name, oldStatus, newStatus)
		if callback != nil {
			callback(name, oldStatus, newStatus, err)
		}
	}
}

// setStatus applies a status change, notifies waiters and fires the
// transition callback. No-ops when nothing changed.
func (m *Monitor) setStatus(name string, status Status, err error, terminal bool) {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		e = &entry{}
		m.entries[name] = e
	}
	oldStatus := e.record.Status
	e.record.LastErr = err
	if oldStatus == status && e.record.Terminal == terminal {
		m.mu.Unlock()
		return
	}
	e.record.Status = status
	e.record.Terminal = terminal

	waiters := e.waiters
	e.waiters = nil
	callback := m.onTransition
	m.mu.Unlock()

	for _, w := range waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}

	if oldStatus != status {
		logging.Debug("HealthMonitor", "Service %s health: %s -> %s", name, oldStatus, status)
		if callback != nil {
			callback(name, oldStatus, status, err)
		}
	}
}
