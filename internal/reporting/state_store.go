package reporting

import (
	"sync"
)

// StateStore retains the latest update per service, in first-seen order.
type StateStore interface {
	// SetServiceState stores an update. Returns true when it changed the
	// retained state or health for that service.
	SetServiceState(update ServiceUpdate) bool

	// GetServiceState returns the latest update for a service.
	GetServiceState(name string) (ServiceUpdate, bool)

	// GetAllServiceStates returns the latest update of every service in
	// first-seen order.
	GetAllServiceStates() []ServiceUpdate
}

// NewStateStore creates an empty in-memory state store.
func NewStateStore() StateStore {
	return &stateStore{
		states: make(map[string]ServiceUpdate),
	}
}

type stateStore struct {
	mu     sync.RWMutex
	order  []string
	states map[string]ServiceUpdate
}

func (s *stateStore) SetServiceState(update ServiceUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, seen := s.states[update.Name]
	if !seen {
		s.order = append(s.order, update.Name)
	}

	// Carry forward fields the update did not set, so a health-only update
	// does not erase lifecycle data.
	if update.State == "" {
		update.State = previous.State
	}
	if update.Health == "" {
		update.Health = previous.Health
	}
	if update.InstanceID == "" {
		update.InstanceID = previous.InstanceID
	}

	s.states[update.Name] = update

	return !seen || previous.State != update.State || previous.Health != update.Health
}

func (s *stateStore) GetServiceState(name string) (ServiceUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	update, ok := s.states[name]
	return update, ok
}

func (s *stateStore) GetAllServiceStates() []ServiceUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]ServiceUpdate, 0, len(s.order))
	for _, name := range s.order {
		all = append(all, s.states[name])
	}
	return all
}
