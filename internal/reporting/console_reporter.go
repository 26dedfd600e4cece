package reporting

import (
	"fmt"
	"time"

	"fhirstack/pkg/logging"
)

// ConsoleReporter logs updates through pkg/logging and maintains state in
// a StateStore.
type ConsoleReporter struct {
	stateStore StateStore
}

// NewConsoleReporter creates a ConsoleReporter with a fresh state store.
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{
		stateStore: NewStateStore(),
	}
}

// Report processes a ServiceUpdate by updating the state store and logging
// actual transitions. Repeated identical states are suppressed to keep the
// console quiet.
func (c *ConsoleReporter) Report(update ServiceUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}

	stateChanged := c.stateStore.SetServiceState(update)
	if !stateChanged && update.ErrorDetail == nil {
		return
	}

	subsystem := "Service-" + update.Name

	logMessage := "State: " + update.State
	if update.Health != "" {
		logMessage += ", Health: " + update.Health
	}
	if update.InstanceID != "" {
		logMessage += ", ID: " + update.InstanceID
	}
	if update.Restarts > 0 {
		logMessage += fmt.Sprintf(", Restarts: %d", update.Restarts)
	}
	if update.CausedBy != "" {
		logMessage += ", CausedBy: " + update.CausedBy
	}

	switch {
	case update.ErrorDetail != nil:
		logging.Error(subsystem, update.ErrorDetail, "%s", logMessage)
	case update.State == "Failed" || update.Health == "Unhealthy":
		logging.Warn(subsystem, "%s", logMessage)
	case update.State == "Running" || update.State == "Stopped":
		logging.Info(subsystem, "%s", logMessage)
	default:
		logging.Debug(subsystem, "%s", logMessage)
	}
}

// GetStateStore returns the underlying state store.
func (c *ConsoleReporter) GetStateStore() StateStore {
	return c.stateStore
}
