package config

import (
	"time"
)

// StackConfig is the top-level configuration structure for fhirstack.
type StackConfig struct {
	Stack    StackSettings       `yaml:"stack"`
	Services []ServiceDefinition `yaml:"services"`
}

// StackSettings holds settings that apply to the whole topology rather
// than to a single service.
type StackSettings struct {
	Name            string        `yaml:"name,omitempty"`            // Prefix for container names (default: "fhirstack")
	ReadyTimeout    time.Duration `yaml:"readyTimeout,omitempty"`    // Per-service readiness timeout during up (default: 2m)
	StopGracePeriod time.Duration `yaml:"stopGracePeriod,omitempty"` // Grace period before a stop escalates to kill (default: 10s)
}

// RestartMode defines when a crashed service is restarted.
type RestartMode string

const (
	RestartNever     RestartMode = "never"
	RestartOnFailure RestartMode = "on-failure"
	RestartAlways    RestartMode = "always"
)

// ProbeProtocol defines how a health probe talks to a service.
type ProbeProtocol string

const (
	ProbeHTTP ProbeProtocol = "http"
	ProbeTCP  ProbeProtocol = "tcp"
)

// ServiceDefinition describes one managed service.
// A service is either container-backed (Image set) or process-backed
// (Command set); exactly one of the two must be provided.
type ServiceDefinition struct {
	Name      string            `yaml:"name"`                // Unique name, e.g. "db", "fhir"
	Enabled   bool              `yaml:"enabledByDefault"`    // Whether this service participates in up/down/status
	Image     string            `yaml:"image,omitempty"`     // Container image, e.g. "hapiproject/hapi:latest"
	Command   []string          `yaml:"command,omitempty"`   // Executable and arguments for process-backed services
	Env       map[string]string `yaml:"env,omitempty"`       // Environment; ${VAR} values resolve from the process env at launch
	Ports     []string          `yaml:"ports,omitempty"`     // Published ports, "host:container"
	Volumes   []string          `yaml:"volumes,omitempty"`   // Volume mounts for container-backed services
	DependsOn []string          `yaml:"dependsOn,omitempty"` // Services that must be Healthy before this one starts

	HealthCheck HealthCheckDefinition `yaml:"healthCheck,omitempty"`
	Restart     RestartDefinition     `yaml:"restart,omitempty"`
}

// HealthCheckDefinition describes the readiness probe for a service.
// The probe is protocol-opaque beyond http/tcp: fhirstack never interprets
// the response body, only success or failure.
type HealthCheckDefinition struct {
	Protocol         ProbeProtocol `yaml:"protocol,omitempty"`         // "http" or "tcp"; empty disables probing
	Target           string        `yaml:"target,omitempty"`           // URL for http, host:port for tcp
	Interval         time.Duration `yaml:"interval,omitempty"`         // Poll interval (default: 10s)
	Timeout          time.Duration `yaml:"timeout,omitempty"`          // Per-probe timeout (default: 5s)
	SuccessThreshold int           `yaml:"successThreshold,omitempty"` // Consecutive successes until Healthy (default: 1)
	FailureThreshold int           `yaml:"failureThreshold,omitempty"` // Consecutive failures until Unhealthy (default: 3)
}

// Enabled reports whether the service declares a probe at all.
func (h HealthCheckDefinition) Enabled() bool {
	return h.Protocol != ""
}

// RestartDefinition describes the crash-restart policy for a service.
type RestartDefinition struct {
	Mode        RestartMode   `yaml:"mode,omitempty"`        // never, on-failure or always (default: never)
	BackoffBase time.Duration `yaml:"backoffBase,omitempty"` // First retry delay (default: 1s)
	BackoffCap  time.Duration `yaml:"backoffCap,omitempty"`  // Upper bound for the delay (default: 60s)
	MaxAttempts int           `yaml:"maxAttempts,omitempty"` // Restart attempts before Failed; 0 means unlimited
}

// IsContainer reports whether the service runs as a container.
func (s ServiceDefinition) IsContainer() bool {
	return s.Image != ""
}
