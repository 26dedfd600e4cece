package config

import (
	"time"
)

// Default tuning values applied by ApplyDefaults when a field is unset.
const (
	DefaultStackName       = "fhirstack"
	DefaultReadyTimeout    = 2 * time.Minute
	DefaultStopGracePeriod = 10 * time.Second

	DefaultProbeInterval    = 10 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultSuccessThreshold = 1
	DefaultFailureThreshold = 3

	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffCap  = 60 * time.Second
	DefaultMaxAttempts = 5
)

// GetDefaultConfig returns the built-in topology: a PostgreSQL database and
// the HAPI FHIR store that depends on it. User and project configuration
// files overlay these definitions by service name.
func GetDefaultConfig() StackConfig {
	return StackConfig{
		Stack: StackSettings{
			Name:            DefaultStackName,
			ReadyTimeout:    DefaultReadyTimeout,
			StopGracePeriod: DefaultStopGracePeriod,
		},
		Services: []ServiceDefinition{
			{
				Name:    "db",
				Enabled: true,
				Image:   "postgres:16",
				Env: map[string]string{
					"POSTGRES_DB":       "hapi",
					"POSTGRES_USER":     "admin",
					"POSTGRES_PASSWORD": "${FHIRSTACK_DB_PASSWORD}",
				},
				Ports: []string{"5432:5432"},
				HealthCheck: HealthCheckDefinition{
					Protocol: ProbeTCP,
					Target:   "localhost:5432",
				},
				Restart: RestartDefinition{
					Mode: RestartAlways,
				},
			},
			{
				Name:      "fhir",
				Enabled:   true,
				Image:     "hapiproject/hapi:latest",
				DependsOn: []string{"db"},
				// The datasource address is the db's container name: both
				// containers sit on the stack network, where localhost would
				// be the HAPI container itself.
				Env: map[string]string{
					"SPRING_DATASOURCE_URL":      "jdbc:postgresql://fhirstack-db:5432/hapi",
					"SPRING_DATASOURCE_USERNAME": "admin",
					"SPRING_DATASOURCE_PASSWORD": "${FHIRSTACK_DB_PASSWORD}",
				},
				Ports: []string{"5560:8080"},
				HealthCheck: HealthCheckDefinition{
					Protocol: ProbeHTTP,
					Target:   "http://localhost:5560/fhir/metadata",
				},
				Restart: RestartDefinition{
					Mode: RestartOnFailure,
				},
			},
		},
	}
}

// ApplyDefaults fills unset tuning fields on the config in place.
// Called once after the configuration layers have been merged so that the
// rest of the code never has to special-case zero values.
func ApplyDefaults(cfg *StackConfig) {
	if cfg.Stack.Name == "" {
		cfg.Stack.Name = DefaultStackName
	}
	if cfg.Stack.ReadyTimeout <= 0 {
		cfg.Stack.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.Stack.StopGracePeriod <= 0 {
		cfg.Stack.StopGracePeriod = DefaultStopGracePeriod
	}

	for i := range cfg.Services {
		svc := &cfg.Services[i]

		if svc.HealthCheck.Enabled() {
			if svc.HealthCheck.Interval <= 0 {
				svc.HealthCheck.Interval = DefaultProbeInterval
			}
			if svc.HealthCheck.Timeout <= 0 {
				svc.HealthCheck.Timeout = DefaultProbeTimeout
			}
			if svc.HealthCheck.SuccessThreshold <= 0 {
				svc.HealthCheck.SuccessThreshold = DefaultSuccessThreshold
			}
			if svc.HealthCheck.FailureThreshold <= 0 {
				svc.HealthCheck.FailureThreshold = DefaultFailureThreshold
			}
		}

		if svc.Restart.Mode == "" {
			svc.Restart.Mode = RestartNever
		}
		if svc.Restart.Mode != RestartNever {
			if svc.Restart.BackoffBase <= 0 {
				svc.Restart.BackoffBase = DefaultBackoffBase
			}
			if svc.Restart.BackoffCap <= 0 {
				svc.Restart.BackoffCap = DefaultBackoffCap
			}
			if svc.Restart.MaxAttempts <= 0 && svc.Restart.Mode == RestartOnFailure {
				svc.Restart.MaxAttempts = DefaultMaxAttempts
			}
		}
	}
}
