package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "fhirstack", cfg.Stack.Name)
	require.Len(t, cfg.Services, 2)

	db := cfg.Services[0]
	assert.Equal(t, "db", db.Name)
	assert.True(t, db.Enabled)
	assert.True(t, db.IsContainer())
	assert.Empty(t, db.DependsOn)
	assert.Equal(t, ProbeTCP, db.HealthCheck.Protocol)
	assert.Equal(t, RestartAlways, db.Restart.Mode)

	fhir := cfg.Services[1]
	assert.Equal(t, "fhir", fhir.Name)
	assert.Equal(t, []string{"db"}, fhir.DependsOn)
	assert.Equal(t, ProbeHTTP, fhir.HealthCheck.Protocol)
	assert.Equal(t, "http://localhost:5560/fhir/metadata", fhir.HealthCheck.Target)
	assert.Equal(t, RestartOnFailure, fhir.Restart.Mode)

	// The datasource must go through the stack network by container name;
	// localhost inside the fhir container would be the container itself.
	assert.Equal(t, "jdbc:postgresql://fhirstack-db:5432/hapi", fhir.Env["SPRING_DATASOURCE_URL"])
}

func TestApplyDefaults(t *testing.T) {
	cfg := StackConfig{
		Services: []ServiceDefinition{
			{
				Name:        "probed",
				Image:       "x",
				HealthCheck: HealthCheckDefinition{Protocol: ProbeTCP, Target: "localhost:5432"},
				Restart:     RestartDefinition{Mode: RestartOnFailure},
			},
			{
				Name:  "bare",
				Image: "y",
			},
		},
	}

	ApplyDefaults(&cfg)

	assert.Equal(t, DefaultStackName, cfg.Stack.Name)
	assert.Equal(t, DefaultReadyTimeout, cfg.Stack.ReadyTimeout)
	assert.Equal(t, DefaultStopGracePeriod, cfg.Stack.StopGracePeriod)

	probed := cfg.Services[0]
	assert.Equal(t, DefaultProbeInterval, probed.HealthCheck.Interval)
	assert.Equal(t, DefaultProbeTimeout, probed.HealthCheck.Timeout)
	assert.Equal(t, DefaultSuccessThreshold, probed.HealthCheck.SuccessThreshold)
	assert.Equal(t, DefaultFailureThreshold, probed.HealthCheck.FailureThreshold)
	assert.Equal(t, DefaultBackoffBase, probed.Restart.BackoffBase)
	assert.Equal(t, DefaultBackoffCap, probed.Restart.BackoffCap)
	assert.Equal(t, DefaultMaxAttempts, probed.Restart.MaxAttempts)

	bare := cfg.Services[1]
	assert.Equal(t, RestartNever, bare.Restart.Mode)
	assert.False(t, bare.HealthCheck.Enabled())
	// No probe declared means no probe tuning gets invented
	assert.Zero(t, bare.HealthCheck.Interval)
}

func TestApplyDefaults_RespectsExistingValues(t *testing.T) {
	cfg := StackConfig{
		Stack: StackSettings{Name: "custom", ReadyTimeout: time.Minute},
		Services: []ServiceDefinition{
			{
				Name:  "svc",
				Image: "x",
				HealthCheck: HealthCheckDefinition{
					Protocol:         ProbeHTTP,
					Target:           "http://localhost:8080/health",
					Interval:         3 * time.Second,
					FailureThreshold: 10,
				},
				Restart: RestartDefinition{Mode: RestartAlways, BackoffBase: 250 * time.Millisecond},
			},
		},
	}

	ApplyDefaults(&cfg)

	assert.Equal(t, "custom", cfg.Stack.Name)
	assert.Equal(t, time.Minute, cfg.Stack.ReadyTimeout)

	svc := cfg.Services[0]
	assert.Equal(t, 3*time.Second, svc.HealthCheck.Interval)
	assert.Equal(t, 10, svc.HealthCheck.FailureThreshold)
	assert.Equal(t, 250*time.Millisecond, svc.Restart.BackoffBase)
	assert.Equal(t, DefaultBackoffCap, svc.Restart.BackoffCap)
	// Always-restart services are not capped by default
	assert.Zero(t, svc.Restart.MaxAttempts)
}

func TestMergeConfigs_OverlayReplacesByName(t *testing.T) {
	base := StackConfig{
		Stack: StackSettings{Name: "base", ReadyTimeout: time.Minute},
		Services: []ServiceDefinition{
			{Name: "db", Image: "postgres:15"},
			{Name: "fhir", Image: "hapiproject/hapi:latest"},
		},
	}
	overlay := StackConfig{
		Services: []ServiceDefinition{
			{Name: "db", Image: "postgres:16", Ports: []string{"5433:5432"}},
			{Name: "proxy", Image: "nginx:alpine"},
		},
	}

	merged := mergeConfigs(base, overlay)

	// Stack settings survive when the overlay leaves them unset
	assert.Equal(t, "base", merged.Stack.Name)
	assert.Equal(t, time.Minute, merged.Stack.ReadyTimeout)

	require.Len(t, merged.Services, 3)
	// Base ordering is preserved, overlay additions come last
	assert.Equal(t, "db", merged.Services[0].Name)
	assert.Equal(t, "postgres:16", merged.Services[0].Image)
	assert.Equal(t, []string{"5433:5432"}, merged.Services[0].Ports)
	assert.Equal(t, "fhir", merged.Services[1].Name)
	assert.Equal(t, "proxy", merged.Services[2].Name)
}

func TestMergeConfigs_OverlayStackSettings(t *testing.T) {
	base := StackConfig{Stack: StackSettings{Name: "base", StopGracePeriod: 10 * time.Second}}
	overlay := StackConfig{Stack: StackSettings{Name: "custom", ReadyTimeout: 30 * time.Second}}

	merged := mergeConfigs(base, overlay)
	assert.Equal(t, "custom", merged.Stack.Name)
	assert.Equal(t, 30*time.Second, merged.Stack.ReadyTimeout)
	assert.Equal(t, 10*time.Second, merged.Stack.StopGracePeriod)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fhirstack.yaml")
	content := `
stack:
  name: teststack
  readyTimeout: 90s
services:
  - name: db
    enabledByDefault: true
    image: postgres:16
    ports:
      - "5432:5432"
    healthCheck:
      protocol: tcp
      target: localhost:5432
    restart:
      mode: always
  - name: fhir
    enabledByDefault: true
    image: hapiproject/hapi:latest
    dependsOn:
      - db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "teststack", cfg.Stack.Name)
	assert.Equal(t, 90*time.Second, cfg.Stack.ReadyTimeout)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, ProbeTCP, cfg.Services[0].HealthCheck.Protocol)
	assert.Equal(t, RestartAlways, cfg.Services[0].Restart.Mode)
	assert.Equal(t, []string{"db"}, cfg.Services[1].DependsOn)
}

func TestLoadConfigFromFile_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fhirstack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services: [unclosed"), 0o644))

	_, err := loadConfigFromFile(path)
	assert.Error(t, err)
}

func TestLoadConfig_LayersProjectOverUser(t *testing.T) {
	userDir := t.TempDir()
	projectDir := t.TempDir()

	userConfig := filepath.Join(userDir, userConfigDir, configFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfig), 0o755))
	require.NoError(t, os.WriteFile(userConfig, []byte("stack:\n  name: userstack\n"), 0o644))

	projectConfig := filepath.Join(projectDir, configFileName)
	require.NoError(t, os.WriteFile(projectConfig, []byte("stack:\n  readyTimeout: 45s\n"), 0o644))

	origHome, origWd := osUserHomeDir, osGetwd
	defer func() { osUserHomeDir, osGetwd = origHome, origWd }()
	osUserHomeDir = func() (string, error) { return userDir, nil }
	osGetwd = func() (string, error) { return projectDir, nil }

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "userstack", cfg.Stack.Name)
	assert.Equal(t, 45*time.Second, cfg.Stack.ReadyTimeout)
	// Built-in topology still present underneath the overlays
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "db", cfg.Services[0].Name)
	// ApplyDefaults ran over the merged result
	assert.Equal(t, DefaultProbeInterval, cfg.Services[0].HealthCheck.Interval)
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("FHIRSTACK_TEST_SECRET", "s3cret-value")

	resolved := ResolveEnv(map[string]string{
		"POSTGRES_PASSWORD": "${FHIRSTACK_TEST_SECRET}",
		"POSTGRES_DB":       "hapi",
		"UNSET_REF":         "${FHIRSTACK_TEST_UNSET_VARIABLE}",
	})

	assert.Equal(t, "s3cret-value", resolved["POSTGRES_PASSWORD"])
	assert.Equal(t, "hapi", resolved["POSTGRES_DB"])
	assert.Equal(t, "", resolved["UNSET_REF"])
}

func TestResolveEnv_Empty(t *testing.T) {
	assert.Nil(t, ResolveEnv(nil))
	assert.Nil(t, ResolveEnv(map[string]string{}))
}
