package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir  = ".config/fhirstack"
	configFileName = "fhirstack.yaml"
)

// LoadConfig loads the fhirstack configuration by layering default, user,
// and project settings. Missing files are not an error; a malformed file is.
func LoadConfig() (StackConfig, error) {
	// 1. Start with the built-in default topology
	cfg := GetDefaultConfig()

	// 2. Overlay the user-specific configuration if present
	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional; warn and continue
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else {
		if _, err := os.Stat(userConfigPath); !os.IsNotExist(err) {
			userCfg, err := loadConfigFromFile(userConfigPath)
			if err != nil {
				return StackConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
			}
			cfg = mergeConfigs(cfg, userCfg)
		}
	}

	// 3. Overlay the project-specific configuration if present
	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else {
		if _, err := os.Stat(projectConfigPath); !os.IsNotExist(err) {
			projectCfg, err := loadConfigFromFile(projectConfigPath)
			if err != nil {
				return StackConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
			}
			cfg = mergeConfigs(cfg, projectCfg)
		}
	}

	ApplyDefaults(&cfg)

	return cfg, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, configFileName), nil
}

// loadConfigFromFile loads a StackConfig from a YAML file.
func loadConfigFromFile(filePath string) (StackConfig, error) {
	var cfg StackConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return StackConfig{}, err
	}
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return StackConfig{}, err
	}
	return cfg, nil
}

// mergeConfigs merges 'overlay' config into 'base' config. Services are
// merged by name: an overlay service replaces the base definition entirely,
// new overlay services are appended. Base ordering is preserved so that the
// registry insertion order (and with it startup tie-breaking) stays
// deterministic across layered files.
func mergeConfigs(base, overlay StackConfig) StackConfig {
	merged := base

	if overlay.Stack.Name != "" {
		merged.Stack.Name = overlay.Stack.Name
	}
	if overlay.Stack.ReadyTimeout > 0 {
		merged.Stack.ReadyTimeout = overlay.Stack.ReadyTimeout
	}
	if overlay.Stack.StopGracePeriod > 0 {
		merged.Stack.StopGracePeriod = overlay.Stack.StopGracePeriod
	}

	overlayByName := make(map[string]ServiceDefinition, len(overlay.Services))
	for _, svc := range overlay.Services {
		overlayByName[svc.Name] = svc
	}

	mergedServices := make([]ServiceDefinition, 0, len(base.Services)+len(overlay.Services))
	seen := make(map[string]bool, len(base.Services))
	for _, svc := range base.Services {
		if replacement, ok := overlayByName[svc.Name]; ok {
			mergedServices = append(mergedServices, replacement)
		} else {
			mergedServices = append(mergedServices, svc)
		}
		seen[svc.Name] = true
	}
	for _, svc := range overlay.Services {
		if !seen[svc.Name] {
			mergedServices = append(mergedServices, svc)
		}
	}
	merged.Services = mergedServices

	return merged
}

// GetUserConfigDir returns the user configuration directory path.
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// ResolveEnv expands ${VAR} references in service env values from the
// process environment. Values are treated as opaque: they are substituted
// verbatim and must never be logged. A reference to an unset variable
// expands to the empty string, matching os.Expand semantics.
func ResolveEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	resolved := make(map[string]string, len(env))
	for k, v := range env {
		resolved[k] = os.Expand(v, os.Getenv)
	}
	return resolved
}
