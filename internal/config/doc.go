// Package config defines the service topology configuration for fhirstack
// and loads it by layering built-in defaults, a user-level file and a
// project-level file. Values in later layers override earlier ones, merged
// per service name. Secrets are supplied through process environment
// variables referenced as ${VAR} in service env values; they are resolved
// at launch time and never logged.
package config
