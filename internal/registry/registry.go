// Package registry holds the declarative descriptions of every managed
// service and validates them before any service is launched. The registry
// is the single source of truth for the orchestrator: it never touches
// processes or containers itself.
package registry

import (
	"fmt"

	"fhirstack/internal/config"
)

// Registry stores service definitions in insertion order. Insertion order
// is significant: it is the tie-breaker for the startup order, which keeps
// diagnostics deterministic between runs.
type Registry struct {
	order []string
	specs map[string]config.ServiceDefinition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		specs: make(map[string]config.ServiceDefinition),
	}
}

// NewFromConfig builds a registry from the enabled services of a loaded
// configuration and validates it. This is the fail-fast construction path
// used by all CLI commands.
func NewFromConfig(cfg config.StackConfig) (*Registry, error) {
	r := New()
	for _, svc := range cfg.Services {
		if !svc.Enabled {
			continue
		}
		if err := r.Register(svc); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds a service definition to the registry. It rejects duplicate
// names and structurally malformed definitions. Dependency resolution is
// deferred to Validate so that definitions may be registered in any order.
func (r *Registry) Register(spec config.ServiceDefinition) error {
	if spec.Name == "" {
		return &InvalidSpecError{Name: spec.Name, Reason: "name must not be empty"}
	}
	if _, exists := r.specs[spec.Name]; exists {
		return &DuplicateServiceError{Name: spec.Name}
	}
	if spec.Image == "" && len(spec.Command) == 0 {
		return &InvalidSpecError{Name: spec.Name, Reason: "either image or command must be set"}
	}
	if spec.Image != "" && len(spec.Command) > 0 {
		return &InvalidSpecError{Name: spec.Name, Reason: "image and command are mutually exclusive"}
	}
	for _, dep := range spec.DependsOn {
		if dep == "" {
			return &InvalidSpecError{Name: spec.Name, Reason: "dependency name must not be empty"}
		}
		if dep == spec.Name {
			return &InvalidSpecError{Name: spec.Name, Reason: "service cannot depend on itself"}
		}
	}
	if spec.HealthCheck.Enabled() {
		if spec.HealthCheck.Protocol != config.ProbeHTTP && spec.HealthCheck.Protocol != config.ProbeTCP {
			return &InvalidSpecError{Name: spec.Name, Reason: fmt.Sprintf("unsupported probe protocol %q", spec.HealthCheck.Protocol)}
		}
		if spec.HealthCheck.Target == "" {
			return &InvalidSpecError{Name: spec.Name, Reason: "health check target must not be empty"}
		}
	}
	switch spec.Restart.Mode {
	case "", config.RestartNever, config.RestartOnFailure, config.RestartAlways:
	default:
		return &InvalidSpecError{Name: spec.Name, Reason: fmt.Sprintf("unsupported restart mode %q", spec.Restart.Mode)}
	}

	r.order = append(r.order, spec.Name)
	r.specs[spec.Name] = spec
	return nil
}

// Get returns the definition for a service name.
func (r *Registry) Get(name string) (config.ServiceDefinition, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// All returns every registered definition in insertion order.
func (r *Registry) All() []config.ServiceDefinition {
	all := make([]config.ServiceDefinition, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.specs[name])
	}
	return all
}

// Names returns the registered service names in insertion order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	return len(r.order)
}

// Validate checks the dependency relation of the whole registry: every
// declared dependency must resolve to a registered service, and the graph
// must be acyclic. It returns the first problem found.
func (r *Registry) Validate() error {
	for _, name := range r.order {
		for _, dep := range r.specs[name].DependsOn {
			if _, ok := r.specs[dep]; !ok {
				return &InvalidSpecError{Name: name, Reason: fmt.Sprintf("depends on unknown service %q", dep)}
			}
		}
	}
	return r.ValidateAcyclic()
}

// ValidateAcyclic performs a depth-first cycle check over the dependency
// relation. On failure the returned CyclicDependencyError names the cycle.
func (r *Registry) ValidateAcyclic() error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(r.order))
	var stack []string

	var visit func(name string) *CyclicDependencyError
	visit = func(name string) *CyclicDependencyError {
		state[name] = inProgress
		stack = append(stack, name)
		for _, dep := range r.specs[name].DependsOn {
			if _, ok := r.specs[dep]; !ok {
				continue // Unresolved deps are reported by Validate
			}
			switch state[dep] {
			case inProgress:
				// Extract the cycle from the visit stack
				cycle := []string{dep}
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, stack[i])
					if stack[i] == dep {
						break
					}
				}
				// Reverse into dependency order
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return &CyclicDependencyError{Cycle: cycle}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range r.order {
		if state[name] == unvisited {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
