package registry

import (
	"fmt"
	"strings"
)

// DuplicateServiceError is returned when a service name is registered twice.
type DuplicateServiceError struct {
	Name string
}

func (e *DuplicateServiceError) Error() string {
	return fmt.Sprintf("service %q is already registered", e.Name)
}

// InvalidSpecError is returned when a service definition is malformed or
// references a dependency that is not registered.
type InvalidSpecError struct {
	Name   string
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid service spec %q: %s", e.Name, e.Reason)
}

// CyclicDependencyError is returned when the dependency relation contains
// a cycle. Cycle lists the service names along the cycle, in order, with
// the first name repeated at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}
