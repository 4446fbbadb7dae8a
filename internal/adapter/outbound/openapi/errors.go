package openapi

import "fmt"

// PathAlreadyExistsError is returned when two services contribute the same composed path.
// It aborts the whole composition; paths are never silently shadowed.
type PathAlreadyExistsError struct {
	Path      string
	ServiceID string
}

func (e *PathAlreadyExistsError) Error() string {
	return fmt.Sprintf("path already exists: %s", e.Path)
}

// RouteConfigError is returned when the route config of a service cannot be read.
type RouteConfigError struct {
	ServiceID string
	File      string
	Err       error
}

func (e *RouteConfigError) Error() string {
	return fmt.Sprintf("service %s: invalid route config %s: %v", e.ServiceID, e.File, e.Err)
}

func (e *RouteConfigError) Unwrap() error {
	return e.Err
}
