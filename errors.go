package scm

import (
	"errors"
	"fmt"
)

// Common errors returned by service control operations
var (
	// ErrInvalidTransition indicates a status submission that is not reachable
	// from the service's current state
	ErrInvalidTransition = errors.New("scm: invalid state transition")

	// ErrInvalidState indicates a status record carrying a state outside the
	// seven legal lifecycle states
	ErrInvalidState = errors.New("scm: invalid service state")

	// ErrNotAService indicates the process was not launched by the service
	// control manager
	ErrNotAService = errors.New("scm: process not started as a service")

	// ErrHandlerExists indicates a control handler is already registered for
	// the service name
	ErrHandlerExists = errors.New("scm: control handler already registered")

	// ErrDisconnected indicates the control handler registration was torn down
	// and no further events will be delivered
	ErrDisconnected = errors.New("scm: control channel disconnected")

	// ErrNoEvent indicates a non-blocking receive found the channel empty
	ErrNoEvent = errors.New("scm: no event queued")

	// ErrAccessDenied indicates the handle lacks the access right required for
	// the operation
	ErrAccessDenied = errors.New("scm: access denied")

	// ErrServiceNotFound indicates no service registration exists for the name
	ErrServiceNotFound = errors.New("scm: service not found")

	// ErrServiceExists indicates a registration with the name already exists
	ErrServiceExists = errors.New("scm: service already exists")

	// ErrServiceMarkedForDeletion indicates the registration is pending
	// deletion and cannot be recreated until all handles close
	ErrServiceMarkedForDeletion = errors.New("scm: service marked for deletion")

	// ErrDependencyCycle indicates the dependency configuration is directly or
	// transitively self-referential
	ErrDependencyCycle = errors.New("scm: dependency cycle")

	// ErrServiceNotActive indicates a control was sent to a service with no
	// registered control handler
	ErrServiceNotActive = errors.New("scm: service not active")

	// ErrControlNotAccepted indicates the service does not currently advertise
	// acceptance of the requested control
	ErrControlNotAccepted = errors.New("scm: control not accepted")

	// ErrAlreadyRunning indicates a start request for a service that is not
	// stopped
	ErrAlreadyRunning = errors.New("scm: service already running")

	// ErrNoEntry indicates a start request for a service with no dispatched
	// entry function in this process
	ErrNoEntry = errors.New("scm: no dispatched entry for service")

	// ErrNotResponding indicates the service exhausted its wait hint while
	// pending without advancing its checkpoint
	ErrNotResponding = errors.New("scm: service not responding")

	// ErrHandleClosed indicates the handle was already closed
	ErrHandleClosed = errors.New("scm: handle closed")

	// ErrUnsupported indicates the requested backend is not available on this
	// platform
	ErrUnsupported = errors.New("scm: backend not supported on this platform")
)

// OpError represents an error from a service control operation
type OpError struct {
	// Op is the operation that failed
	Op Op
	// Service is the service name involved in the operation
	Service string
	// Code is the external error code reported by the supervisor, 0 if none
	Code uint32
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("scm %s %q: %v (code %d)", e.Op.String(), e.Service, e.Err, e.Code)
	}
	return fmt.Sprintf("scm %s %q: %v", e.Op.String(), e.Service, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors from bulk operations
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred", len(m.Errors))
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}
