package scm

import "context"

// RawRequest is a control request as raised by the supervisor, before
// translation into a typed Event. EventType and SessionID are only meaningful
// for the extended controls that carry them.
type RawRequest struct {
	// Code is the raw control code
	Code uint32
	// EventType is the event subtype for extended controls
	EventType uint32
	// SessionID identifies the affected session for session change requests
	SessionID uint32
	// Data carries any extended payload bytes
	Data []byte
}

// RawHandlerFunc is the control callback invoked by the supervisor. The
// supervisor owns the invoking thread and blocks on the return value, so
// implementations must not block on application logic. The returned value is
// the synchronous acknowledgment defined by the protocol.
type RawHandlerFunc func(RawRequest) uint32

// StatusHandle is the opaque registration token returned when a control
// handler is registered. It is the only channel through which the process's
// advertised status changes.
type StatusHandle interface {
	// SetStatus submits a status record to the supervisor
	SetStatus(rec StatusRecord) error
	// Deregister tears down the handler registration. It is idempotent;
	// calling it again after success is a no-op.
	Deregister() error
}

// EntryFunc is a service entry point invoked by the dispatcher on a dedicated
// goroutine. It receives the service name and the startup arguments supplied
// by whoever started the service. Its responsibility is to register a control
// handler, report status transitions, and consume control events until it
// reports a terminal stopped status.
type EntryFunc func(name string, args []string)

// Table maps service names to their entry functions. It must be fully
// populated before dispatch begins; the dispatcher copies it and never
// observes later mutation.
type Table map[string]EntryFunc

// Supervisor is the process-side boundary to the service control manager.
// Implementations adapt either the real system supervisor or the in-process
// local backend.
type Supervisor interface {
	// Dispatch hands the entry table to the supervisor and blocks the calling
	// goroutine until all started services have stopped. It fails with
	// ErrNotAService when the process was not launched by the supervisor.
	Dispatch(table Table) error

	// RegisterHandler registers the control callback for one service name and
	// returns the registration token. Registering twice for the same name
	// fails with ErrHandlerExists.
	RegisterHandler(name string, h RawHandlerFunc) (StatusHandle, error)
}

// ServiceEntry is one row of a registry enumeration
type ServiceEntry struct {
	// Name is the service name
	Name string
	// DisplayName is the human-readable name
	DisplayName string
	// Status is the service's status at enumeration time
	Status StatusRecord
}

// ListFilter selects which registrations an enumeration returns
type ListFilter int

const (
	// ListAll returns every registration
	ListAll ListFilter = iota
	// ListActive returns registrations whose service is not stopped
	ListActive
	// ListInactive returns registrations whose service is stopped
	ListInactive
)

// Registry is the management-side boundary to the persisted service registry.
// It is used by installers and controllers, possibly from a different process
// than the one hosting the services.
type Registry interface {
	// CreateService persists a new registration and returns an open handle
	CreateService(ctx context.Context, cfg ServiceConfig, access ServiceAccess) (RegistryHandle, error)

	// OpenService opens an existing registration
	OpenService(ctx context.Context, name string, access ServiceAccess) (RegistryHandle, error)

	// ListServices enumerates registrations matching the filter
	ListServices(ctx context.Context, filter ListFilter) ([]ServiceEntry, error)

	// ServiceNameFromDisplayName resolves a display name to the service name
	ServiceNameFromDisplayName(ctx context.Context, displayName string) (string, error)

	// Close releases the registry session
	Close() error
}

// RegistryHandle is an open handle to one service registration. Handles are
// not safe for concurrent mutation; concurrent access to the same service
// through distinct handles is serialized by the supervisor.
type RegistryHandle interface {
	// QueryStatus returns the service's current status record
	QueryStatus(ctx context.Context) (StatusRecord, error)

	// QueryConfig reads the persisted configuration
	QueryConfig(ctx context.Context) (ServiceConfig, error)

	// UpdateConfig applies a partial configuration change
	UpdateConfig(ctx context.Context, change ConfigChange) error

	// Start requests a service start with the given launch arguments
	Start(ctx context.Context, args ...string) error

	// Control sends a control request and returns the status reported by the
	// service immediately after acknowledgment
	Control(ctx context.Context, c Control) (StatusRecord, error)

	// Delete marks the registration for deletion. Removal is deferred until
	// the last open handle closes; callers must not assume immediate
	// disappearance.
	Delete(ctx context.Context) error

	// DeletePending reports whether the registration is marked for deletion
	DeletePending(ctx context.Context) (bool, error)

	// Close releases the handle. It is idempotent.
	Close() error
}
