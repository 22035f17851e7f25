package scm

import "time"

// Default tunables for registrations, reporters, and the local backend
const (
	// DefaultQueueCapacity is the default control event queue depth per service
	DefaultQueueCapacity = 16

	// DefaultEnqueueTimeout bounds how long the supervisor-owned handler thread
	// may wait for queue space before dropping the newest event
	DefaultEnqueueTimeout = 100 * time.Millisecond

	// DefaultWaitHint is the default wait hint reported for pending states
	DefaultWaitHint = 10 * time.Second

	// DefaultWatchDebounce is the default debounce time for status file watching
	DefaultWatchDebounce = 25 * time.Millisecond

	// DefaultConcurrency is the default parallelism for bulk manager operations
	DefaultConcurrency = 10

	// DefaultOpTimeout is the default per-operation timeout for bulk manager
	// operations
	DefaultOpTimeout = 5 * time.Second
)

// File modes used by the local registry backend
const (
	// DirMode is the default mode for created directories
	DirMode = 0o755

	// FileMode is the default mode for created registry files
	FileMode = 0o644
)

// External error codes from the supervisor's fixed error space.
// The values match the Windows service control manager, which defines
// the protocol this package implements.
const (
	// CodeCallNotImplemented acknowledges a control the handler does not support
	CodeCallNotImplemented uint32 = 120

	// CodeServiceSpecificError marks an exit code whose meaning is defined by
	// the service rather than the system
	CodeServiceSpecificError uint32 = 1066

	// CodeInvalidServiceControl is reported when a control is sent that the
	// target does not currently accept
	CodeInvalidServiceControl uint32 = 1052

	// CodeRequestTimeout is reported when a pending service exhausts its wait
	// hint without advancing its checkpoint
	CodeRequestTimeout uint32 = 1053

	// CodeServiceNotActive is reported when a control is sent to a service with
	// no registered handler
	CodeServiceNotActive uint32 = 1062

	// CodeProcessAborted is recorded when an entry function terminates without
	// reporting a final stopped status
	CodeProcessAborted uint32 = 1067

	// CodeQueryDeny is the acknowledgment that vetoes a power event
	CodeQueryDeny uint32 = 0x424D5144
)

// panicExitCode is the service-specific exit code recorded when an entry
// function panics and the dispatcher converts the failure into a terminal
// stopped status.
const panicExitCode uint32 = 0xFE

// Op identifies a library operation for error reporting
type Op int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Op = iota
	// OpRegister registers a control handler
	OpRegister
	// OpDeregister tears down a control handler registration
	OpDeregister
	// OpReport submits a status record
	OpReport
	// OpDispatch runs the service dispatch loop
	OpDispatch
	// OpConnect opens a registry session
	OpConnect
	// OpCreate creates a service registration
	OpCreate
	// OpOpen opens an existing service registration
	OpOpen
	// OpQueryStatus queries a service's current status
	OpQueryStatus
	// OpQueryConfig reads a service's persisted configuration
	OpQueryConfig
	// OpUpdateConfig rewrites parts of a service's persisted configuration
	OpUpdateConfig
	// OpStart requests a service start
	OpStart
	// OpControl sends a control request
	OpControl
	// OpDelete marks a registration for deletion
	OpDelete
	// OpEnumerate lists service registrations
	OpEnumerate
	// OpWatch monitors a service's status for changes
	OpWatch
)

// Op string constants
const (
	opUnknownStr      = "unknown"
	opRegisterStr     = "register"
	opDeregisterStr   = "deregister"
	opReportStr       = "report"
	opDispatchStr     = "dispatch"
	opConnectStr      = "connect"
	opCreateStr       = "create"
	opOpenStr         = "open"
	opQueryStatusStr  = "query-status"
	opQueryConfigStr  = "query-config"
	opUpdateConfigStr = "update-config"
	opStartStr        = "start"
	opControlStr      = "control"
	opDeleteStr       = "delete"
	opEnumerateStr    = "enumerate"
	opWatchStr        = "watch"
)

// String returns the string representation of an Op
func (op Op) String() string {
	switch op {
	case OpRegister:
		return opRegisterStr
	case OpDeregister:
		return opDeregisterStr
	case OpReport:
		return opReportStr
	case OpDispatch:
		return opDispatchStr
	case OpConnect:
		return opConnectStr
	case OpCreate:
		return opCreateStr
	case OpOpen:
		return opOpenStr
	case OpQueryStatus:
		return opQueryStatusStr
	case OpQueryConfig:
		return opQueryConfigStr
	case OpUpdateConfig:
		return opUpdateConfigStr
	case OpStart:
		return opStartStr
	case OpControl:
		return opControlStr
	case OpDelete:
		return opDeleteStr
	case OpEnumerate:
		return opEnumerateStr
	case OpWatch:
		return opWatchStr
	default:
		return opUnknownStr
	}
}

// ServiceType describes how the service process is hosted
type ServiceType uint32

const (
	// TypeKernelDriver is a kernel device driver
	TypeKernelDriver ServiceType = 0x1
	// TypeFileSystemDriver is a file system driver
	TypeFileSystemDriver ServiceType = 0x2
	// TypeOwnProcess runs in its own process
	TypeOwnProcess ServiceType = 0x10
	// TypeShareProcess shares a process with other services
	TypeShareProcess ServiceType = 0x20
	// TypeInteractive may interact with the desktop (combined with a process type)
	TypeInteractive ServiceType = 0x100
)

// ManagerAccess describes access permissions requested on a registry session
type ManagerAccess uint32

const (
	// ManagerConnect permits connecting to the registry
	ManagerConnect ManagerAccess = 0x1
	// ManagerCreate permits creating service registrations
	ManagerCreate ManagerAccess = 0x2
	// ManagerEnumerate permits enumerating registrations
	ManagerEnumerate ManagerAccess = 0x4
	// ManagerAllAccess includes all registry permissions
	ManagerAllAccess = ManagerConnect | ManagerCreate | ManagerEnumerate
)

// ServiceAccess describes access permissions requested on a service handle
type ServiceAccess uint32

const (
	// AccessQueryConfig permits reading the persisted configuration
	AccessQueryConfig ServiceAccess = 0x1
	// AccessChangeConfig permits rewriting the persisted configuration
	AccessChangeConfig ServiceAccess = 0x2
	// AccessQueryStatus permits querying the current status
	AccessQueryStatus ServiceAccess = 0x4
	// AccessStart permits starting the service
	AccessStart ServiceAccess = 0x10
	// AccessStop permits sending stop controls
	AccessStop ServiceAccess = 0x20
	// AccessPauseContinue permits sending pause and continue controls
	AccessPauseContinue ServiceAccess = 0x40
	// AccessInterrogate permits sending interrogate controls
	AccessInterrogate ServiceAccess = 0x80
	// AccessUserDefined permits sending user-defined controls
	AccessUserDefined ServiceAccess = 0x100
	// AccessDelete permits marking the registration for deletion
	AccessDelete ServiceAccess = 0x10000
	// AccessAll includes all service permissions
	AccessAll = AccessQueryConfig | AccessChangeConfig | AccessQueryStatus |
		AccessStart | AccessStop | AccessPauseContinue | AccessInterrogate |
		AccessUserDefined | AccessDelete
)

// StartType describes when the supervisor launches the service
type StartType uint32

const (
	// StartBoot loads at kernel boot (drivers only)
	StartBoot StartType = 0
	// StartSystem loads at system initialization (drivers only)
	StartSystem StartType = 1
	// StartAuto starts automatically at supervisor startup
	StartAuto StartType = 2
	// StartManual starts only on demand
	StartManual StartType = 3
	// StartDisabled can not be started
	StartDisabled StartType = 4
)

// StartType string constants
const (
	startBootStr     = "boot"
	startSystemStr   = "system"
	startAutoStr     = "auto"
	startManualStr   = "manual"
	startDisabledStr = "disabled"
)

// String returns the string representation of a StartType
func (t StartType) String() string {
	switch t {
	case StartBoot:
		return startBootStr
	case StartSystem:
		return startSystemStr
	case StartAuto:
		return startAutoStr
	case StartManual:
		return startManualStr
	case StartDisabled:
		return startDisabledStr
	default:
		return opUnknownStr
	}
}

// ErrorControl describes how the supervisor reacts when the service fails to
// start during system startup
type ErrorControl uint32

const (
	// ErrorControlIgnore logs nothing and continues startup
	ErrorControlIgnore ErrorControl = 0
	// ErrorControlNormal logs the failure and continues startup
	ErrorControlNormal ErrorControl = 1
	// ErrorControlSevere restarts with last-known-good configuration
	ErrorControlSevere ErrorControl = 2
	// ErrorControlCritical fails startup if last-known-good is already active
	ErrorControlCritical ErrorControl = 3
)

// ExitCode reports how a service terminated. A zero value means success.
// Specific is only meaningful when Win32 is CodeServiceSpecificError.
type ExitCode struct {
	// Win32 is the system-level exit code
	Win32 uint32
	// Specific is the service-defined exit code
	Specific uint32
}

// ExitSuccess is the exit code of a cleanly stopped service
var ExitSuccess = ExitCode{}

// ServiceSpecificExit builds an exit code whose meaning is defined by the
// service itself rather than the system error space
func ServiceSpecificExit(code uint32) ExitCode {
	return ExitCode{Win32: CodeServiceSpecificError, Specific: code}
}

// OK reports whether the exit code indicates success
func (e ExitCode) OK() bool {
	return e.Win32 == 0 && e.Specific == 0
}
