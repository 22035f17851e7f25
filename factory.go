package scm

// Backend identifies a supervisor implementation
type Backend int

const (
	// BackendLocal is the portable in-process registry and supervisor
	BackendLocal Backend = iota
	// BackendSystem is the operating system's service control manager,
	// available on Windows only
	BackendSystem
)

// Backend string constants
const (
	backendLocalStr  = "local"
	backendSystemStr = "system"
)

// String returns the string representation of a Backend
func (b Backend) String() string {
	switch b {
	case BackendLocal:
		return backendLocalStr
	case BackendSystem:
		return backendSystemStr
	default:
		return opUnknownStr
	}
}

// NewSupervisor creates the process-side supervisor boundary for the chosen
// backend. registryDir is only used by BackendLocal.
func NewSupervisor(b Backend, registryDir string) (Supervisor, error) {
	switch b {
	case BackendLocal:
		return NewLocalSupervisor(registryDir)
	case BackendSystem:
		return newSystemSupervisor()
	default:
		return nil, ErrUnsupported
	}
}

// NewRegistry opens the management-side registry boundary for the chosen
// backend with the requested access. registryDir is only used by
// BackendLocal.
//
// A local Registry opened this way shares persisted configuration and status
// with other processes through the registry directory, but control delivery
// reaches only handlers registered on the same LocalSupervisor instance; use
// LocalSupervisor.OpenRegistry when managing services hosted in-process.
func NewRegistry(b Backend, registryDir string, access ManagerAccess) (Registry, error) {
	switch b {
	case BackendLocal:
		sup, err := NewLocalSupervisor(registryDir)
		if err != nil {
			return nil, err
		}
		return sup.OpenRegistry(access)
	case BackendSystem:
		return newSystemRegistry(access)
	default:
		return nil, ErrUnsupported
	}
}
