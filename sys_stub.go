//go:build !windows

package scm

// The system backend requires the platform service control manager. On other
// platforms these constructors fail with ErrUnsupported; use BackendLocal.

func newSystemSupervisor() (Supervisor, error) {
	return nil, &OpError{Op: OpDispatch, Err: ErrUnsupported}
}

func newSystemRegistry(access ManagerAccess) (Registry, error) {
	return nil, &OpError{Op: OpConnect, Err: ErrUnsupported}
}

func compiledBackends() []Backend {
	return []Backend{BackendLocal}
}
