package scm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// OpenRegistry opens a management session against the local registry with
// the requested access rights. Sessions and the handles they produce check
// access on every operation, mirroring the external supervisor's behavior.
func (s *LocalSupervisor) OpenRegistry(access ManagerAccess) (Registry, error) {
	if access&ManagerConnect == 0 {
		return nil, &OpError{Op: OpConnect, Err: ErrAccessDenied}
	}
	return &localRegistry{sup: s, access: access}, nil
}

// localRegistry is a management session over a LocalSupervisor
type localRegistry struct {
	sup    *LocalSupervisor
	access ManagerAccess

	mu     sync.Mutex
	closed bool
}

func (r *localRegistry) check(need ManagerAccess, op Op) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return &OpError{Op: op, Err: ErrHandleClosed}
	}
	if r.access&need != need {
		return &OpError{Op: op, Err: ErrAccessDenied}
	}
	return nil
}

// CreateService implements Registry. Dependency cycles, including transitive
// ones through already registered services, are rejected here rather than
// deferred to start time.
func (r *localRegistry) CreateService(ctx context.Context, cfg ServiceConfig, access ServiceAccess) (RegistryHandle, error) {
	if err := r.check(ManagerCreate, OpCreate); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, &OpError{Op: OpCreate, Service: cfg.Name, Err: err}
	}

	s := r.sup
	s.mu.Lock()

	if existing, ok := s.services[cfg.Name]; ok && existing.hasConfig {
		err := ErrServiceExists
		if existing.deletePending {
			err = ErrServiceMarkedForDeletion
		}
		s.mu.Unlock()
		return nil, &OpError{Op: OpCreate, Service: cfg.Name, Err: err}
	}

	if err := checkDependencyCycle(cfg.Name, cfg.Dependencies, s.dependencyLookupLocked()); err != nil {
		s.mu.Unlock()
		return nil, &OpError{Op: OpCreate, Service: cfg.Name, Err: err}
	}

	svc := s.getOrCreate(cfg.Name)
	svc.config = cfg
	svc.hasConfig = true
	svc.status.ServiceType = cfg.ServiceType

	if err := s.persistConfig(cfg); err != nil {
		svc.hasConfig = false
		s.mu.Unlock()
		return nil, &OpError{Op: OpCreate, Service: cfg.Name, Err: err}
	}
	s.persistStatus(cfg.Name, svc.status)

	svc.refs++
	s.mu.Unlock()

	return &localRegHandle{sup: s, name: cfg.Name, access: access}, nil
}

// OpenService implements Registry. A registration marked for deletion stays
// openable and queryable until its last handle closes.
func (r *localRegistry) OpenService(ctx context.Context, name string, access ServiceAccess) (RegistryHandle, error) {
	if err := r.check(ManagerConnect, OpOpen); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := r.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[name]
	if !ok || !svc.hasConfig {
		return nil, &OpError{Op: OpOpen, Service: name, Err: ErrServiceNotFound}
	}

	svc.refs++
	return &localRegHandle{sup: s, name: name, access: access}, nil
}

// dependencyLookupLocked returns a lookup over registered services'
// dependency lists. Caller holds s.mu.
func (s *LocalSupervisor) dependencyLookupLocked() func(string) ([]string, bool) {
	return func(name string) ([]string, bool) {
		if svc, ok := s.services[name]; ok && svc.hasConfig {
			return svc.config.Dependencies, true
		}
		return nil, false
	}
}

// ListServices implements Registry
func (r *localRegistry) ListServices(ctx context.Context, filter ListFilter) ([]ServiceEntry, error) {
	if err := r.check(ManagerEnumerate, OpEnumerate); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := r.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ServiceEntry
	for _, svc := range s.services {
		if !svc.hasConfig {
			continue
		}
		stopped := svc.status.State == StateStopped
		if filter == ListActive && stopped {
			continue
		}
		if filter == ListInactive && !stopped {
			continue
		}
		out = append(out, ServiceEntry{
			Name:        svc.name,
			DisplayName: svc.config.DisplayName,
			Status:      svc.status,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ServiceNameFromDisplayName implements Registry
func (r *localRegistry) ServiceNameFromDisplayName(ctx context.Context, displayName string) (string, error) {
	if err := r.check(ManagerConnect, OpOpen); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s := r.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, svc := range s.services {
		if svc.hasConfig && svc.config.DisplayName == displayName {
			return svc.name, nil
		}
	}
	return "", &OpError{Op: OpOpen, Service: displayName, Err: ErrServiceNotFound}
}

// Close implements Registry
func (r *localRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// localRegHandle is an open handle to one local service registration
type localRegHandle struct {
	sup    *LocalSupervisor
	name   string
	access ServiceAccess

	mu     sync.Mutex
	closed bool
}

func (h *localRegHandle) check(need ServiceAccess, op Op) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return &OpError{Op: op, Service: h.name, Err: ErrHandleClosed}
	}
	if h.access&need != need {
		return &OpError{Op: op, Service: h.name, Err: ErrAccessDenied}
	}
	return nil
}

// QueryStatus implements RegistryHandle
func (h *localRegHandle) QueryStatus(ctx context.Context) (StatusRecord, error) {
	if err := h.check(AccessQueryStatus, OpQueryStatus); err != nil {
		return StatusRecord{}, err
	}
	if err := ctx.Err(); err != nil {
		return StatusRecord{}, err
	}

	s := h.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[h.name]
	if !ok {
		return StatusRecord{}, &OpError{Op: OpQueryStatus, Service: h.name, Err: ErrServiceNotFound}
	}
	svc.expireLocked(time.Now())
	return svc.status, nil
}

// QueryConfig implements RegistryHandle
func (h *localRegHandle) QueryConfig(ctx context.Context) (ServiceConfig, error) {
	if err := h.check(AccessQueryConfig, OpQueryConfig); err != nil {
		return ServiceConfig{}, err
	}
	if err := ctx.Err(); err != nil {
		return ServiceConfig{}, err
	}

	s := h.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[h.name]
	if !ok || !svc.hasConfig {
		return ServiceConfig{}, &OpError{Op: OpQueryConfig, Service: h.name, Err: ErrServiceNotFound}
	}

	cfg := svc.config
	cfg.LaunchArguments = append([]string(nil), svc.config.LaunchArguments...)
	cfg.Dependencies = append([]string(nil), svc.config.Dependencies...)
	return cfg, nil
}

// UpdateConfig implements RegistryHandle. Cycle detection runs against the
// merged configuration before anything is persisted.
func (h *localRegHandle) UpdateConfig(ctx context.Context, change ConfigChange) error {
	if err := h.check(AccessChangeConfig, OpUpdateConfig); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := h.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[h.name]
	if !ok || !svc.hasConfig {
		return &OpError{Op: OpUpdateConfig, Service: h.name, Err: ErrServiceNotFound}
	}
	if svc.deletePending {
		return &OpError{Op: OpUpdateConfig, Service: h.name, Err: ErrServiceMarkedForDeletion}
	}

	merged := change.apply(svc.config)
	if err := merged.validate(); err != nil {
		return &OpError{Op: OpUpdateConfig, Service: h.name, Err: err}
	}
	if err := checkDependencyCycle(h.name, merged.Dependencies, s.dependencyLookupLocked()); err != nil {
		return &OpError{Op: OpUpdateConfig, Service: h.name, Err: err}
	}

	if err := s.persistConfig(merged); err != nil {
		return &OpError{Op: OpUpdateConfig, Service: h.name, Err: err}
	}
	svc.config = merged
	return nil
}

// Start implements RegistryHandle
func (h *localRegHandle) Start(ctx context.Context, args ...string) error {
	if err := h.check(AccessStart, OpStart); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := h.sup.startService(h.name, args); err != nil {
		return &OpError{Op: OpStart, Service: h.name, Err: err}
	}
	return nil
}

// controlAccess maps a control request to the handle access right it needs
func controlAccess(c Control) ServiceAccess {
	switch c {
	case ControlStop:
		return AccessStop
	case ControlPause, ControlContinue:
		return AccessPauseContinue
	case ControlInterrogate:
		return AccessInterrogate
	default:
		if c.UserDefined() {
			return AccessUserDefined
		}
		return AccessStop
	}
}

// Control implements RegistryHandle
func (h *localRegHandle) Control(ctx context.Context, c Control) (StatusRecord, error) {
	if err := h.check(controlAccess(c), OpControl); err != nil {
		return StatusRecord{}, err
	}
	if err := ctx.Err(); err != nil {
		return StatusRecord{}, err
	}

	rec, err := h.sup.control(h.name, c)
	if err != nil {
		var opErr *OpError
		if !errors.As(err, &opErr) {
			err = &OpError{Op: OpControl, Service: h.name, Err: err}
		}
		return StatusRecord{}, err
	}
	return rec, nil
}

// Delete implements RegistryHandle. The registration is only marked; removal
// happens when the last handle closes and no control handler is registered.
func (h *localRegHandle) Delete(ctx context.Context) error {
	if err := h.check(AccessDelete, OpDelete); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := h.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[h.name]
	if !ok || !svc.hasConfig {
		return &OpError{Op: OpDelete, Service: h.name, Err: ErrServiceNotFound}
	}

	svc.deletePending = true
	return nil
}

// DeletePending implements RegistryHandle
func (h *localRegHandle) DeletePending(ctx context.Context) (bool, error) {
	if err := h.check(AccessQueryStatus, OpQueryStatus); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s := h.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[h.name]
	if !ok {
		return false, &OpError{Op: OpQueryStatus, Service: h.name, Err: ErrServiceNotFound}
	}
	return svc.deletePending, nil
}

// Close implements RegistryHandle. Idempotent.
func (h *localRegHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	s := h.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[h.name]
	if !ok {
		return nil
	}
	if svc.refs > 0 {
		svc.refs--
	}
	s.reapLocked(svc)
	return nil
}
