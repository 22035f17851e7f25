//go:build windows

package scm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// systemSupervisor adapts the Windows service control manager to the
// Supervisor boundary. The control dispatcher owns the calling thread for the
// lifetime of the process, so Dispatch may be called at most once.
type systemSupervisor struct {
	mu       sync.Mutex
	services map[string]*sysService
}

// sysService is the per-service bridge between the control dispatcher's
// channels and a registered handler.
type sysService struct {
	mu       sync.Mutex
	handler  RawHandlerFunc
	changes  chan<- svc.Status
	stopped  chan struct{}
	stopOnce sync.Once
	exit     ExitCode
}

func newSystemSupervisor() (Supervisor, error) {
	return &systemSupervisor{services: make(map[string]*sysService)}, nil
}

func (s *systemSupervisor) ensure(name string) *sysService {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.services[name]
	if !ok {
		ss = &sysService{stopped: make(chan struct{})}
		s.services[name] = ss
	}
	return ss
}

// Dispatch connects the process to the service control dispatcher. The
// dispatcher started here supports a single-service table; share-process
// tables require one dispatch per process, which the system API does not
// offer through this path.
func (s *systemSupervisor) Dispatch(table Table) error {
	if len(table) == 0 {
		return &OpError{Op: OpDispatch, Err: fmt.Errorf("empty service table")}
	}
	if len(table) > 1 {
		return &OpError{Op: OpDispatch, Err: fmt.Errorf("system backend dispatches a single service per process, got %d", len(table))}
	}

	inService, err := svc.IsWindowsService()
	if err != nil {
		return &OpError{Op: OpDispatch, Err: err}
	}
	if !inService {
		return &OpError{Op: OpDispatch, Err: ErrNotAService}
	}

	for name, entry := range table {
		if entry == nil {
			return &OpError{Op: OpDispatch, Service: name, Err: fmt.Errorf("nil entry function")}
		}
		if err := svc.Run(name, &sysDispatch{sup: s, name: name, entry: entry}); err != nil {
			return &OpError{Op: OpDispatch, Service: name, Err: err}
		}
	}
	return nil
}

func (s *systemSupervisor) RegisterHandler(name string, h RawHandlerFunc) (StatusHandle, error) {
	if h == nil {
		return nil, &OpError{Op: OpRegister, Service: name, Err: fmt.Errorf("nil handler")}
	}
	ss := s.ensure(name)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.handler != nil {
		return nil, &OpError{Op: OpRegister, Service: name, Err: ErrHandlerExists}
	}
	ss.handler = h
	return &sysHandle{name: name, ss: ss}, nil
}

// sysDispatch implements svc.Handler for one table entry
type sysDispatch struct {
	sup   *systemSupervisor
	name  string
	entry EntryFunc
}

// wtsSessionNotification mirrors WTSSESSION_NOTIFICATION, the payload of
// session change requests.
type wtsSessionNotification struct {
	size      uint32
	sessionID uint32
}

func (d *sysDispatch) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	ss := d.sup.ensure(d.name)
	ss.mu.Lock()
	ss.changes = changes
	ss.mu.Unlock()

	entryDone := make(chan struct{})
	go func() {
		defer close(entryDone)
		d.entry(d.name, args)
	}()

	for {
		select {
		case cr := <-r:
			ss.deliver(cr, changes)
		case <-ss.stopped:
			<-entryDone
			ss.mu.Lock()
			ec := ss.exit
			ss.changes = nil
			ss.mu.Unlock()
			if ec.Specific != 0 {
				return true, ec.Specific
			}
			return false, ec.Win32
		}
	}
}

// deliver forwards one change request to the registered handler. The
// dispatcher acknowledges requests itself, so the handler's return value is
// advisory here; interrogation is answered directly with the current status.
func (ss *sysService) deliver(cr svc.ChangeRequest, changes chan<- svc.Status) {
	if cr.Cmd == svc.Interrogate {
		changes <- cr.CurrentStatus
	}

	req := RawRequest{Code: uint32(cr.Cmd), EventType: cr.EventType}
	if cr.Cmd == svc.SessionChange && cr.EventData != 0 {
		n := (*wtsSessionNotification)(unsafe.Pointer(cr.EventData))
		req.SessionID = n.sessionID
	}

	ss.mu.Lock()
	h := ss.handler
	ss.mu.Unlock()
	if h != nil {
		h(req)
	}
}

// sysHandle implements StatusHandle on top of the dispatcher's status channel
type sysHandle struct {
	name         string
	ss           *sysService
	mu           sync.Mutex
	deregistered bool
}

func (h *sysHandle) SetStatus(rec StatusRecord) error {
	h.mu.Lock()
	if h.deregistered {
		h.mu.Unlock()
		return &OpError{Op: OpReport, Service: h.name, Err: ErrHandleClosed}
	}
	h.mu.Unlock()

	if err := rec.validate(); err != nil {
		return &OpError{Op: OpReport, Service: h.name, Err: err}
	}

	h.ss.mu.Lock()
	changes := h.ss.changes
	h.ss.mu.Unlock()
	if changes == nil {
		return &OpError{Op: OpReport, Service: h.name, Err: ErrDisconnected}
	}

	changes <- svc.Status{
		State:                   svc.State(rec.State),
		Accepts:                 svc.Accepted(rec.Accepts),
		CheckPoint:              rec.Checkpoint,
		WaitHint:                uint32(rec.WaitHint / time.Millisecond),
		ProcessId:               rec.ProcessID,
		Win32ExitCode:           rec.ExitCode.Win32,
		ServiceSpecificExitCode: rec.ExitCode.Specific,
	}

	if rec.State == StateStopped {
		h.ss.mu.Lock()
		h.ss.exit = rec.ExitCode
		h.ss.mu.Unlock()
		h.ss.stopOnce.Do(func() { close(h.ss.stopped) })
	}
	return nil
}

func (h *sysHandle) Deregister() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deregistered {
		return nil
	}
	h.deregistered = true
	h.ss.mu.Lock()
	h.ss.handler = nil
	h.ss.mu.Unlock()
	return nil
}

// systemRegistry adapts the service control manager's management API to the
// Registry boundary.
type systemRegistry struct {
	access ManagerAccess
	mu     sync.Mutex
	m      *mgr.Mgr
	closed bool
}

func newSystemRegistry(access ManagerAccess) (Registry, error) {
	if access&ManagerConnect == 0 {
		return nil, &OpError{Op: OpConnect, Err: ErrAccessDenied}
	}
	m, err := mgr.Connect()
	if err != nil {
		return nil, &OpError{Op: OpConnect, Err: sysErr(err)}
	}
	return &systemRegistry{access: access, m: m}, nil
}

// sysErr maps system error codes onto the package sentinels so callers can
// match with errors.Is regardless of backend.
func sysErr(err error) error {
	switch {
	case errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST):
		return fmt.Errorf("%w: %v", ErrServiceNotFound, err)
	case errors.Is(err, windows.ERROR_SERVICE_EXISTS),
		errors.Is(err, windows.ERROR_DUPLICATE_SERVICE_NAME):
		return fmt.Errorf("%w: %v", ErrServiceExists, err)
	case errors.Is(err, windows.ERROR_SERVICE_MARKED_FOR_DELETE):
		return fmt.Errorf("%w: %v", ErrServiceMarkedForDeletion, err)
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case errors.Is(err, windows.ERROR_CIRCULAR_DEPENDENCY):
		return fmt.Errorf("%w: %v", ErrDependencyCycle, err)
	case errors.Is(err, windows.ERROR_SERVICE_NOT_ACTIVE):
		return fmt.Errorf("%w: %v", ErrServiceNotActive, err)
	case errors.Is(err, windows.ERROR_SERVICE_ALREADY_RUNNING):
		return fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
	case errors.Is(err, windows.ERROR_INVALID_SERVICE_CONTROL):
		return fmt.Errorf("%w: %v", ErrControlNotAccepted, err)
	case errors.Is(err, windows.ERROR_SERVICE_CANNOT_ACCEPT_CTRL):
		return fmt.Errorf("%w: %v", ErrControlNotAccepted, err)
	case errors.Is(err, windows.ERROR_SERVICE_REQUEST_TIMEOUT):
		return fmt.Errorf("%w: %v", ErrNotResponding, err)
	default:
		return err
	}
}

func (r *systemRegistry) check() (*mgr.Mgr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.m == nil {
		return nil, ErrHandleClosed
	}
	return r.m, nil
}

func (r *systemRegistry) CreateService(ctx context.Context, cfg ServiceConfig, access ServiceAccess) (RegistryHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &OpError{Op: OpCreate, Service: cfg.Name, Err: err}
	}
	m, err := r.check()
	if err != nil {
		return nil, &OpError{Op: OpCreate, Service: cfg.Name, Err: err}
	}
	if r.access&ManagerCreate == 0 {
		return nil, &OpError{Op: OpCreate, Service: cfg.Name, Err: ErrAccessDenied}
	}
	if err := cfg.validate(); err != nil {
		return nil, &OpError{Op: OpCreate, Service: cfg.Name, Err: err}
	}

	mc := mgr.Config{
		ServiceType:      uint32(cfg.ServiceType),
		StartType:        uint32(cfg.StartType),
		ErrorControl:     uint32(cfg.ErrorControl),
		BinaryPathName:   cfg.ExecutablePath,
		Dependencies:     cfg.Dependencies,
		ServiceStartName: cfg.Account,
		DisplayName:      cfg.DisplayName,
		Description:      cfg.Description,
		DelayedAutoStart: cfg.DelayedAutoStart,
	}
	s, err := m.CreateService(cfg.Name, cfg.ExecutablePath, mc, cfg.LaunchArguments...)
	if err != nil {
		return nil, &OpError{Op: OpCreate, Service: cfg.Name, Err: sysErr(err)}
	}
	return &sysRegHandle{name: cfg.Name, s: s, access: access}, nil
}

func (r *systemRegistry) OpenService(ctx context.Context, name string, access ServiceAccess) (RegistryHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &OpError{Op: OpOpen, Service: name, Err: err}
	}
	m, err := r.check()
	if err != nil {
		return nil, &OpError{Op: OpOpen, Service: name, Err: err}
	}

	name16, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, &OpError{Op: OpOpen, Service: name, Err: err}
	}
	h, err := windows.OpenService(m.Handle, name16, uint32(access))
	if err != nil {
		return nil, &OpError{Op: OpOpen, Service: name, Err: sysErr(err)}
	}
	return &sysRegHandle{name: name, s: &mgr.Service{Name: name, Handle: h}, access: access}, nil
}

func (r *systemRegistry) ListServices(ctx context.Context, filter ListFilter) ([]ServiceEntry, error) {
	m, err := r.check()
	if err != nil {
		return nil, &OpError{Op: OpEnumerate, Err: err}
	}
	if r.access&ManagerEnumerate == 0 {
		return nil, &OpError{Op: OpEnumerate, Err: ErrAccessDenied}
	}
	names, err := m.ListServices()
	if err != nil {
		return nil, &OpError{Op: OpEnumerate, Err: sysErr(err)}
	}

	entries := make([]ServiceEntry, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, &OpError{Op: OpEnumerate, Err: err}
		}
		s, err := m.OpenService(name)
		if err != nil {
			continue
		}
		status, qerr := s.Query()
		config, cerr := s.Config()
		s.Close()
		if qerr != nil || cerr != nil {
			continue
		}

		stopped := status.State == svc.Stopped
		if filter == ListActive && stopped {
			continue
		}
		if filter == ListInactive && !stopped {
			continue
		}
		entries = append(entries, ServiceEntry{
			Name:        name,
			DisplayName: config.DisplayName,
			Status:      sysStatusRecord(status),
		})
	}
	return entries, nil
}

func (r *systemRegistry) ServiceNameFromDisplayName(ctx context.Context, displayName string) (string, error) {
	m, err := r.check()
	if err != nil {
		return "", &OpError{Op: OpOpen, Err: err}
	}
	names, err := m.ListServices()
	if err != nil {
		return "", &OpError{Op: OpOpen, Err: sysErr(err)}
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return "", &OpError{Op: OpOpen, Err: err}
		}
		s, err := m.OpenService(name)
		if err != nil {
			continue
		}
		config, cerr := s.Config()
		s.Close()
		if cerr != nil {
			continue
		}
		if config.DisplayName == displayName {
			return name, nil
		}
	}
	return "", &OpError{Op: OpOpen, Err: ErrServiceNotFound}
}

func (r *systemRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.m.Disconnect()
	r.m = nil
	if err != nil {
		return &OpError{Op: OpConnect, Err: err}
	}
	return nil
}

// sysRegHandle implements RegistryHandle over an open system service handle
type sysRegHandle struct {
	name   string
	access ServiceAccess
	mu     sync.Mutex
	s      *mgr.Service
	closed bool
}

func (h *sysRegHandle) check(op Op, need ServiceAccess) (*mgr.Service, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.s == nil {
		return nil, &OpError{Op: op, Service: h.name, Err: ErrHandleClosed}
	}
	if h.access&need != need {
		return nil, &OpError{Op: op, Service: h.name, Err: ErrAccessDenied}
	}
	return h.s, nil
}

func (h *sysRegHandle) QueryStatus(ctx context.Context) (StatusRecord, error) {
	s, err := h.check(OpQueryStatus, AccessQueryStatus)
	if err != nil {
		return StatusRecord{}, err
	}
	status, err := s.Query()
	if err != nil {
		return StatusRecord{}, &OpError{Op: OpQueryStatus, Service: h.name, Err: sysErr(err)}
	}
	return sysStatusRecord(status), nil
}

func (h *sysRegHandle) QueryConfig(ctx context.Context) (ServiceConfig, error) {
	s, err := h.check(OpQueryConfig, AccessQueryConfig)
	if err != nil {
		return ServiceConfig{}, err
	}
	mc, err := s.Config()
	if err != nil {
		return ServiceConfig{}, &OpError{Op: OpQueryConfig, Service: h.name, Err: sysErr(err)}
	}
	return ServiceConfig{
		Name:             h.name,
		DisplayName:      mc.DisplayName,
		Description:      mc.Description,
		ExecutablePath:   mc.BinaryPathName,
		ServiceType:      ServiceType(mc.ServiceType),
		StartType:        StartType(mc.StartType),
		DelayedAutoStart: mc.DelayedAutoStart,
		ErrorControl:     ErrorControl(mc.ErrorControl),
		Dependencies:     mc.Dependencies,
		Account:          mc.ServiceStartName,
	}, nil
}

func (h *sysRegHandle) UpdateConfig(ctx context.Context, change ConfigChange) error {
	s, err := h.check(OpUpdateConfig, AccessChangeConfig)
	if err != nil {
		return err
	}
	mc, err := s.Config()
	if err != nil {
		return &OpError{Op: OpUpdateConfig, Service: h.name, Err: sysErr(err)}
	}
	cfg := change.apply(ServiceConfig{
		Name:             h.name,
		DisplayName:      mc.DisplayName,
		Description:      mc.Description,
		ExecutablePath:   mc.BinaryPathName,
		ServiceType:      ServiceType(mc.ServiceType),
		StartType:        StartType(mc.StartType),
		DelayedAutoStart: mc.DelayedAutoStart,
		ErrorControl:     ErrorControl(mc.ErrorControl),
		Dependencies:     mc.Dependencies,
		Account:          mc.ServiceStartName,
	})
	if err := cfg.validate(); err != nil {
		return &OpError{Op: OpUpdateConfig, Service: h.name, Err: err}
	}

	mc.DisplayName = cfg.DisplayName
	mc.Description = cfg.Description
	mc.BinaryPathName = cfg.ExecutablePath
	mc.StartType = uint32(cfg.StartType)
	mc.DelayedAutoStart = cfg.DelayedAutoStart
	mc.ErrorControl = uint32(cfg.ErrorControl)
	mc.Dependencies = cfg.Dependencies
	mc.ServiceStartName = cfg.Account
	if err := s.UpdateConfig(mc); err != nil {
		return &OpError{Op: OpUpdateConfig, Service: h.name, Err: sysErr(err)}
	}
	return nil
}

func (h *sysRegHandle) Start(ctx context.Context, args ...string) error {
	s, err := h.check(OpStart, AccessStart)
	if err != nil {
		return err
	}
	if err := s.Start(args...); err != nil {
		return &OpError{Op: OpStart, Service: h.name, Err: sysErr(err)}
	}
	return nil
}

func (h *sysRegHandle) Control(ctx context.Context, c Control) (StatusRecord, error) {
	s, err := h.check(OpControl, controlAccess(c))
	if err != nil {
		return StatusRecord{}, err
	}
	status, err := s.Control(svc.Cmd(c))
	if err != nil {
		return StatusRecord{}, &OpError{Op: OpControl, Service: h.name, Err: sysErr(err)}
	}
	return sysStatusRecord(status), nil
}

func (h *sysRegHandle) Delete(ctx context.Context) error {
	s, err := h.check(OpDelete, AccessDelete)
	if err != nil {
		return err
	}
	if err := s.Delete(); err != nil {
		return &OpError{Op: OpDelete, Service: h.name, Err: sysErr(err)}
	}
	return nil
}

// DeletePending is not queryable through the management API on this backend
func (h *sysRegHandle) DeletePending(ctx context.Context) (bool, error) {
	if _, err := h.check(OpQueryStatus, AccessQueryStatus); err != nil {
		return false, err
	}
	return false, &OpError{Op: OpQueryStatus, Service: h.name, Err: ErrUnsupported}
}

func (h *sysRegHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	err := h.s.Close()
	h.s = nil
	if err != nil {
		return &OpError{Op: OpConnect, Service: h.name, Err: err}
	}
	return nil
}

func compiledBackends() []Backend {
	return []Backend{BackendLocal, BackendSystem}
}

func sysStatusRecord(status svc.Status) StatusRecord {
	return StatusRecord{
		State:      State(status.State),
		Accepts:    Accepted(status.Accepts),
		Checkpoint: status.CheckPoint,
		WaitHint:   time.Duration(status.WaitHint) * time.Millisecond,
		ProcessID:  status.ProcessId,
		ExitCode:   ExitCode{Win32: status.Win32ExitCode, Specific: status.ServiceSpecificExitCode},
	}
}
