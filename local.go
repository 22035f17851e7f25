package scm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// LocalSupervisor is an in-process implementation of both the Supervisor and
// Registry boundaries. It persists service configurations as YAML files and
// status records as small binary files under a registry directory, delivers
// control requests to registered handlers on the caller's goroutine, and
// enforces the checkpoint and wait hint heartbeat contract.
//
// It serves two purposes: a hermetic backend for tests, and a lightweight
// registry for processes that host their own services without a system
// service manager.
type LocalSupervisor struct {
	// Dir is the registry root directory
	Dir string

	// Detached simulates a process that was not launched by the supervisor:
	// Dispatch fails with ErrNotAService
	Detached bool

	mu         sync.Mutex
	services   map[string]*localService
	table      Table
	dispatched bool
	done       bool
	wg         sync.WaitGroup
}

// localService is the supervisor's runtime record for one service
type localService struct {
	name          string
	config        ServiceConfig
	hasConfig     bool
	status        StatusRecord
	handler       RawHandlerFunc
	refs          int
	deletePending bool
	notResponding bool
	deadline      time.Time
}

// LocalOption configures a LocalSupervisor
type LocalOption func(*LocalSupervisor)

// WithDetached marks the supervisor as not having launched this process,
// making Dispatch fail with ErrNotAService
func WithDetached() LocalOption {
	return func(s *LocalSupervisor) {
		s.Detached = true
	}
}

// NewLocalSupervisor opens (creating if needed) a local registry rooted at
// dir and loads any persisted service configurations.
func NewLocalSupervisor(dir string, opts ...LocalOption) (*LocalSupervisor, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving registry dir: %w", err)
	}
	if err := os.MkdirAll(absDir, DirMode); err != nil {
		return nil, fmt.Errorf("creating registry dir: %w", err)
	}

	s := &LocalSupervisor{
		Dir:      absDir,
		services: make(map[string]*localService),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadAll(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *LocalSupervisor) loadAll() error {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return fmt.Errorf("reading registry dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), configSuffix) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			return fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		var cfg ServiceConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Name(), err)
		}
		if cfg.Name == "" {
			cfg.Name = strings.TrimSuffix(e.Name(), configSuffix)
		}

		svc := &localService{
			name:      cfg.Name,
			config:    cfg,
			hasConfig: true,
			status: StatusRecord{
				ServiceType: cfg.ServiceType,
				State:       StateStopped,
			},
		}
		s.services[cfg.Name] = svc
	}

	return nil
}

// Registry file suffixes
const (
	configSuffix = ".yaml"
	statusSuffix = ".status"
)

func (s *LocalSupervisor) configPath(name string) string {
	return filepath.Join(s.Dir, name+configSuffix)
}

func (s *LocalSupervisor) statusPath(name string) string {
	return filepath.Join(s.Dir, name+statusSuffix)
}

func (s *LocalSupervisor) persistConfig(cfg ServiceConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := renameio.WriteFile(s.configPath(cfg.Name), data, FileMode); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (s *LocalSupervisor) persistStatus(name string, rec StatusRecord) {
	buf := encodeStatus(rec)
	// Status files are advisory (they feed Watch); a failed write must not
	// fail the submission that produced it.
	_ = renameio.WriteFile(s.statusPath(name), buf[:], FileMode)
}

// getOrCreate returns the runtime record for name, creating an ephemeral
// (unregistered) one if needed. Caller holds s.mu.
func (s *LocalSupervisor) getOrCreate(name string) *localService {
	svc, ok := s.services[name]
	if !ok {
		svc = &localService{
			name:   name,
			status: StatusRecord{ServiceType: TypeOwnProcess, State: StateStopped},
		}
		s.services[name] = svc
	}
	return svc
}

// expireLocked applies the wait hint contract: a pending service whose
// deadline passed without a checkpoint advance is marked not responding.
// Caller holds s.mu.
func (svc *localService) expireLocked(now time.Time) {
	if svc.status.State.Pending() && !svc.deadline.IsZero() && now.After(svc.deadline) {
		svc.notResponding = true
	}
}

// NotResponding reports whether the named service exhausted its wait hint
// while in a pending state
func (s *LocalSupervisor) NotResponding(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[name]
	if !ok {
		return false
	}
	svc.expireLocked(time.Now())
	return svc.notResponding
}

// Dispatch implements Supervisor. Every entry in the table is invoked on its
// own goroutine, as if the supervisor had launched the process to run those
// services; the call blocks until all entry goroutines have returned. An
// entry function that returns without reporting stopped is recorded as
// terminated unexpectedly.
func (s *LocalSupervisor) Dispatch(table Table) error {
	s.mu.Lock()
	if s.Detached {
		s.mu.Unlock()
		return ErrNotAService
	}
	if s.dispatched {
		s.mu.Unlock()
		return fmt.Errorf("scm: dispatch already started")
	}
	s.dispatched = true
	s.table = make(Table, len(table))
	for name, entry := range table {
		s.table[name] = entry
	}
	s.mu.Unlock()

	for name := range table {
		s.mu.Lock()
		svc := s.getOrCreate(name)
		var args []string
		if svc.hasConfig {
			args = append([]string(nil), svc.config.LaunchArguments...)
		}
		s.mu.Unlock()
		s.invokeEntry(name, args)
	}

	s.wg.Wait()

	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	return nil
}

// invokeEntry runs a dispatched entry function on a dedicated goroutine
func (s *LocalSupervisor) invokeEntry(name string, args []string) {
	s.mu.Lock()
	entry := s.table[name]
	s.mu.Unlock()
	if entry == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		entry(name, args)
		s.finalizeEntry(name)
	}()
}

// finalizeEntry records an unexpected termination for an entry function that
// returned without reporting stopped
func (s *LocalSupervisor) finalizeEntry(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[name]
	if !ok {
		return
	}
	if svc.status.State != StateStopped {
		svc.status = StatusRecord{
			ServiceType: svc.status.ServiceType,
			State:       StateStopped,
			ExitCode:    ExitCode{Win32: CodeProcessAborted},
		}
		svc.deadline = time.Time{}
		s.persistStatus(name, svc.status)
	}
}

// RegisterHandler implements Supervisor
func (s *LocalSupervisor) RegisterHandler(name string, h RawHandlerFunc) (StatusHandle, error) {
	if h == nil {
		return nil, fmt.Errorf("scm: nil handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	svc := s.getOrCreate(name)
	if svc.handler != nil {
		return nil, ErrHandlerExists
	}
	svc.handler = h

	return &localHandle{sup: s, name: name}, nil
}

// localHandle is the registration token issued by RegisterHandler
type localHandle struct {
	sup  *LocalSupervisor
	name string

	mu           sync.Mutex
	deregistered bool
}

// SetStatus implements StatusHandle. It enforces the transition graph and the
// checkpoint sequencing contract on behalf of the supervisor: a pending
// resubmission with an unchanged checkpoint is accepted as an idempotent
// heartbeat refresh rather than rejected.
func (h *localHandle) SetStatus(rec StatusRecord) error {
	h.mu.Lock()
	if h.deregistered {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	h.mu.Unlock()

	if err := rec.validate(); err != nil {
		return err
	}

	s := h.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[h.name]
	if !ok {
		return ErrServiceNotFound
	}

	if err := validateTransition(svc.status.State, rec.State); err != nil {
		return err
	}

	now := time.Now()
	if rec.State.Pending() {
		if rec.State == svc.status.State {
			if rec.Checkpoint < svc.status.Checkpoint {
				return fmt.Errorf("%w: checkpoint %d after %d",
					ErrInvalidTransition, rec.Checkpoint, svc.status.Checkpoint)
			}
			// Equal checkpoint: idempotent no-op, but refresh the deadline.
		}
		svc.deadline = now.Add(rec.WaitHint)
		if rec.Checkpoint > svc.status.Checkpoint || rec.State != svc.status.State {
			svc.notResponding = false
		}
	} else {
		svc.deadline = time.Time{}
		svc.notResponding = false
	}

	svc.status = rec
	s.persistStatus(h.name, rec)
	return nil
}

// Deregister implements StatusHandle. Idempotent.
func (h *localHandle) Deregister() error {
	h.mu.Lock()
	if h.deregistered {
		h.mu.Unlock()
		return nil
	}
	h.deregistered = true
	h.mu.Unlock()

	s := h.sup
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[h.name]
	if !ok {
		return nil
	}
	svc.handler = nil
	s.reapLocked(svc)
	return nil
}

// reapLocked removes a registration marked for deletion once nothing
// references it anymore. Caller holds s.mu.
func (s *LocalSupervisor) reapLocked(svc *localService) {
	if !svc.deletePending || svc.refs > 0 || svc.handler != nil {
		return
	}
	_ = os.Remove(s.configPath(svc.name))
	_ = os.Remove(s.statusPath(svc.name))
	delete(s.services, svc.name)
}

// startService transitions a stopped service to start-pending and invokes its
// dispatched entry function
func (s *LocalSupervisor) startService(name string, args []string) error {
	s.mu.Lock()

	svc, ok := s.services[name]
	if !ok {
		s.mu.Unlock()
		return ErrServiceNotFound
	}
	if svc.deletePending {
		s.mu.Unlock()
		return ErrServiceMarkedForDeletion
	}
	if svc.hasConfig && svc.config.StartType == StartDisabled {
		s.mu.Unlock()
		return fmt.Errorf("scm: service %q is disabled", name)
	}
	if svc.status.State != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if !s.dispatched || s.done || s.table[name] == nil {
		s.mu.Unlock()
		return ErrNoEntry
	}

	if len(args) == 0 && svc.hasConfig {
		args = append([]string(nil), svc.config.LaunchArguments...)
	}

	svc.status = StatusRecord{
		ServiceType: svc.status.ServiceType,
		State:       StateStartPending,
		WaitHint:    DefaultWaitHint,
	}
	svc.deadline = time.Now().Add(DefaultWaitHint)
	s.persistStatus(name, svc.status)
	s.mu.Unlock()

	s.invokeEntry(name, args)
	return nil
}

// control delivers a control request to the service's registered handler and
// returns the status observed immediately after the acknowledgment
func (s *LocalSupervisor) control(name string, c Control) (StatusRecord, error) {
	s.mu.Lock()
	svc, ok := s.services[name]
	if !ok {
		s.mu.Unlock()
		return StatusRecord{}, ErrServiceNotFound
	}

	svc.expireLocked(time.Now())
	if svc.notResponding {
		s.mu.Unlock()
		return StatusRecord{}, ErrNotResponding
	}

	handler := svc.handler
	if handler == nil {
		s.mu.Unlock()
		return StatusRecord{}, ErrServiceNotActive
	}
	if c != ControlInterrogate && !acceptsControl(svc.status.Accepts, c) {
		s.mu.Unlock()
		return StatusRecord{}, ErrControlNotAccepted
	}
	s.mu.Unlock()

	// The handler is invoked without the supervisor lock held: it is allowed
	// to submit a status update from another goroutine while we wait.
	ack := handler(RawRequest{Code: uint32(c)})
	if ack != 0 && ack != CodeQueryDeny {
		return StatusRecord{}, &OpError{Op: OpControl, Service: name, Code: ack, Err: ErrControlNotAccepted}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.services[name]; ok {
		return cur.status, nil
	}
	return StatusRecord{}, ErrServiceNotFound
}

// Shutdown broadcasts the shutdown notification to every active service that
// accepts it. It does not wait for the services to stop; callers observe
// progress through status queries or Dispatch returning.
func (s *LocalSupervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	var names []string
	for name, svc := range s.services {
		if svc.handler != nil && svc.status.Accepts.Has(AcceptShutdown) {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	merr := &MultiError{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			merr.Add(err)
			break
		}
		if _, err := s.control(name, ControlShutdown); err != nil {
			merr.Add(&OpError{Op: OpControl, Service: name, Err: err})
		}
	}
	return merr.Err()
}
