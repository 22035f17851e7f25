package scm

import (
	"context"
	"sync"
	"time"
)

// Manager is the management-side entry point for installing, controlling, and
// querying service registrations. It wraps a Registry session and adds typed
// errors, dependency validation, and bulk operations with bounded
// concurrency. It is independent of the runtime side: the registrations it
// manages may be hosted by a different process.
type Manager struct {
	// Concurrency is the maximum number of concurrent bulk operations
	Concurrency int
	// Timeout is the per-operation timeout for bulk operations
	Timeout time.Duration

	reg Registry
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithConcurrency sets the maximum number of concurrent bulk operations
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		m.Concurrency = n
	}
}

// WithTimeout sets the per-operation timeout for bulk operations
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.Timeout = d
	}
}

// NewManager creates a Manager over an open registry session
func NewManager(reg Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		Concurrency: DefaultConcurrency,
		Timeout:     DefaultOpTimeout,
		reg:         reg,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.Concurrency < 1 {
		m.Concurrency = 1
	}

	return m
}

// Create persists a new service registration and returns an open handle to it
func (m *Manager) Create(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	h, err := m.reg.CreateService(ctx, cfg, AccessAll)
	if err != nil {
		return nil, err
	}
	return &Service{Name: cfg.Name, h: h}, nil
}

// Open opens an existing service registration with the requested access
func (m *Manager) Open(ctx context.Context, name string, access ServiceAccess) (*Service, error) {
	h, err := m.reg.OpenService(ctx, name, access)
	if err != nil {
		return nil, err
	}
	return &Service{Name: name, h: h}, nil
}

// Enumerate lists registrations matching the filter
func (m *Manager) Enumerate(ctx context.Context, filter ListFilter) ([]ServiceEntry, error) {
	return m.reg.ListServices(ctx, filter)
}

// ServiceNameFromDisplayName resolves a display name to the service name
func (m *Manager) ServiceNameFromDisplayName(ctx context.Context, displayName string) (string, error) {
	return m.reg.ServiceNameFromDisplayName(ctx, displayName)
}

// Close releases the underlying registry session
func (m *Manager) Close() error {
	return m.reg.Close()
}

// Service is an open management handle to one service registration
type Service struct {
	// Name is the service name
	Name string

	h RegistryHandle
}

// Start requests a service start with the given launch arguments
func (s *Service) Start(ctx context.Context, args ...string) error {
	return s.h.Start(ctx, args...)
}

// Stop sends the stop control. It does not wait for the service to reach the
// stopped state; poll QueryStatus or use Wait for that.
func (s *Service) Stop(ctx context.Context) (StatusRecord, error) {
	return s.h.Control(ctx, ControlStop)
}

// Pause sends the pause control
func (s *Service) Pause(ctx context.Context) (StatusRecord, error) {
	return s.h.Control(ctx, ControlPause)
}

// Continue sends the continue control
func (s *Service) Continue(ctx context.Context) (StatusRecord, error) {
	return s.h.Control(ctx, ControlContinue)
}

// Control sends an arbitrary control request
func (s *Service) Control(ctx context.Context, c Control) (StatusRecord, error) {
	return s.h.Control(ctx, c)
}

// QueryStatus returns the service's current status record
func (s *Service) QueryStatus(ctx context.Context) (StatusRecord, error) {
	return s.h.QueryStatus(ctx)
}

// QueryConfig reads the persisted configuration
func (s *Service) QueryConfig(ctx context.Context) (ServiceConfig, error) {
	return s.h.QueryConfig(ctx)
}

// UpdateConfig applies a partial configuration change
func (s *Service) UpdateConfig(ctx context.Context, change ConfigChange) error {
	return s.h.UpdateConfig(ctx, change)
}

// Delete marks the registration for deletion. Removal is deferred until the
// last open handle closes.
func (s *Service) Delete(ctx context.Context) error {
	return s.h.Delete(ctx)
}

// DeletePending reports whether the registration is marked for deletion
func (s *Service) DeletePending(ctx context.Context) (bool, error) {
	return s.h.DeletePending(ctx)
}

// Close releases the handle. Idempotent.
func (s *Service) Close() error {
	return s.h.Close()
}

// execute runs an operation against each named service with bounded
// concurrency, accumulating failures into a MultiError
func (m *Manager) execute(ctx context.Context, names []string, access ServiceAccess, op func(context.Context, *Service) error) error {
	if len(names) == 0 {
		return nil
	}

	sem := make(chan struct{}, m.Concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	merr := &MultiError{}

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				merr.Add(ctx.Err())
				mu.Unlock()
				return
			}

			opCtx := ctx
			if m.Timeout > 0 {
				var cancel context.CancelFunc
				opCtx, cancel = context.WithTimeout(ctx, m.Timeout)
				defer cancel()
			}

			svc, err := m.Open(opCtx, name, access)
			if err != nil {
				mu.Lock()
				merr.Add(err)
				mu.Unlock()
				return
			}
			defer func() { _ = svc.Close() }()

			if err := op(opCtx, svc); err != nil {
				mu.Lock()
				merr.Add(err)
				mu.Unlock()
			}
		}(name)
	}

	wg.Wait()
	return merr.Err()
}

// StartAll starts the named services concurrently
func (m *Manager) StartAll(ctx context.Context, names ...string) error {
	return m.execute(ctx, names, AccessStart, func(ctx context.Context, s *Service) error {
		return s.Start(ctx)
	})
}

// StopAll sends the stop control to the named services concurrently
func (m *Manager) StopAll(ctx context.Context, names ...string) error {
	return m.execute(ctx, names, AccessStop|AccessQueryStatus, func(ctx context.Context, s *Service) error {
		_, err := s.Stop(ctx)
		return err
	})
}

// StatusAll retrieves the status of the named services concurrently
func (m *Manager) StatusAll(ctx context.Context, names ...string) (map[string]StatusRecord, error) {
	results := make(map[string]StatusRecord, len(names))
	var mu sync.Mutex

	err := m.execute(ctx, names, AccessQueryStatus, func(ctx context.Context, s *Service) error {
		rec, err := s.QueryStatus(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		results[s.Name] = rec
		mu.Unlock()
		return nil
	})

	return results, err
}
