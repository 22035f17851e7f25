package scm

import (
	"context"
	"os"
	"sync"
	"time"

	"vawter.tech/stopper"
)

// StatusReporter validates and submits status transitions on behalf of a
// running service. It owns the checkpoint sequence: pending resubmissions
// strictly increase it, stable states reset it to 0. It is safe for use from
// one goroutine at a time per service, which matches the entry function model.
type StatusReporter struct {
	// Name is the service name, used in errors
	Name string

	// ServiceType is stamped on every submitted record
	ServiceType ServiceType

	// WaitHint is the hint submitted with pending states unless overridden
	// per call
	WaitHint time.Duration

	handle StatusHandle

	mu   sync.Mutex
	last StatusRecord
}

// ReporterOption configures a StatusReporter
type ReporterOption func(*StatusReporter)

// WithServiceType sets the service type stamped on submitted records
func WithServiceType(t ServiceType) ReporterOption {
	return func(r *StatusReporter) {
		r.ServiceType = t
	}
}

// WithWaitHint sets the default wait hint for pending states
func WithWaitHint(d time.Duration) ReporterOption {
	return func(r *StatusReporter) {
		r.WaitHint = d
	}
}

// NewStatusReporter creates a reporter bound to a registration's status
// handle. The reporter starts from the stopped state: the first report must
// be the start-pending transition.
func NewStatusReporter(reg *Registration, opts ...ReporterOption) *StatusReporter {
	r := &StatusReporter{
		Name:        reg.Name,
		ServiceType: TypeOwnProcess,
		WaitHint:    DefaultWaitHint,
		handle:      reg.Status(),
		last: StatusRecord{
			State: StateStopped,
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Report validates and submits a transition to the given state. Pending
// states carry the reporter's default wait hint; use ReportHint for known
// long operations. A submission rejected by the supervisor is returned as is
// and is not retried: retrying a stale checkpoint could outlive the wait
// hint the supervisor already measured.
func (r *StatusReporter) Report(state State, accepts Accepted, exit ExitCode) error {
	return r.ReportHint(state, accepts, exit, r.WaitHint)
}

// ReportHint is Report with a caller-supplied wait hint for the pending state
func (r *StatusReporter) ReportHint(state State, accepts Accepted, exit ExitCode, hint time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submitLocked(state, accepts, exit, hint)
}

// ReportStopped submits the terminal stopped status with the given exit code
func (r *StatusReporter) ReportStopped(exit ExitCode) error {
	return r.Report(StateStopped, 0, exit)
}

// Checkpoint resubmits the current pending state with an incremented
// checkpoint, proving liveness to the supervisor while long work is ongoing.
// It is a no-op in stable states.
func (r *StatusReporter) Checkpoint() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.last.State.Pending() {
		return nil
	}
	return r.submitLocked(r.last.State, r.last.Accepts, r.last.ExitCode, r.last.WaitHint)
}

// Current returns the last successfully submitted record
func (r *StatusReporter) Current() StatusRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *StatusReporter) submitLocked(state State, accepts Accepted, exit ExitCode, hint time.Duration) error {
	if err := validateTransition(r.last.State, state); err != nil {
		return &OpError{Op: OpReport, Service: r.Name, Err: err}
	}

	rec := StatusRecord{
		ServiceType: r.ServiceType,
		State:       state,
		Accepts:     accepts,
		ExitCode:    exit,
		ProcessID:   uint32(os.Getpid()),
	}

	if state.Pending() {
		rec.WaitHint = hint
		if state == r.last.State {
			rec.Checkpoint = r.last.Checkpoint + 1
		} else {
			rec.Checkpoint = 1
		}
	}

	if err := rec.validate(); err != nil {
		return &OpError{Op: OpReport, Service: r.Name, Err: err}
	}

	if err := r.handle.SetStatus(rec); err != nil {
		return &OpError{Op: OpReport, Service: r.Name, Err: err}
	}

	r.last = rec
	return nil
}

// Keepalive launches a background goroutine that resubmits the current
// pending state with an incremented checkpoint at half the wait hint
// interval, keeping the supervisor from declaring the service hung during
// long startup or shutdown work. The returned stop function halts the loop
// and waits for it to exit; it must be called before reporting the stable
// state that ends the pending phase is relied upon.
func (r *StatusReporter) Keepalive(ctx context.Context) func() error {
	sctx := stopper.WithContext(ctx)

	sctx.Go(func(sctx *stopper.Context) error {
		for {
			r.mu.Lock()
			pending := r.last.State.Pending()
			hint := r.last.WaitHint
			r.mu.Unlock()

			if !pending {
				return nil
			}

			interval := hint / 2
			if interval <= 0 {
				interval = DefaultWaitHint / 2
			}

			select {
			case <-sctx.Stopping():
				return nil
			case <-time.After(interval):
			}

			if err := r.Checkpoint(); err != nil {
				return err
			}
		}
	})

	return func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}
}
