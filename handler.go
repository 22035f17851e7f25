package scm

import (
	"context"
	"sync"
	"time"
)

// activeRegs indexes live registrations by service name so the dispatcher
// can reach a panicking service's status handle for the terminal report.
var activeRegs sync.Map

// Registration is an active control handler registration for one service.
// The supervisor invokes the underlying callback synchronously on a thread it
// owns; the callback only translates the raw code, enqueues the typed event,
// and returns the prescribed acknowledgment. The application consumes events
// through Recv or TryRecv on its own goroutine.
type Registration struct {
	// Name is the registered service name
	Name string

	// QueueCapacity is the bounded event queue depth
	QueueCapacity int

	// EnqueueTimeout bounds how long the handler callback waits for queue
	// space before dropping the newest event
	EnqueueTimeout time.Duration

	handle        StatusHandle
	queue         *eventQueue
	powerDecision PowerDecisionFunc

	mu           sync.Mutex
	deregistered bool
}

// RegOption configures a Registration
type RegOption func(*Registration)

// WithQueueCapacity sets the event queue depth
func WithQueueCapacity(n int) RegOption {
	return func(r *Registration) {
		r.QueueCapacity = n
	}
}

// WithEnqueueTimeout sets the bounded producer-side wait before an event is
// dropped on overflow
func WithEnqueueTimeout(d time.Duration) RegOption {
	return func(r *Registration) {
		r.EnqueueTimeout = d
	}
}

// WithPowerDecision installs a veto decision for power events. The decision
// runs synchronously inside the supervisor's callback and must be fast.
// Without one, power events are always accepted; vetoing power transitions is
// rarely valid.
func WithPowerDecision(fn PowerDecisionFunc) RegOption {
	return func(r *Registration) {
		r.powerDecision = fn
	}
}

// Register registers the control handler for one service name with the
// supervisor and returns the active registration. Exactly one registration
// may exist per service name; a second attempt fails with ErrHandlerExists.
func Register(sup Supervisor, name string, opts ...RegOption) (*Registration, error) {
	r := &Registration{
		Name:           name,
		QueueCapacity:  DefaultQueueCapacity,
		EnqueueTimeout: DefaultEnqueueTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.queue = newEventQueue(r.QueueCapacity, r.EnqueueTimeout)

	handle, err := sup.RegisterHandler(name, r.handleRaw)
	if err != nil {
		return nil, &OpError{Op: OpRegister, Service: name, Err: err}
	}
	r.handle = handle
	activeRegs.Store(name, r)

	return r, nil
}

// handleRaw is the callback handed to the supervisor. It runs on a
// supervisor-owned thread and must return promptly.
func (r *Registration) handleRaw(req RawRequest) uint32 {
	ev, ack, deliver := translateControl(req, r.powerDecision)
	if deliver {
		r.queue.push(ev)
	}
	return ack
}

// Recv blocks the calling goroutine until a control event is available.
// It fails with ErrDisconnected after Deregister once the queue is drained.
func (r *Registration) Recv(ctx context.Context) (Event, error) {
	return r.queue.recv(ctx)
}

// TryRecv returns the next control event without blocking. It fails with
// ErrNoEvent when none is queued.
func (r *Registration) TryRecv() (Event, error) {
	return r.queue.tryRecv()
}

// Overflowed reports whether any event was dropped because the queue stayed
// full past the enqueue timeout
func (r *Registration) Overflowed() bool {
	return r.queue.overflowed.Load()
}

// Status returns the registration token used for status submissions
func (r *Registration) Status() StatusHandle {
	return r.handle
}

// Deregister tears down the registration and closes the event channel.
// It is idempotent: a second call is a no-op, not an error.
func (r *Registration) Deregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deregistered {
		return nil
	}
	r.deregistered = true
	r.queue.close()
	activeRegs.Delete(r.Name)

	if err := r.handle.Deregister(); err != nil {
		return &OpError{Op: OpDeregister, Service: r.Name, Err: err}
	}
	return nil
}
