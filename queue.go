package scm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// eventQueue is the per-service mailbox between the supervisor-owned handler
// thread and the application's consuming goroutine. The producer side never
// blocks beyond a short bounded timeout: when the queue is full the oldest
// queued events are preserved and the newest event is dropped, with the drop
// recorded in an overflow flag.
type eventQueue struct {
	ch         chan Event
	done       chan struct{}
	closeOnce  sync.Once
	overflowed atomic.Bool
	timeout    time.Duration
}

func newEventQueue(capacity int, timeout time.Duration) *eventQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &eventQueue{
		ch:      make(chan Event, capacity),
		done:    make(chan struct{}),
		timeout: timeout,
	}
}

// push enqueues an event from the handler callback. It waits at most the
// configured timeout for space before dropping the event.
func (q *eventQueue) push(ev Event) {
	select {
	case q.ch <- ev:
		return
	case <-q.done:
		return
	default:
	}

	t := time.NewTimer(q.timeout)
	defer t.Stop()

	select {
	case q.ch <- ev:
	case <-q.done:
	case <-t.C:
		q.overflowed.Store(true)
	}
}

// recv blocks until an event is available, the queue is closed, or the
// context is cancelled. Events enqueued before close are still drained;
// once the queue is empty and closed, recv fails with ErrDisconnected.
func (q *eventQueue) recv(ctx context.Context) (Event, error) {
	select {
	case ev := <-q.ch:
		return ev, nil
	default:
	}

	select {
	case ev := <-q.ch:
		return ev, nil
	case <-q.done:
		// Drain any event that raced with close.
		select {
		case ev := <-q.ch:
			return ev, nil
		default:
		}
		return Event{}, ErrDisconnected
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// tryRecv returns the next event without blocking. It fails with ErrNoEvent
// when the queue is empty and ErrDisconnected when it is empty and closed.
func (q *eventQueue) tryRecv() (Event, error) {
	select {
	case ev := <-q.ch:
		return ev, nil
	default:
	}

	select {
	case <-q.done:
		return Event{}, ErrDisconnected
	default:
	}
	return Event{}, ErrNoEvent
}

// close marks the queue disconnected. Safe to call more than once.
func (q *eventQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *eventQueue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
