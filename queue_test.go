package scm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEventQueueFIFO(t *testing.T) {
	q := newEventQueue(4, 10*time.Millisecond)

	for _, c := range []Control{ControlStop, ControlPause, ControlContinue} {
		q.push(Event{Control: c})
	}

	ctx := context.Background()
	for _, want := range []Control{ControlStop, ControlPause, ControlContinue} {
		ev, err := q.recv(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Control != want {
			t.Errorf("recv = %v, want %v", ev.Control, want)
		}
	}
}

func TestEventQueueTryRecv(t *testing.T) {
	q := newEventQueue(2, 10*time.Millisecond)

	if _, err := q.tryRecv(); !errors.Is(err, ErrNoEvent) {
		t.Errorf("empty tryRecv = %v, want ErrNoEvent", err)
	}

	q.push(Event{Control: ControlStop})
	ev, err := q.tryRecv()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Control != ControlStop {
		t.Errorf("tryRecv = %v, want stop", ev.Control)
	}
}

func TestEventQueueOverflow(t *testing.T) {
	q := newEventQueue(1, 10*time.Millisecond)

	q.push(Event{Control: ControlStop})
	// Queue full, no consumer: this one waits out the timeout and is dropped.
	q.push(Event{Control: ControlPause})

	if !q.overflowed.Load() {
		t.Fatal("overflow flag not set")
	}

	// The oldest event was preserved.
	ev, err := q.tryRecv()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Control != ControlStop {
		t.Errorf("preserved event = %v, want stop", ev.Control)
	}
}

func TestEventQueueCloseDrains(t *testing.T) {
	q := newEventQueue(4, 10*time.Millisecond)

	q.push(Event{Control: ControlStop})
	q.close()

	ctx := context.Background()
	ev, err := q.recv(ctx)
	if err != nil {
		t.Fatalf("recv after close = %v, want queued event", err)
	}
	if ev.Control != ControlStop {
		t.Errorf("drained event = %v, want stop", ev.Control)
	}

	if _, err := q.recv(ctx); !errors.Is(err, ErrDisconnected) {
		t.Errorf("recv on drained closed queue = %v, want ErrDisconnected", err)
	}
	if _, err := q.tryRecv(); !errors.Is(err, ErrDisconnected) {
		t.Errorf("tryRecv on drained closed queue = %v, want ErrDisconnected", err)
	}
}

func TestEventQueueRecvContext(t *testing.T) {
	q := newEventQueue(1, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("recv = %v, want deadline exceeded", err)
	}
}

func TestEventQueueCloseIdempotent(t *testing.T) {
	q := newEventQueue(1, 10*time.Millisecond)
	q.close()
	q.close()
	if !q.closed() {
		t.Error("queue not closed")
	}
	// push after close is a silent no-op
	q.push(Event{Control: ControlStop})
	if q.overflowed.Load() {
		t.Error("push after close recorded overflow")
	}
}
