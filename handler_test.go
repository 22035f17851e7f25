package scm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegister(t *testing.T) {
	sup := newTestSupervisor(t)

	reg, err := Register(sup, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Deregister() }()

	if reg.Name != "alpha" {
		t.Errorf("Name = %q, want alpha", reg.Name)
	}
	if reg.QueueCapacity != DefaultQueueCapacity {
		t.Errorf("QueueCapacity = %d, want %d", reg.QueueCapacity, DefaultQueueCapacity)
	}
	if reg.Status() == nil {
		t.Error("Status() returned nil handle")
	}
}

func TestRegisterOptions(t *testing.T) {
	sup := newTestSupervisor(t)

	reg, err := Register(sup, "alpha",
		WithQueueCapacity(3),
		WithEnqueueTimeout(50*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Deregister() }()

	if reg.QueueCapacity != 3 {
		t.Errorf("QueueCapacity = %d, want 3", reg.QueueCapacity)
	}
	if reg.EnqueueTimeout != 50*time.Millisecond {
		t.Errorf("EnqueueTimeout = %v, want 50ms", reg.EnqueueTimeout)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	sup := newTestSupervisor(t)

	reg, err := Register(sup, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Deregister() }()

	if _, err := Register(sup, "alpha"); !errors.Is(err, ErrHandlerExists) {
		t.Errorf("second Register = %v, want ErrHandlerExists", err)
	}

	// A different name is fine.
	reg2, err := Register(sup, "beta")
	if err != nil {
		t.Fatal(err)
	}
	_ = reg2.Deregister()
}

func TestRegistrationDelivery(t *testing.T) {
	sup := newTestSupervisor(t)

	reg, err := Register(sup, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Deregister() }()

	ack := reg.handleRaw(RawRequest{Code: uint32(ControlStop)})
	if ack != 0 {
		t.Errorf("stop ack = %d, want 0", ack)
	}

	ev, err := reg.TryRecv()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Control != ControlStop {
		t.Errorf("event = %v, want stop", ev.Control)
	}
}

func TestRegistrationInterrogateNotQueued(t *testing.T) {
	sup := newTestSupervisor(t)

	reg, err := Register(sup, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Deregister() }()

	if ack := reg.handleRaw(RawRequest{Code: uint32(ControlInterrogate)}); ack != 0 {
		t.Errorf("interrogate ack = %d, want 0", ack)
	}
	if _, err := reg.TryRecv(); !errors.Is(err, ErrNoEvent) {
		t.Errorf("TryRecv = %v, want ErrNoEvent", err)
	}
}

func TestRegistrationUnknownCode(t *testing.T) {
	sup := newTestSupervisor(t)

	reg, err := Register(sup, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Deregister() }()

	if ack := reg.handleRaw(RawRequest{Code: 99}); ack != CodeCallNotImplemented {
		t.Errorf("ack = %d, want %d", ack, CodeCallNotImplemented)
	}
	if _, err := reg.TryRecv(); !errors.Is(err, ErrNoEvent) {
		t.Errorf("TryRecv = %v, want ErrNoEvent", err)
	}
}

func TestRegistrationPowerDecision(t *testing.T) {
	sup := newTestSupervisor(t)

	reg, err := Register(sup, "alpha", WithPowerDecision(func(ev Event) bool {
		return ev.Power != PowerSuspend
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Deregister() }()

	ack := reg.handleRaw(RawRequest{
		Code:      uint32(ControlPowerEvent),
		EventType: uint32(PowerSuspend),
	})
	if ack != CodeQueryDeny {
		t.Errorf("suspend ack = %#x, want %#x", ack, CodeQueryDeny)
	}

	// The vetoed event is still observable.
	ev, err := reg.TryRecv()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Control != ControlPowerEvent || ev.Power != PowerSuspend {
		t.Errorf("event = %+v", ev)
	}
}

func TestRegistrationOverflow(t *testing.T) {
	sup := newTestSupervisor(t)

	reg, err := Register(sup, "alpha",
		WithQueueCapacity(1),
		WithEnqueueTimeout(10*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Deregister() }()

	reg.handleRaw(RawRequest{Code: uint32(ControlStop)})
	reg.handleRaw(RawRequest{Code: uint32(ControlParamChange)})

	if !reg.Overflowed() {
		t.Error("Overflowed() = false after dropped event")
	}
}

func TestDeregister(t *testing.T) {
	sup := newTestSupervisor(t)

	reg, err := Register(sup, "alpha")
	if err != nil {
		t.Fatal(err)
	}

	reg.handleRaw(RawRequest{Code: uint32(ControlStop)})

	if err := reg.Deregister(); err != nil {
		t.Fatal(err)
	}

	// Queued events drain, then the channel reports disconnected.
	ev, err := reg.Recv(context.Background())
	if err != nil {
		t.Fatalf("drain after deregister: %v", err)
	}
	if ev.Control != ControlStop {
		t.Errorf("drained event = %v", ev.Control)
	}
	if _, err := reg.Recv(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Recv = %v, want ErrDisconnected", err)
	}

	// Idempotent.
	if err := reg.Deregister(); err != nil {
		t.Errorf("second Deregister = %v, want nil", err)
	}

	// The name is free again.
	reg2, err := Register(sup, "alpha")
	if err != nil {
		t.Fatalf("re-register after deregister: %v", err)
	}
	_ = reg2.Deregister()
}
