package scm

import (
	"context"
	"testing"
	"time"
)

// newTestSupervisor creates a local supervisor rooted in a per-test temp dir
func newTestSupervisor(t *testing.T, opts ...LocalOption) *LocalSupervisor {
	t.Helper()
	sup, err := NewLocalSupervisor(t.TempDir(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return sup
}

// testConfig returns a minimal valid service configuration
func testConfig(name string) ServiceConfig {
	return ServiceConfig{
		Name:           name,
		DisplayName:    name + " (test)",
		ExecutablePath: "/usr/bin/" + name,
		ServiceType:    TypeOwnProcess,
		StartType:      StartManual,
		ErrorControl:   ErrorControlNormal,
	}
}

// testAccepts is what the standard test entry advertises while running
const testAccepts = AcceptStop | AcceptShutdown | AcceptPauseContinue

// testEntry returns an entry function that walks the full lifecycle: it
// registers, reports running, then consumes control events until stopped.
// Pause and continue are honored; everything else is drained.
func testEntry(sup Supervisor) EntryFunc {
	return func(name string, args []string) {
		reg, err := Register(sup, name)
		if err != nil {
			return
		}
		defer func() { _ = reg.Deregister() }()

		rep := NewStatusReporter(reg)
		if err := rep.Report(StateStartPending, 0, ExitSuccess); err != nil {
			return
		}
		if err := rep.Report(StateRunning, testAccepts, ExitSuccess); err != nil {
			return
		}

		for {
			ev, err := reg.Recv(context.Background())
			if err != nil {
				return
			}
			switch ev.Control {
			case ControlStop, ControlShutdown:
				_ = rep.Report(StateStopPending, 0, ExitSuccess)
				_ = rep.ReportStopped(ExitSuccess)
				return
			case ControlPause:
				_ = rep.Report(StatePausePending, 0, ExitSuccess)
				_ = rep.Report(StatePaused, testAccepts, ExitSuccess)
			case ControlContinue:
				_ = rep.Report(StateContinuePending, 0, ExitSuccess)
				_ = rep.Report(StateRunning, testAccepts, ExitSuccess)
			}
		}
	}
}

// awaitState polls the supervisor until the named service reaches the wanted
// state or the deadline expires
func awaitState(t *testing.T, sup *LocalSupervisor, name string, want State) StatusRecord {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	var last StatusRecord
	for time.Now().Before(deadline) {
		sup.mu.Lock()
		if svc, ok := sup.services[name]; ok {
			last = svc.status
		}
		sup.mu.Unlock()

		if last.State == want {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("service %q state = %v, want %v", name, last.State, want)
	return StatusRecord{}
}

// dispatch runs the table on a background goroutine and returns a channel
// carrying the Run result
func dispatch(sup Supervisor, table Table) <-chan error {
	done := make(chan error, 1)
	go func() { done <- Run(sup, table) }()
	return done
}

// awaitDispatch asserts Run returned cleanly
func awaitDispatch(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return")
	}
}
