package scm

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestLocalSupervisorLoadsPersistedConfigs(t *testing.T) {
	dir := t.TempDir()

	sup, err := NewLocalSupervisor(dir)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := sup.OpenRegistry(ManagerAllAccess)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	cfg := testConfig("persisted")
	cfg.Dependencies = []string{"network"}

	h, err := reg.CreateService(ctx, cfg, AccessAll)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh supervisor over the same directory sees the registration.
	sup2, err := NewLocalSupervisor(dir)
	if err != nil {
		t.Fatal(err)
	}
	reg2, err := sup2.OpenRegistry(ManagerAllAccess)
	if err != nil {
		t.Fatal(err)
	}

	h2, err := reg2.OpenService(ctx, "persisted", AccessQueryConfig)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h2.Close() }()

	got, err := h2.QueryConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.DisplayName != cfg.DisplayName || got.ExecutablePath != cfg.ExecutablePath {
		t.Errorf("reloaded config = %+v", got)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "network" {
		t.Errorf("reloaded dependencies = %v", got.Dependencies)
	}
}

func TestLocalStartErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		sup := newTestSupervisor(t)
		if err := sup.startService("ghost", nil); !errors.Is(err, ErrServiceNotFound) {
			t.Errorf("start = %v, want ErrServiceNotFound", err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		sup := newTestSupervisor(t)
		reg, err := sup.OpenRegistry(ManagerAllAccess)
		if err != nil {
			t.Fatal(err)
		}
		cfg := testConfig("off")
		cfg.StartType = StartDisabled
		h, err := reg.CreateService(ctx, cfg, AccessAll)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = h.Close() }()

		if err := h.Start(ctx); err == nil {
			t.Error("start of disabled service succeeded")
		}
	})

	t.Run("no dispatched entry", func(t *testing.T) {
		sup := newTestSupervisor(t)
		reg, err := sup.OpenRegistry(ManagerAllAccess)
		if err != nil {
			t.Fatal(err)
		}
		h, err := reg.CreateService(ctx, testConfig("alpha"), AccessAll)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = h.Close() }()

		if err := h.Start(ctx); !errors.Is(err, ErrNoEntry) {
			t.Errorf("start = %v, want ErrNoEntry", err)
		}
	})

	t.Run("already running", func(t *testing.T) {
		sup := newTestSupervisor(t)
		done := dispatch(sup, Table{"alpha": testEntry(sup)})
		awaitState(t, sup, "alpha", StateRunning)

		if err := sup.startService("alpha", nil); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("start = %v, want ErrAlreadyRunning", err)
		}

		if _, err := sup.control("alpha", ControlStop); err != nil {
			t.Fatal(err)
		}
		awaitDispatch(t, done)
	})
}

func TestLocalRestartAfterStop(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	reg, err := sup.OpenRegistry(ManagerAllAccess)
	if err != nil {
		t.Fatal(err)
	}
	h, err := reg.CreateService(ctx, testConfig("alpha"), AccessAll)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.Close() }()

	// beta keeps the dispatch loop alive across alpha's restart
	done := dispatch(sup, Table{
		"alpha": testEntry(sup),
		"beta":  testEntry(sup),
	})

	awaitState(t, sup, "alpha", StateRunning)
	awaitState(t, sup, "beta", StateRunning)

	if _, err := sup.control("alpha", ControlStop); err != nil {
		t.Fatal(err)
	}
	awaitState(t, sup, "alpha", StateStopped)

	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	awaitState(t, sup, "alpha", StateRunning)

	for _, name := range []string{"alpha", "beta"} {
		if _, err := sup.control(name, ControlStop); err != nil {
			t.Fatal(err)
		}
	}
	awaitDispatch(t, done)
}

func TestLocalControlErrors(t *testing.T) {
	sup := newTestSupervisor(t)

	t.Run("not found", func(t *testing.T) {
		if _, err := sup.control("ghost", ControlStop); !errors.Is(err, ErrServiceNotFound) {
			t.Errorf("control = %v, want ErrServiceNotFound", err)
		}
	})

	t.Run("no handler", func(t *testing.T) {
		reg, err := sup.OpenRegistry(ManagerAllAccess)
		if err != nil {
			t.Fatal(err)
		}
		h, err := reg.CreateService(context.Background(), testConfig("idle"), AccessAll)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = h.Close() }()

		if _, err := sup.control("idle", ControlStop); !errors.Is(err, ErrServiceNotActive) {
			t.Errorf("control = %v, want ErrServiceNotActive", err)
		}
	})

	t.Run("not accepted", func(t *testing.T) {
		stop := make(chan struct{})
		done := dispatch(sup, Table{
			"rigid": func(name string, args []string) {
				r, err := Register(sup, name)
				if err != nil {
					return
				}
				defer func() { _ = r.Deregister() }()
				rep := NewStatusReporter(r)
				_ = rep.Report(StateStartPending, 0, ExitSuccess)
				_ = rep.Report(StateRunning, AcceptStop, ExitSuccess)
				<-stop
				_ = rep.ReportStopped(ExitSuccess)
			},
		})
		awaitState(t, sup, "rigid", StateRunning)

		if _, err := sup.control("rigid", ControlPause); !errors.Is(err, ErrControlNotAccepted) {
			t.Errorf("control = %v, want ErrControlNotAccepted", err)
		}

		// Interrogate is exempt from the accepted set.
		if _, err := sup.control("rigid", ControlInterrogate); err != nil {
			t.Errorf("interrogate = %v, want nil", err)
		}

		close(stop)
		awaitDispatch(t, done)
	})
}

func TestLocalNotResponding(t *testing.T) {
	sup := newTestSupervisor(t)

	release := make(chan struct{})
	done := dispatch(sup, Table{
		"hung": func(name string, args []string) {
			r, err := Register(sup, name)
			if err != nil {
				return
			}
			defer func() { _ = r.Deregister() }()
			rep := NewStatusReporter(r)
			// A short hint, never followed by a checkpoint.
			_ = rep.ReportHint(StateStartPending, 0, ExitSuccess, 30*time.Millisecond)
			<-release
		},
	})

	awaitState(t, sup, "hung", StateStartPending)
	time.Sleep(60 * time.Millisecond)

	if !sup.NotResponding("hung") {
		t.Error("NotResponding = false after wait hint expiry")
	}
	if _, err := sup.control("hung", ControlStop); !errors.Is(err, ErrNotResponding) {
		t.Errorf("control = %v, want ErrNotResponding", err)
	}

	close(release)
	awaitDispatch(t, done)
}

func TestLocalCheckpointKeepsAlive(t *testing.T) {
	sup := newTestSupervisor(t)

	release := make(chan struct{})
	done := dispatch(sup, Table{
		"busy": func(name string, args []string) {
			r, err := Register(sup, name)
			if err != nil {
				return
			}
			defer func() { _ = r.Deregister() }()
			rep := NewStatusReporter(r)
			_ = rep.ReportHint(StateStartPending, 0, ExitSuccess, 50*time.Millisecond)

			stop := rep.Keepalive(context.Background())
			<-release
			_ = stop()

			_ = rep.Report(StateRunning, AcceptStop, ExitSuccess)
			_ = rep.Report(StateStopPending, 0, ExitSuccess)
			_ = rep.ReportStopped(ExitSuccess)
		},
	})

	awaitState(t, sup, "busy", StateStartPending)

	// Well past the original hint: the checkpoints kept it alive.
	time.Sleep(150 * time.Millisecond)
	if sup.NotResponding("busy") {
		t.Error("NotResponding = true despite checkpoint heartbeat")
	}

	close(release)
	awaitState(t, sup, "busy", StateStopped)
	awaitDispatch(t, done)
}

func TestLocalStatusFileWritten(t *testing.T) {
	sup := newTestSupervisor(t)
	done := dispatch(sup, Table{"alpha": testEntry(sup)})

	awaitState(t, sup, "alpha", StateRunning)

	data, err := os.ReadFile(sup.statusPath("alpha"))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := decodeStatus(data)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateRunning {
		t.Errorf("persisted state = %v, want running", rec.State)
	}
	if rec.ProcessID != uint32(os.Getpid()) {
		t.Errorf("persisted pid = %d, want %d", rec.ProcessID, os.Getpid())
	}

	if _, err := sup.control("alpha", ControlStop); err != nil {
		t.Fatal(err)
	}
	awaitDispatch(t, done)
}

func TestLocalHandleChecksTransitions(t *testing.T) {
	sup := newTestSupervisor(t)

	h, err := sup.RegisterHandler("alpha", func(RawRequest) uint32 { return 0 })
	if err != nil {
		t.Fatal(err)
	}

	// Stopped -> running skips start-pending.
	err = h.SetStatus(StatusRecord{ServiceType: TypeOwnProcess, State: StateRunning})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetStatus = %v, want ErrInvalidTransition", err)
	}

	if err := h.SetStatus(StatusRecord{
		ServiceType: TypeOwnProcess,
		State:       StateStartPending,
		Checkpoint:  1,
		WaitHint:    time.Second,
	}); err != nil {
		t.Fatal(err)
	}

	// Checkpoint regression is rejected, resubmission of the same value is
	// tolerated as a heartbeat refresh.
	if err := h.SetStatus(StatusRecord{
		ServiceType: TypeOwnProcess,
		State:       StateStartPending,
		Checkpoint:  1,
		WaitHint:    time.Second,
	}); err != nil {
		t.Errorf("equal checkpoint resubmission = %v, want nil", err)
	}

	if err := h.SetStatus(StatusRecord{
		ServiceType: TypeOwnProcess,
		State:       StateStartPending,
		Checkpoint:  0,
		WaitHint:    time.Second,
	}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("checkpoint regression = %v, want ErrInvalidTransition", err)
	}

	if err := h.Deregister(); err != nil {
		t.Fatal(err)
	}
	if err := h.SetStatus(StatusRecord{State: StateRunning}); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("SetStatus after deregister = %v, want ErrHandleClosed", err)
	}
	if err := h.Deregister(); err != nil {
		t.Errorf("second Deregister = %v, want nil", err)
	}
}
