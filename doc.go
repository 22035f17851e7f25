// Package scm provides a native Go library for writing and managing
// supervised services under a service control manager, covering both sides of
// the protocol: the hosted service runtime (status reporting, control event
// delivery, dispatch) and the management surface (install, query, control,
// delete).
//
// A service process registers a control handler, reports status transitions
// through a StatusReporter, and consumes typed control events:
//
//	func run(name string, args []string) {
//	    reg, err := scm.Register(sup, name)
//	    if err != nil {
//	        return
//	    }
//	    defer reg.Deregister()
//
//	    rep := scm.NewStatusReporter(reg)
//	    rep.Report(scm.StateStartPending, 0, scm.ExitSuccess)
//	    rep.Report(scm.StateRunning, scm.AcceptStop|scm.AcceptShutdown, scm.ExitSuccess)
//
//	    for {
//	        ev, err := reg.Recv(context.Background())
//	        if err != nil {
//	            break
//	        }
//	        if ev.Control == scm.ControlStop || ev.Control == scm.ControlShutdown {
//	            rep.Report(scm.StateStopPending, 0)
//	            rep.ReportStopped(scm.ExitSuccess)
//	            break
//	        }
//	    }
//	}
//
// The process hands its entry table to a Supervisor and blocks in dispatch:
//
//	sup, _ := scm.NewSupervisor(scm.BackendLocal, "/var/lib/myapp/services")
//	err := scm.Run(sup, scm.Table{"myservice": run})
//
// # Manager for Bulk Operations
//
// The Manager type is provided as a convenience for applications that
// install, control, and monitor multiple services concurrently. It's
// particularly useful for:
//
//   - Installer and uninstaller tools
//   - Fleet startup/shutdown sequences
//   - Health monitoring dashboards
//   - Testing frameworks that manage multiple services
//
// If your application only manages a single service, the Registry and
// RegistryHandle interfaces provide all core functionality and the Manager
// remains optional.
//
//	mgr := scm.NewManager(reg,
//	    scm.WithConcurrency(5),
//	    scm.WithTimeout(10*time.Second),
//	)
//	err := mgr.StartAll(ctx, "web", "db", "cache")
//
// # Backends
//
// Two supervisor backends are available. BackendLocal hosts services
// in-process against a directory-backed registry and works everywhere; it is
// also the test harness for service code. BackendSystem binds to the
// operating system's service control manager and is available on Windows
// builds only.
//
// # Design Philosophy
//
// This library prioritizes:
//
//   - A strict status state machine validated before anything reaches the
//     supervisor
//   - Non-blocking control callbacks (events are queued, never handled on the
//     supervisor's thread)
//   - Context-aware operations with proper timeouts
//   - Type safety (no raw numeric codes in application code)
package scm
