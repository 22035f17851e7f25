package scm

import (
	"fmt"
)

// Run hands the entry table to the supervisor's dispatch loop and blocks the
// calling goroutine until all started services have stopped. The table is
// copied and must not be mutated after the call begins. Each entry function
// runs on its own dedicated goroutine created by the supervisor.
//
// A panic inside an entry function is caught at this boundary and converted
// into a terminal stopped status with a service-specific exit code, so one
// failing service cannot strand the others hosted in the same process.
//
// Run fails with ErrNotAService when the process was not launched by the
// supervisor.
func Run(sup Supervisor, table Table) error {
	if len(table) == 0 {
		return &OpError{Op: OpDispatch, Err: fmt.Errorf("empty dispatch table")}
	}

	wrapped := make(Table, len(table))
	for name, entry := range table {
		if entry == nil {
			return &OpError{Op: OpDispatch, Service: name, Err: fmt.Errorf("nil entry function")}
		}
		wrapped[name] = guardEntry(sup, entry)
	}

	if err := sup.Dispatch(wrapped); err != nil {
		return &OpError{Op: OpDispatch, Err: err}
	}
	return nil
}

// guardEntry wraps an entry function with panic recovery. On panic the
// service is reported stopped with a service-specific failure code, through
// the live registration if one exists, or through a fresh throwaway
// registration if the panic happened before the entry registered.
func guardEntry(sup Supervisor, entry EntryFunc) EntryFunc {
	return func(name string, args []string) {
		defer func() {
			if v := recover(); v != nil {
				reportCrashed(sup, name)
			}
		}()

		entry(name, args)
	}
}

func reportCrashed(sup Supervisor, name string) {
	stopped := StatusRecord{
		ServiceType: TypeOwnProcess,
		State:       StateStopped,
		ExitCode:    ServiceSpecificExit(panicExitCode),
	}

	if v, ok := activeRegs.Load(name); ok {
		reg := v.(*Registration)
		_ = reg.handle.SetStatus(stopped)
		_ = reg.Deregister()
		return
	}

	// Panic before registration: register just long enough to report.
	h, err := sup.RegisterHandler(name, func(RawRequest) uint32 {
		return CodeCallNotImplemented
	})
	if err != nil {
		return
	}
	_ = h.SetStatus(stopped)
	_ = h.Deregister()
}
