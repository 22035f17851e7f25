package scm

import "fmt"

// State represents the current lifecycle state of a service.
// The raw values are the wire values used by the service control protocol.
type State uint32

const (
	// StateStopped indicates the service is not running
	StateStopped State = 1
	// StateStartPending indicates the service is starting
	StateStartPending State = 2
	// StateStopPending indicates the service is stopping
	StateStopPending State = 3
	// StateRunning indicates the service is running
	StateRunning State = 4
	// StateContinuePending indicates the service is resuming from pause
	StateContinuePending State = 5
	// StatePausePending indicates the service is pausing
	StatePausePending State = 6
	// StatePaused indicates the service is paused
	StatePaused State = 7
)

// State string constants
const (
	stateStoppedStr         = "stopped"
	stateStartPendingStr    = "start-pending"
	stateStopPendingStr     = "stop-pending"
	stateRunningStr         = "running"
	stateContinuePendingStr = "continue-pending"
	statePausePendingStr    = "pause-pending"
	statePausedStr          = "paused"
	stateInvalidStr         = "invalid"
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateStopped:
		return stateStoppedStr
	case StateStartPending:
		return stateStartPendingStr
	case StateStopPending:
		return stateStopPendingStr
	case StateRunning:
		return stateRunningStr
	case StateContinuePending:
		return stateContinuePendingStr
	case StatePausePending:
		return statePausePendingStr
	case StatePaused:
		return statePausedStr
	default:
		return stateInvalidStr
	}
}

// Valid reports whether s is one of the seven legal lifecycle states
func (s State) Valid() bool {
	return s >= StateStopped && s <= StatePaused
}

// Pending reports whether s is a transitional state subject to the
// checkpoint and wait hint heartbeat contract
func (s State) Pending() bool {
	switch s {
	case StateStartPending, StateStopPending, StateContinuePending, StatePausePending:
		return true
	default:
		return false
	}
}

// Stable reports whether s is a settled state, which resets the checkpoint
func (s State) Stable() bool {
	return s.Valid() && !s.Pending()
}

// transitions is the legal transition graph. A submission that re-asserts the
// current state is always legal: for pending states it is the heartbeat that
// advances the checkpoint, for stable states it updates accepted controls.
var transitions = map[State][]State{
	StateStopped:         {StateStartPending},
	StateStartPending:    {StateRunning, StateStopped},
	StateRunning:         {StateStopPending, StatePausePending, StateStopped},
	StateStopPending:     {StateStopped},
	StatePausePending:    {StatePaused, StateStopped},
	StatePaused:          {StateContinuePending, StateStopPending, StateStopped},
	StateContinuePending: {StateRunning, StateStopped},
}

// validateTransition checks that moving from one state to another is legal.
// It returns ErrInvalidState for values outside the enum and
// ErrInvalidTransition for moves outside the graph.
func validateTransition(from, to State) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidState, uint32(to))
	}
	if !from.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidState, uint32(from))
	}
	if from == to {
		return nil
	}
	for _, t := range transitions[from] {
		if t == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Accepted is the set of controls a service currently accepts.
// The raw values are the wire bits used by the service control protocol.
type Accepted uint32

const (
	// AcceptStop accepts stop controls
	AcceptStop Accepted = 0x1
	// AcceptPauseContinue accepts pause and continue controls
	AcceptPauseContinue Accepted = 0x2
	// AcceptShutdown accepts the system shutdown notification
	AcceptShutdown Accepted = 0x4
	// AcceptParamChange accepts parameter change notifications
	AcceptParamChange Accepted = 0x8
	// AcceptNetBindChange accepts network binding change notifications
	AcceptNetBindChange Accepted = 0x10
	// AcceptHardwareProfileChange accepts hardware profile change notifications
	AcceptHardwareProfileChange Accepted = 0x20
	// AcceptPowerEvent accepts power event notifications
	AcceptPowerEvent Accepted = 0x40
	// AcceptSessionChange accepts session change notifications
	AcceptSessionChange Accepted = 0x80
	// AcceptPreshutdown accepts the pre-shutdown notification
	AcceptPreshutdown Accepted = 0x100
	// AcceptTimeChange accepts system time change notifications
	AcceptTimeChange Accepted = 0x200
	// AcceptTriggerEvent accepts trigger event notifications
	AcceptTriggerEvent Accepted = 0x400
)

// Has reports whether every bit in mask is present in the set
func (a Accepted) Has(mask Accepted) bool {
	return a&mask == mask
}

// acceptsControl maps a control request to the capability bit that must be
// advertised for the supervisor to deliver it. Controls with no mapping
// (interrogate, user-defined) are always deliverable.
func acceptsControl(a Accepted, c Control) bool {
	switch c {
	case ControlStop:
		return a.Has(AcceptStop)
	case ControlPause, ControlContinue:
		return a.Has(AcceptPauseContinue)
	case ControlShutdown:
		return a.Has(AcceptShutdown)
	case ControlParamChange:
		return a.Has(AcceptParamChange)
	case ControlNetBindAdd, ControlNetBindRemove, ControlNetBindEnable, ControlNetBindDisable:
		return a.Has(AcceptNetBindChange)
	case ControlHardwareProfileChange:
		return a.Has(AcceptHardwareProfileChange)
	case ControlPowerEvent:
		return a.Has(AcceptPowerEvent)
	case ControlSessionChange:
		return a.Has(AcceptSessionChange)
	case ControlPreshutdown:
		return a.Has(AcceptPreshutdown)
	case ControlTimeChange:
		return a.Has(AcceptTimeChange)
	case ControlTriggerEvent:
		return a.Has(AcceptTriggerEvent)
	default:
		return true
	}
}
