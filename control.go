package scm

// Control represents a control request code.
// The raw values are the wire values used by the service control protocol;
// codes 128-255 are reserved for user-defined controls.
type Control uint32

const (
	// ControlStop requests the service to stop
	ControlStop Control = 1
	// ControlPause requests the service to pause
	ControlPause Control = 2
	// ControlContinue requests a paused service to resume
	ControlContinue Control = 3
	// ControlInterrogate requests an immediate status report
	ControlInterrogate Control = 4
	// ControlShutdown notifies the service of system shutdown
	ControlShutdown Control = 5
	// ControlParamChange notifies the service of a parameter change
	ControlParamChange Control = 6
	// ControlNetBindAdd notifies of a new network binding
	ControlNetBindAdd Control = 7
	// ControlNetBindRemove notifies of a removed network binding
	ControlNetBindRemove Control = 8
	// ControlNetBindEnable notifies of an enabled network binding
	ControlNetBindEnable Control = 9
	// ControlNetBindDisable notifies of a disabled network binding
	ControlNetBindDisable Control = 10
	// ControlDeviceEvent notifies of a device event
	ControlDeviceEvent Control = 11
	// ControlHardwareProfileChange notifies of a hardware profile change
	ControlHardwareProfileChange Control = 12
	// ControlPowerEvent notifies of a power event
	ControlPowerEvent Control = 13
	// ControlSessionChange notifies of a session change
	ControlSessionChange Control = 14
	// ControlPreshutdown notifies the service ahead of system shutdown
	ControlPreshutdown Control = 15
	// ControlTimeChange notifies of a system time change
	ControlTimeChange Control = 16
	// ControlTriggerEvent notifies of a configured trigger event
	ControlTriggerEvent Control = 32
)

// User-defined control code range
const (
	// UserControlMin is the lowest user-defined control code
	UserControlMin Control = 128
	// UserControlMax is the highest user-defined control code
	UserControlMax Control = 255
)

// Control string constants
const (
	controlStopStr            = "stop"
	controlPauseStr           = "pause"
	controlContinueStr        = "continue"
	controlInterrogateStr     = "interrogate"
	controlShutdownStr        = "shutdown"
	controlParamChangeStr     = "param-change"
	controlNetBindAddStr      = "netbind-add"
	controlNetBindRemoveStr   = "netbind-remove"
	controlNetBindEnableStr   = "netbind-enable"
	controlNetBindDisableStr  = "netbind-disable"
	controlDeviceEventStr     = "device-event"
	controlHardwareProfileStr = "hardware-profile-change"
	controlPowerEventStr      = "power-event"
	controlSessionChangeStr   = "session-change"
	controlPreshutdownStr     = "preshutdown"
	controlTimeChangeStr      = "time-change"
	controlTriggerEventStr    = "trigger-event"
	controlUserDefinedStr     = "user-defined"
	controlUnknownStr         = "unknown"
)

// String returns the string representation of a Control
func (c Control) String() string {
	switch c {
	case ControlStop:
		return controlStopStr
	case ControlPause:
		return controlPauseStr
	case ControlContinue:
		return controlContinueStr
	case ControlInterrogate:
		return controlInterrogateStr
	case ControlShutdown:
		return controlShutdownStr
	case ControlParamChange:
		return controlParamChangeStr
	case ControlNetBindAdd:
		return controlNetBindAddStr
	case ControlNetBindRemove:
		return controlNetBindRemoveStr
	case ControlNetBindEnable:
		return controlNetBindEnableStr
	case ControlNetBindDisable:
		return controlNetBindDisableStr
	case ControlDeviceEvent:
		return controlDeviceEventStr
	case ControlHardwareProfileChange:
		return controlHardwareProfileStr
	case ControlPowerEvent:
		return controlPowerEventStr
	case ControlSessionChange:
		return controlSessionChangeStr
	case ControlPreshutdown:
		return controlPreshutdownStr
	case ControlTimeChange:
		return controlTimeChangeStr
	case ControlTriggerEvent:
		return controlTriggerEventStr
	default:
		if c.UserDefined() {
			return controlUserDefinedStr
		}
		return controlUnknownStr
	}
}

// UserDefined reports whether c is in the user-defined control range
func (c Control) UserDefined() bool {
	return c >= UserControlMin && c <= UserControlMax
}

// SessionChangeReason describes why a session change notification was raised
type SessionChangeReason uint32

const (
	// SessionConsoleConnect indicates a session connected to the console
	SessionConsoleConnect SessionChangeReason = 1
	// SessionConsoleDisconnect indicates a session disconnected from the console
	SessionConsoleDisconnect SessionChangeReason = 2
	// SessionRemoteConnect indicates a session connected remotely
	SessionRemoteConnect SessionChangeReason = 3
	// SessionRemoteDisconnect indicates a session disconnected remotely
	SessionRemoteDisconnect SessionChangeReason = 4
	// SessionLogon indicates a user logged on
	SessionLogon SessionChangeReason = 5
	// SessionLogoff indicates a user logged off
	SessionLogoff SessionChangeReason = 6
	// SessionLock indicates a session locked
	SessionLock SessionChangeReason = 7
	// SessionUnlock indicates a session unlocked
	SessionUnlock SessionChangeReason = 8
	// SessionRemoteControl indicates the remote control status changed
	SessionRemoteControl SessionChangeReason = 9
	// SessionCreate indicates a session was created
	SessionCreate SessionChangeReason = 10
	// SessionTerminate indicates a session was terminated
	SessionTerminate SessionChangeReason = 11
)

// PowerEventKind describes the subtype of a power event notification
type PowerEventKind uint32

const (
	// PowerStatusChange indicates a battery or AC power status change
	PowerStatusChange PowerEventKind = 0xA
	// PowerResumeAutomatic indicates an automatic resume from suspend
	PowerResumeAutomatic PowerEventKind = 0x12
	// PowerResumeSuspend indicates a user-triggered resume from suspend
	PowerResumeSuspend PowerEventKind = 0x7
	// PowerSuspend indicates the system is suspending
	PowerSuspend PowerEventKind = 0x4
	// PowerSettingChange indicates a power setting changed
	PowerSettingChange PowerEventKind = 0x8013
)

// Event is a typed control request delivered to a service's event channel.
// The fields beyond Control are populated only for the extended controls that
// carry them.
type Event struct {
	// Control is the control code that raised this event
	Control Control
	// Power is the power event subtype for ControlPowerEvent
	Power PowerEventKind
	// Session is the change reason for ControlSessionChange
	Session SessionChangeReason
	// SessionID identifies the affected session for ControlSessionChange
	SessionID uint32
	// EventType is the raw event subtype for extended controls without a
	// dedicated field (device events, trigger events)
	EventType uint32
	// Data carries any extended payload bytes
	Data []byte
}

// PowerDecisionFunc decides whether a power event is permitted. Returning
// false vetoes the event in the synchronous acknowledgment; the event is still
// queued for informational consumption.
type PowerDecisionFunc func(Event) bool

// translateControl converts a raw supervisor request into a typed event and
// the synchronous acknowledgment value the supervisor requires. deliver is
// false for requests that must be acknowledged but never queued: interrogate
// is answered by the supervisor layer itself, and unrecognized codes are
// acknowledged as not implemented.
func translateControl(req RawRequest, powerDecision PowerDecisionFunc) (ev Event, ack uint32, deliver bool) {
	c := Control(req.Code)

	switch c {
	case ControlInterrogate:
		return Event{Control: c}, 0, false

	case ControlPowerEvent:
		ev = Event{Control: c, Power: PowerEventKind(req.EventType), Data: req.Data}
		ack = 0
		if powerDecision != nil && !powerDecision(ev) {
			ack = CodeQueryDeny
		}
		return ev, ack, true

	case ControlSessionChange:
		ev = Event{
			Control:   c,
			Session:   SessionChangeReason(req.EventType),
			SessionID: req.SessionID,
			Data:      req.Data,
		}
		return ev, 0, true

	case ControlStop, ControlPause, ControlContinue, ControlShutdown,
		ControlParamChange, ControlNetBindAdd, ControlNetBindRemove,
		ControlNetBindEnable, ControlNetBindDisable, ControlHardwareProfileChange,
		ControlPreshutdown, ControlTimeChange:
		return Event{Control: c, EventType: req.EventType}, 0, true

	case ControlDeviceEvent, ControlTriggerEvent:
		return Event{Control: c, EventType: req.EventType, Data: req.Data}, 0, true

	default:
		if c.UserDefined() {
			return Event{Control: c, EventType: req.EventType, Data: req.Data}, 0, true
		}
		return Event{}, CodeCallNotImplemented, false
	}
}
