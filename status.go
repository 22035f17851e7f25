package scm

import (
	"encoding/binary"
	"fmt"
	"time"
)

// StatusRecord is the canonical representation of a service's current
// lifecycle state. It is created fresh per transition and submitted
// atomically to the supervisor.
type StatusRecord struct {
	// ServiceType describes how the service process is hosted
	ServiceType ServiceType
	// State is the current lifecycle state
	State State
	// Accepts is the set of controls the service currently accepts
	Accepts Accepted
	// ExitCode reports how the service terminated, meaningful once stopped
	ExitCode ExitCode
	// Checkpoint increments across consecutive submissions of a pending
	// state and is 0 in stable states
	Checkpoint uint32
	// WaitHint bounds how long the supervisor waits for the next checkpoint
	// before declaring the service hung
	WaitHint time.Duration
	// ProcessID is the hosting process, 0 if unknown
	ProcessID uint32
}

// validate checks the record's internal invariants independently of any
// previous submission.
func (r StatusRecord) validate() error {
	if !r.State.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidState, uint32(r.State))
	}
	if r.State.Stable() && r.Checkpoint != 0 {
		return fmt.Errorf("%w: checkpoint %d in stable state %s",
			ErrInvalidTransition, r.Checkpoint, r.State)
	}
	if r.State == StateStartPending && r.Accepts&^startupAccepts != 0 {
		return fmt.Errorf("%w: controls %#x not permitted while %s",
			ErrInvalidTransition, uint32(r.Accepts), r.State)
	}
	return nil
}

// startupAccepts is the subset of controls a service may advertise while it
// is still start-pending. Accepting stop before the service finished starting
// would race its own initialization.
const startupAccepts = AcceptShutdown | AcceptPreshutdown

// StatusRecordSize is the exact size of the binary status record persisted by
// the local backend. Layout, all little-endian:
//
//	bytes 0-3:   service type
//	bytes 4-7:   state
//	bytes 8-11:  accepted controls
//	bytes 12-15: system exit code
//	bytes 16-19: service-specific exit code
//	bytes 20-23: checkpoint
//	bytes 24-31: wait hint in milliseconds
//	bytes 32-35: process id
const StatusRecordSize = 36

// encodeStatus serializes a status record into its binary form
func encodeStatus(r StatusRecord) [StatusRecordSize]byte {
	var buf [StatusRecordSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.ServiceType))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.State))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Accepts))
	binary.LittleEndian.PutUint32(buf[12:16], r.ExitCode.Win32)
	binary.LittleEndian.PutUint32(buf[16:20], r.ExitCode.Specific)
	binary.LittleEndian.PutUint32(buf[20:24], r.Checkpoint)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(r.WaitHint/time.Millisecond))
	binary.LittleEndian.PutUint32(buf[32:36], r.ProcessID)
	return buf
}

// decodeStatus deserializes a binary status record
func decodeStatus(data []byte) (StatusRecord, error) {
	if len(data) != StatusRecordSize {
		return StatusRecord{}, fmt.Errorf("scm: status record size %d, expected %d",
			len(data), StatusRecordSize)
	}

	r := StatusRecord{
		ServiceType: ServiceType(binary.LittleEndian.Uint32(data[0:4])),
		State:       State(binary.LittleEndian.Uint32(data[4:8])),
		Accepts:     Accepted(binary.LittleEndian.Uint32(data[8:12])),
		ExitCode: ExitCode{
			Win32:    binary.LittleEndian.Uint32(data[12:16]),
			Specific: binary.LittleEndian.Uint32(data[16:20]),
		},
		Checkpoint: binary.LittleEndian.Uint32(data[20:24]),
		WaitHint:   time.Duration(binary.LittleEndian.Uint64(data[24:32])) * time.Millisecond,
		ProcessID:  binary.LittleEndian.Uint32(data[32:36]),
	}

	if !r.State.Valid() {
		return StatusRecord{}, fmt.Errorf("%w: %d", ErrInvalidState, uint32(r.State))
	}

	return r, nil
}
