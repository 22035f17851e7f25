package scm

import (
	"context"
)

// Wait blocks until the named service reaches one of the specified states or
// the context is cancelled. If states is nil or empty, it waits for any
// status change.
//
// Example:
//
//	// Wait until the service has stopped
//	rec, err := sup.Wait(ctx, "myservice", []State{StateStopped})
func (s *LocalSupervisor) Wait(ctx context.Context, name string, states []State) (StatusRecord, error) {
	matches := func(st State) bool {
		for _, target := range states {
			if st == target {
				return true
			}
		}
		return false
	}

	if len(states) > 0 {
		s.mu.Lock()
		svc, ok := s.services[name]
		var cur StatusRecord
		if ok {
			cur = svc.status
		}
		s.mu.Unlock()

		if ok && matches(cur.State) {
			return cur, nil
		}
	}

	events, cleanup, err := s.Watch(ctx, name, 0)
	if err != nil {
		return StatusRecord{}, err
	}
	defer func() { _ = cleanup() }()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return StatusRecord{}, ErrDisconnected
			}
			if event.Err != nil {
				return StatusRecord{}, event.Err
			}
			if len(states) == 0 || matches(event.Status.State) {
				return event.Status, nil
			}
		case <-ctx.Done():
			return StatusRecord{}, ctx.Err()
		}
	}
}
