package scm

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// WatchEvent represents a status change observed for a watched service
type WatchEvent struct {
	// Name is the watched service name
	Name string
	// Status is the decoded status record after the change
	Status StatusRecord
	// Err reports a watch failure; Status is zero when set
	Err error
}

// WatchCleanupFunc stops a watch and releases its resources
type WatchCleanupFunc func() error

// watchState tracks the last observed raw record and the debounce timer
type watchState struct {
	mu        sync.Mutex
	lastRaw   []byte
	debouncer *time.Timer
}

// Watch monitors one service's status record for changes, emitting an event
// per observed transition. The initial status is emitted immediately when
// available. The returned cleanup function stops the watcher; the event
// channel closes once the watcher has fully shut down.
func (s *LocalSupervisor) Watch(ctx context.Context, name string, debounce time.Duration) (<-chan WatchEvent, WatchCleanupFunc, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, &OpError{Op: OpWatch, Service: name, Err: err}
	}

	if err := watcher.Add(s.Dir); err != nil {
		_ = watcher.Close()
		return nil, nil, &OpError{Op: OpWatch, Service: name, Err: err}
	}

	ch := make(chan WatchEvent, 10)
	statusFile := s.statusPath(name)

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		close(ch)
	})

	state := &watchState{}

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	readAndSend := func() {
		if sctx.IsStopping() {
			return
		}

		data, err := os.ReadFile(statusFile)
		if err != nil {
			if os.IsNotExist(err) {
				return
			}
			select {
			case ch <- WatchEvent{Name: name, Err: err}:
			case <-sctx.Stopping():
			}
			return
		}

		state.mu.Lock()
		changed := len(data) != len(state.lastRaw)
		if !changed {
			for i := range data {
				if data[i] != state.lastRaw[i] {
					changed = true
					break
				}
			}
		}
		if changed {
			state.lastRaw = data
		}
		state.mu.Unlock()

		if !changed {
			return
		}

		rec, err := decodeStatus(data)
		if err != nil {
			select {
			case ch <- WatchEvent{Name: name, Err: err}:
			case <-sctx.Stopping():
			}
			return
		}

		select {
		case ch <- WatchEvent{Name: name, Status: rec}:
		case <-sctx.Stopping():
		}
	}

	// Initial read
	readAndSend()

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			state.mu.Lock()
			if state.debouncer != nil {
				state.debouncer.Stop()
			}
			state.mu.Unlock()
		})

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != statusFile {
					continue
				}

				state.mu.Lock()
				if state.debouncer != nil {
					state.debouncer.Stop()
				}
				state.debouncer = time.AfterFunc(debounce, readAndSend)
				state.mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil && !sctx.IsStopping() {
					select {
					case ch <- WatchEvent{Name: name, Err: err}:
					case <-sctx.Stopping():
						return nil
					}
				}
			}
		}
		return nil
	})

	return ch, cleanup, nil
}
