package engine

import (
	"context"
	"sync"
	"time"
)

// entry pairs a DownloadState with the cancel func of its active task, if any.
// Grounded on manager.go's activeDownload{task, workerID, cancel}: the
// teacher keeps a cancel func alongside task bookkeeping in a map guarded by
// a single mutex; the store generalizes that into the sole owner of each
// DownloadID's (State, task handle) pair.
type entry struct {
	state  DownloadState
	cancel context.CancelFunc
	done   chan struct{}
}

// store is the single mutation point for all DownloadState values. All
// operations execute under mu; the stored State is treated as immutable and
// update publishes a fresh value rather than mutating in place.
type store struct {
	mu      sync.RWMutex
	entries map[DownloadID]*entry
}

func newStore() *store {
	return &store{entries: make(map[DownloadID]*entry)}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (s *store) get(id DownloadID) (DownloadState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return DownloadState{}, false
	}
	return e.state.clone(), true
}

func (s *store) all() []DownloadState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DownloadState, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.state.clone())
	}
	return out
}

// insertOrReject fails when an entry already exists for id: pre-existing
// entries are "already handled" per the lifecycle's idempotent-replay rule.
func (s *store) insertOrReject(id DownloadID, initial DownloadState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; exists {
		return false
	}
	initial.TimestampMillis = nowMillis()
	s.entries[id] = &entry{state: initial}
	return true
}

// update applies transform to the stored state and publishes the result; a
// no-op if id is absent. Returns the new state and whether it was applied.
func (s *store) update(id DownloadID, transform func(DownloadState) DownloadState) (DownloadState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return DownloadState{}, false
	}
	next := transform(e.state.clone())
	next.TimestampMillis = nowMillis()
	e.state = next
	return next.clone(), true
}

func (s *store) attachTask(id DownloadID, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.cancel = cancel
	}
}

func (s *store) detachTask(id DownloadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.cancel = nil
	}
}

func (s *store) hasActiveTask(id DownloadID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return ok && e.cancel != nil
}

func (s *store) cancelTask(id DownloadID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	e.cancel = nil
	return true
}

// setStatusAndDetach is the combined atomic transition pause/cancel need:
// it stops the task handle and sets the terminal/paused status as one step
// under the store mutex, so no reader observes a state with a live cancel
// func and a terminal status simultaneously.
func (s *store) setStatusAndDetach(id DownloadID, status DownloadStatus) (DownloadState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return DownloadState{}, false
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = nil
	e.state.Status = status
	e.state.TimestampMillis = nowMillis()
	return e.state.clone(), true
}

// setDone records the completion channel for id's current task.
func (s *store) setDone(id DownloadID, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.done = done
	}
}

// doneChan returns the completion channel of id's most recently launched
// task, or nil if id is absent or no task was ever launched for it. The
// channel is kept after the task ends or is detached, so it may already be
// closed.
func (s *store) doneChan(id DownloadID) chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	return e.done
}

// transitionIfTaskActive cancels id's task and sets status, but only if a
// task is currently attached (cancel != nil); this is Pause's guard: pausing
// a non-active or absent download must return false without effect.
func (s *store) transitionIfTaskActive(id DownloadID, status DownloadStatus) (DownloadState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.cancel == nil {
		return DownloadState{}, false
	}
	e.cancel()
	e.cancel = nil
	e.state.Status = status
	e.state.TimestampMillis = nowMillis()
	return e.state.clone(), true
}

// forceStatus cancels id's task if one is attached and sets status
// unconditionally; it is Cancel's guard: only a missing id returns false.
func (s *store) forceStatus(id DownloadID, status DownloadStatus) (DownloadState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return DownloadState{}, false
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.state.Status = status
	e.state.TimestampMillis = nowMillis()
	return e.state.clone(), true
}

// clear empties the store, used by Engine.Close after every task has joined.
func (s *store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[DownloadID]*entry)
}

// activeIDs returns ids whose status is INITIALIZING or DOWNLOADING.
func (s *store) activeIDs() []DownloadID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DownloadID
	for id, e := range s.entries {
		if e.state.Status == StatusInitializing || e.state.Status == StatusDownloading {
			out = append(out, id)
		}
	}
	return out
}
