// Package slotpool implements the Supervisor: it owns the pool of worker
// slots, pre-warms them at startup, re-spawns on death, and exposes a
// per-slot Submit primitive guarded by a per-slot lock.
package slotpool

import (
	"sync"
)

// State is a worker slot's position in its lifecycle.
type State int

const (
	Empty State = iota
	Starting
	Idle
	Busy
	Draining
	Dead
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Starting:
		return "starting"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Draining:
		return "draining"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// slot is the Supervisor's record for one worker. Every
// field touched by more than one goroutine is guarded by mu. At most one
// job in flight per slot is enforced by the Idle->Busy transition itself:
// Submit takes mu only long enough to claim the slot,
// so a concurrent Submit on the same index sees Busy and is rejected
// immediately rather than queuing behind a held lock for the duration of
// the child's I/O.
type slot struct {
	mu sync.Mutex

	index      int
	state      State
	pid        int
	generation uint64

	proc *workerProc // nil until the first successful spawn; afterwards the latest process, whose pipes are closed once the slot is Dead

	respawnQueued bool
}

func newSlot(index int) *slot {
	return &slot{index: index, state: Empty}
}

func (s *slot) snapshot() (State, int, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.pid, s.generation
}

func (s *slot) selectable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Idle || s.state == Busy
}
