// Package session holds the process-wide record of the supervised
// connection's lifecycle phase and the current pairing artifact.
//
// The phase and artifact are guarded together as one unit so readers
// always observe a complete pair. Only the supervisor mutates a State;
// everything else reads it through Snapshot.
package session

import (
	"sync"
	"time"

	wabotErrors "github.com/ibetin/wabot/internal/errors"
)

// Phase is the discrete lifecycle state of the supervised session.
type Phase string

const (
	// PhaseInitializing means the engine has been asked to initialize and
	// has not yet reported a challenge or readiness.
	PhaseInitializing Phase = "initializing"
	// PhaseAwaitingPairing means a pairing challenge is waiting to be scanned.
	PhaseAwaitingPairing Phase = "awaiting_pairing"
	// PhaseReady means the session is connected and usable.
	PhaseReady Phase = "ready"
	// PhaseDisconnected means the session dropped and recovery is pending.
	PhaseDisconnected Phase = "disconnected"
)

// Phases lists every phase in cycle order.
var Phases = []Phase{PhaseInitializing, PhaseAwaitingPairing, PhaseReady, PhaseDisconnected}

// Valid reports whether p is one of the four known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseInitializing, PhaseAwaitingPairing, PhaseReady, PhaseDisconnected:
		return true
	}
	return false
}

// Snapshot is a consistent point-in-time copy of a State.
type Snapshot struct {
	// Phase is the lifecycle phase.
	Phase Phase
	// Artifact is the encoded pairing image; set only in PhaseAwaitingPairing.
	Artifact string
	// Since is when Phase was entered.
	Since time.Time
	// Version increments on every transition.
	Version uint64
}

// Transition describes one applied state change.
type Transition struct {
	From Snapshot
	To   Snapshot
}

// Options configures a State.
type Options struct {
	// Now returns current time; defaults to time.Now.
	Now func() time.Time
}

// State is the shared, synchronization-guarded session record.
type State struct {
	mu  sync.RWMutex
	now func() time.Time

	phase    Phase
	artifact string
	since    time.Time
	version  uint64
}

// NewState returns a State in PhaseInitializing, the phase at process start.
func NewState(opts Options) *State {
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &State{
		now:   nowFn,
		phase: PhaseInitializing,
		since: nowFn(),
	}
}

// Snapshot returns a copy of the current phase and artifact.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:    s.phase,
		Artifact: s.artifact,
		Since:    s.since,
		Version:  s.version,
	}
}

// SetInitializing moves to PhaseInitializing and clears any artifact.
func (s *State) SetInitializing() Transition {
	return s.set(PhaseInitializing, "")
}

// SetAwaitingPairing stores artifact and moves to PhaseAwaitingPairing in
// one write. An empty artifact is rejected and leaves the state untouched.
func (s *State) SetAwaitingPairing(artifact string) (Transition, error) {
	if artifact == "" {
		return Transition{}, wabotErrors.PairingEmpty()
	}
	return s.set(PhaseAwaitingPairing, artifact), nil
}

// SetReady moves to PhaseReady and clears the artifact.
func (s *State) SetReady() Transition {
	return s.set(PhaseReady, "")
}

// SetDisconnected moves to PhaseDisconnected and clears the artifact.
func (s *State) SetDisconnected() Transition {
	return s.set(PhaseDisconnected, "")
}

func (s *State) set(phase Phase, artifact string) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.snapshotLocked()
	// A repeated challenge refreshes the artifact without resetting Since.
	if s.phase != phase {
		s.since = s.now()
	}
	s.phase = phase
	s.artifact = artifact
	s.version++
	return Transition{From: from, To: s.snapshotLocked()}
}
