package session

import (
	"sync"
	"testing"
	"time"

	wabotErrors "github.com/ibetin/wabot/internal/errors"
)

func TestNewState_StartsInitializing(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewState(Options{Now: func() time.Time { return start }})

	snap := s.Snapshot()
	if snap.Phase != PhaseInitializing {
		t.Errorf("Phase = %q, want %q", snap.Phase, PhaseInitializing)
	}
	if snap.Artifact != "" {
		t.Errorf("Artifact = %q, want empty", snap.Artifact)
	}
	if !snap.Since.Equal(start) {
		t.Errorf("Since = %v, want %v", snap.Since, start)
	}
	if snap.Version != 0 {
		t.Errorf("Version = %d, want 0", snap.Version)
	}
}

func TestState_ArtifactOnlyWhileAwaitingPairing(t *testing.T) {
	s := NewState(Options{})

	steps := []struct {
		name  string
		apply func()
		want  Phase
	}{
		{"pairing", func() { mustPair(t, s, "data:image/png;base64,AAA") }, PhaseAwaitingPairing},
		{"ready", func() { s.SetReady() }, PhaseReady},
		{"disconnected", func() { s.SetDisconnected() }, PhaseDisconnected},
		{"initializing", func() { s.SetInitializing() }, PhaseInitializing},
		{"pairing again", func() { mustPair(t, s, "data:image/png;base64,BBB") }, PhaseAwaitingPairing},
		{"disconnected from pairing", func() { s.SetDisconnected() }, PhaseDisconnected},
	}

	for _, step := range steps {
		step.apply()
		snap := s.Snapshot()
		if snap.Phase != step.want {
			t.Fatalf("%s: Phase = %q, want %q", step.name, snap.Phase, step.want)
		}
		if !snap.Phase.Valid() {
			t.Fatalf("%s: invalid phase %q", step.name, snap.Phase)
		}
		hasArtifact := snap.Artifact != ""
		if hasArtifact != (snap.Phase == PhaseAwaitingPairing) {
			t.Fatalf("%s: artifact present=%v in phase %q", step.name, hasArtifact, snap.Phase)
		}
	}
}

func TestState_SetAwaitingPairingRejectsEmpty(t *testing.T) {
	s := NewState(Options{})
	s.SetReady()

	_, err := s.SetAwaitingPairing("")
	if !wabotErrors.IsCode(err, wabotErrors.CodePairingEmpty) {
		t.Fatalf("expected %s, got %v", wabotErrors.CodePairingEmpty, err)
	}
	if got := s.Snapshot().Phase; got != PhaseReady {
		t.Errorf("Phase = %q, want unchanged %q", got, PhaseReady)
	}
}

func TestState_TransitionReportsFromAndTo(t *testing.T) {
	s := NewState(Options{})
	tr := s.SetReady()

	if tr.From.Phase != PhaseInitializing || tr.To.Phase != PhaseReady {
		t.Errorf("transition = %q -> %q", tr.From.Phase, tr.To.Phase)
	}
	if tr.To.Version != tr.From.Version+1 {
		t.Errorf("version did not advance: %d -> %d", tr.From.Version, tr.To.Version)
	}
}

func TestState_RepeatedChallengeKeepsSince(t *testing.T) {
	now := time.Unix(100, 0)
	s := NewState(Options{Now: func() time.Time { return now }})

	mustPair(t, s, "one")
	first := s.Snapshot().Since
	now = now.Add(20 * time.Second)
	mustPair(t, s, "two")

	snap := s.Snapshot()
	if !snap.Since.Equal(first) {
		t.Errorf("Since moved on refresh: %v -> %v", first, snap.Since)
	}
	if snap.Artifact != "two" {
		t.Errorf("Artifact = %q, want two", snap.Artifact)
	}
}

// TestState_ConcurrentReadersSeeConsistentPairs runs readers against a
// writer cycling through every phase. Run with -race.
func TestState_ConcurrentReadersSeeConsistentPairs(t *testing.T) {
	s := NewState(Options{})
	done := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := s.Snapshot()
				if (snap.Artifact != "") != (snap.Phase == PhaseAwaitingPairing) {
					t.Errorf("torn read: phase=%q artifact=%q", snap.Phase, snap.Artifact)
					return
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		s.SetInitializing()
		if _, err := s.SetAwaitingPairing("qr"); err != nil {
			t.Fatal(err)
		}
		s.SetReady()
		s.SetDisconnected()
	}
	close(done)
	wg.Wait()
}

func mustPair(t *testing.T, s *State, artifact string) {
	t.Helper()
	if _, err := s.SetAwaitingPairing(artifact); err != nil {
		t.Fatalf("SetAwaitingPairing: %v", err)
	}
}
