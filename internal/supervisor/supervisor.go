// Package supervisor owns the session lifecycle: it applies engine
// lifecycle events to the shared session.State and re-initializes the
// engine after every disconnection.
package supervisor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ibetin/wabot/internal/pairing"
	"github.com/ibetin/wabot/internal/session"
)

// DefaultReconnectDelay is the fixed wait between a disconnection and the
// next initialize attempt.
const DefaultReconnectDelay = 5 * time.Second

// Initializer is the engine action the supervisor drives.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d without blocking the caller.
type Scheduler func(d time.Duration, f func()) Timer

// AfterFunc is the production Scheduler backed by time.AfterFunc.
func AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Observer is notified of every applied transition and scheduled recovery.
// Observers run on the event goroutine after the state is updated and
// should return quickly.
type Observer interface {
	Transitioned(tr session.Transition, detail string)
	RecoveryScheduled(delay time.Duration)
}

// Options configures a Supervisor.
type Options struct {
	// Encoder renders pairing challenges; defaults to pairing.NewQREncoder().
	Encoder pairing.Encoder
	// Policy yields the delay before each recovery; defaults to a constant
	// DefaultReconnectDelay. backoff.Stop is treated as DefaultReconnectDelay
	// so recovery never gives up.
	Policy backoff.BackOff
	// Schedule defaults to AfterFunc.
	Schedule Scheduler
	// Observers receive transition notifications (journal, metrics).
	Observers []Observer
}

// Supervisor implements engine.LifecycleHandler.
type Supervisor struct {
	state     *session.State
	engine    Initializer
	encoder   pairing.Encoder
	schedule  Scheduler
	observers []Observer

	mu      sync.Mutex
	policy  backoff.BackOff
	pending Timer
	baseCtx context.Context
	closed  bool
}

// New creates a Supervisor that writes to state and initializes eng.
func New(state *session.State, eng Initializer, opts Options) *Supervisor {
	s := &Supervisor{
		state:     state,
		engine:    eng,
		encoder:   opts.Encoder,
		schedule:  opts.Schedule,
		observers: opts.Observers,
		policy:    opts.Policy,
		baseCtx:   context.Background(),
	}
	if s.encoder == nil {
		s.encoder = pairing.NewQREncoder()
	}
	if s.schedule == nil {
		s.schedule = AfterFunc
	}
	if s.policy == nil {
		s.policy = backoff.NewConstantBackOff(DefaultReconnectDelay)
	}
	return s
}

// State returns the session state this supervisor writes.
func (s *Supervisor) State() *session.State {
	return s.state
}

// Startup moves to initializing and asks the engine to initialize.
// ctx is also used for every later recovery attempt. A failed initialize
// is handled like a disconnection so the normal recovery path retries it.
func (s *Supervisor) Startup(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.baseCtx = ctx
	s.mu.Unlock()

	s.apply(s.state.SetInitializing(), "")
	log.Printf("supervisor: initializing session engine")

	if err := s.engine.Initialize(ctx); err != nil {
		log.Printf("supervisor: initialize failed: %v", err)
		s.OnDisconnected("initialize failed: " + err.Error())
	}
}

// OnPairingChallenge encodes raw and publishes it together with the
// awaiting-pairing phase. On encode failure the phase is left unchanged.
func (s *Supervisor) OnPairingChallenge(raw string) {
	artifact, err := s.encoder.Encode(raw)
	if err != nil {
		log.Printf("supervisor: pairing challenge dropped: %v", err)
		return
	}

	tr, err := s.state.SetAwaitingPairing(artifact)
	if err != nil {
		log.Printf("supervisor: pairing challenge dropped: %v", err)
		return
	}
	s.apply(tr, "")
	log.Printf("supervisor: QR code generated, scan it in the browser to log in")
}

// OnReady marks the session usable and resets the recovery policy.
func (s *Supervisor) OnReady() {
	s.mu.Lock()
	s.policy.Reset()
	s.mu.Unlock()

	s.apply(s.state.SetReady(), "")
	log.Printf("supervisor: session is ready and connected")
}

// OnDisconnected marks the session down and schedules one recovery.
func (s *Supervisor) OnDisconnected(reason string) {
	s.apply(s.state.SetDisconnected(), reason)
	log.Printf("supervisor: disconnected due to: %s", reason)
	s.scheduleRecovery()
}

// Pending reports whether a recovery is scheduled and has not yet fired.
func (s *Supervisor) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Close cancels any pending recovery. Events received afterwards still
// update state but schedule nothing.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *Supervisor) scheduleRecovery() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.pending != nil {
		log.Printf("supervisor: recovery already pending, not scheduling another")
		return
	}

	delay := s.policy.NextBackOff()
	if delay == backoff.Stop {
		delay = DefaultReconnectDelay
	}

	s.pending = s.schedule(delay, s.recover)
	log.Printf("supervisor: attempting to reinitialize client in %s", delay)

	for _, o := range s.observers {
		o.RecoveryScheduled(delay)
	}
}

func (s *Supervisor) recover() {
	s.mu.Lock()
	s.pending = nil
	closed := s.closed
	ctx := s.baseCtx
	s.mu.Unlock()

	if closed || ctx.Err() != nil {
		return
	}
	s.Startup(ctx)
}

func (s *Supervisor) apply(tr session.Transition, detail string) {
	for _, o := range s.observers {
		o.Transitioned(tr, detail)
	}
}
