// Package responder sends automatic replies to inbound messages.
//
// Replies are fire-and-forget: each send runs on its own goroutine, and a
// failed send is logged with the sender and then dropped. Nothing here
// reads or writes session state, so replies are attempted in every phase.
package responder

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ibetin/wabot/internal/engine"
)

// DefaultReplyTimeout bounds a single reply send.
const DefaultReplyTimeout = 30 * time.Second

// Replier is the engine action used to send a reply.
type Replier interface {
	Reply(ctx context.Context, to, text string) engine.ReplyResult
}

// Outcome describes a finished reply attempt.
type Outcome struct {
	To     string
	Text   string
	Result engine.ReplyResult
}

// OutcomeObserver is notified after every reply attempt.
type OutcomeObserver interface {
	ReplyFinished(o Outcome)
}

// Options configures a Responder.
type Options struct {
	// Timeout bounds each send; DefaultReplyTimeout when zero.
	Timeout time.Duration
	// Observers receive every outcome (journal, metrics).
	Observers []OutcomeObserver
}

// Responder implements engine.MessageHandler.
type Responder struct {
	replier   Replier
	policy    Policy
	timeout   time.Duration
	observers []OutcomeObserver

	wg sync.WaitGroup
}

// New creates a Responder that sends through replier according to policy.
func New(replier Replier, policy Policy, opts Options) *Responder {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &Responder{
		replier:   replier,
		policy:    policy,
		timeout:   timeout,
		observers: opts.Observers,
	}
}

// OnMessage logs msg and, if the policy says so, sends a reply in the background.
func (r *Responder) OnMessage(msg engine.Message) {
	if msg.FromMe || msg.Sender == "" {
		return
	}
	log.Printf("responder: message received from %s: %s", msg.Sender, msg.Body)

	text, ok := r.policy.Decide(msg)
	if !ok {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.send(msg.Sender, text)
	}()
}

// Wait blocks until every in-flight reply has finished.
func (r *Responder) Wait() {
	r.wg.Wait()
}

func (r *Responder) send(to, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var result engine.ReplyResult
	if err := engine.Guard("reply", func() {
		result = r.replier.Reply(ctx, to, text)
	}); err != nil {
		result = engine.ReplyResult{Err: err}
	}

	if result.OK() {
		log.Printf("responder: replied to %s", to)
	} else {
		log.Printf("responder: reply to %s failed: %v", to, result.Err)
	}

	o := Outcome{To: to, Text: text, Result: result}
	for _, obs := range r.observers {
		obs.ReplyFinished(o)
	}
}
