// Package engine defines the boundary between wabot and the external
// session engine that owns the real messaging connection.
//
// The engine emits lifecycle and message events; wabot consumes them
// through the handler interfaces below and drives the engine only through
// Initialize and Reply.
package engine

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"

	wabotErrors "github.com/ibetin/wabot/internal/errors"
)

// Message is an inbound chat message reported by the engine.
type Message struct {
	// Sender is the engine's identifier for the chat that sent the message.
	Sender string
	// Body is the message text.
	Body string
	// FromMe is set for messages the bot account sent itself.
	FromMe bool
}

// ReplyResult is the outcome of a reply action.
type ReplyResult struct {
	// Err is nil when the engine confirmed the send.
	Err error
}

// OK reports whether the reply was delivered to the engine successfully.
func (r ReplyResult) OK() bool {
	return r.Err == nil
}

// LifecycleHandler receives connection lifecycle events.
type LifecycleHandler interface {
	OnPairingChallenge(raw string)
	OnReady()
	OnDisconnected(reason string)
}

// MessageHandler receives inbound message events.
type MessageHandler interface {
	OnMessage(msg Message)
}

// Handler receives every event kind the engine emits.
type Handler interface {
	LifecycleHandler
	MessageHandler
}

// Engine is the set of actions wabot invokes on the session engine.
type Engine interface {
	// Initialize asks the engine to (re)establish the session.
	Initialize(ctx context.Context) error
	// Reply sends text to the chat identified by to.
	Reply(ctx context.Context, to, text string) ReplyResult
	// Register installs the handler that receives engine events.
	Register(h Handler)
}

// Combine joins a lifecycle handler and a message handler into a Handler.
// Either may be nil, in which case its events are dropped.
func Combine(l LifecycleHandler, m MessageHandler) Handler {
	return combined{lifecycle: l, messages: m}
}

type combined struct {
	lifecycle LifecycleHandler
	messages  MessageHandler
}

func (c combined) OnPairingChallenge(raw string) {
	if c.lifecycle != nil {
		c.lifecycle.OnPairingChallenge(raw)
	}
}

func (c combined) OnReady() {
	if c.lifecycle != nil {
		c.lifecycle.OnReady()
	}
}

func (c combined) OnDisconnected(reason string) {
	if c.lifecycle != nil {
		c.lifecycle.OnDisconnected(reason)
	}
}

func (c combined) OnMessage(msg Message) {
	if c.messages != nil {
		c.messages.OnMessage(msg)
	}
}

// Guard runs fn and converts a panic into a logged internal error so one
// failing handler cannot end the event stream. It returns the recovered
// error, or nil if fn completed normally.
func Guard(event string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = wabotErrors.Internal(fmt.Sprintf("%s handler panicked", event), fmt.Errorf("%v", r))
			log.Printf("engine: %v\n%s", err, debug.Stack())
		}
	}()
	fn()
	return nil
}
