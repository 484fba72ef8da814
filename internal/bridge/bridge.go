// Package bridge connects wabot to the session-engine sidecar over a
// WebSocket. The sidecar hosts the browser-automation client; the bridge
// turns its JSON frames into engine.Handler calls and carries the
// initialize and reply commands back.
//
// Events are dispatched from a single read goroutine per connection, so
// handlers never run concurrently with each other.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ibetin/wabot/internal/engine"
	wabotErrors "github.com/ibetin/wabot/internal/errors"
)

const (
	// DefaultDialTimeout bounds opening the sidecar WebSocket.
	DefaultDialTimeout = 10 * time.Second

	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second

	// maxMessageSize caps inbound frames.
	maxMessageSize = 1 << 20
)

// Config holds the sidecar connection settings.
type Config struct {
	// URL is the sidecar WebSocket endpoint, e.g. ws://127.0.0.1:3001/bridge.
	URL string
	// ClientID names the persisted session inside DataPath.
	ClientID string
	// DataPath is where the engine keeps session credentials.
	DataPath string
	// DialTimeout defaults to DefaultDialTimeout.
	DialTimeout time.Duration
}

// Bridge implements engine.Engine against a sidecar WebSocket.
type Bridge struct {
	cfg    Config
	dialer websocket.Dialer

	// dialMu serializes connection attempts so mu is never held while dialing.
	dialMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	handler engine.Handler
	pending map[string]chan ReplyResultPayload

	// gorilla/websocket allows one concurrent writer per connection.
	writeMu sync.Mutex
}

var _ engine.Engine = (*Bridge)(nil)

// New creates a Bridge. It does not connect until Initialize is called.
func New(cfg Config) *Bridge {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	return &Bridge{
		cfg: cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
		pending: make(map[string]chan ReplyResultPayload),
	}
}

// Register installs the handler for engine events. It replaces any
// previously registered handler.
func (b *Bridge) Register(h engine.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Connected reports whether a sidecar connection is open.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Initialize opens the sidecar connection if needed and sends the
// initialize command.
func (b *Bridge) Initialize(ctx context.Context) error {
	if err := b.ensureConnected(ctx); err != nil {
		return err
	}

	env, err := NewEnvelope(MessageTypeInitialize, "", InitializePayload{
		ClientID: b.cfg.ClientID,
		DataPath: b.cfg.DataPath,
	})
	if err != nil {
		return wabotErrors.EngineInitializeFailed(err)
	}
	if err := b.send(env); err != nil {
		return wabotErrors.EngineInitializeFailed(err)
	}
	log.Printf("bridge: initialize sent (client_id=%s)", b.cfg.ClientID)
	return nil
}

// Reply sends text to the chat to and waits for the sidecar's result or
// for ctx to end. It never panics and always returns a result.
func (b *Bridge) Reply(ctx context.Context, to, text string) engine.ReplyResult {
	id := uuid.NewString()
	env, err := NewEnvelope(MessageTypeReply, id, ReplyPayload{To: to, Text: text})
	if err != nil {
		return engine.ReplyResult{Err: wabotErrors.EngineSendFailed(string(MessageTypeReply), err)}
	}

	ch := make(chan ReplyResultPayload, 1)
	b.mu.Lock()
	if b.conn == nil {
		b.mu.Unlock()
		return engine.ReplyResult{Err: wabotErrors.EngineNotConnected()}
	}
	b.pending[id] = ch
	b.mu.Unlock()
	defer b.forget(id)

	start := time.Now()
	if err := b.send(env); err != nil {
		return engine.ReplyResult{Err: err}
	}

	select {
	case res := <-ch:
		if !res.OK {
			return engine.ReplyResult{Err: wabotErrors.ReplyFailed(to, res.Error)}
		}
		return engine.ReplyResult{}
	case <-ctx.Done():
		return engine.ReplyResult{Err: wabotErrors.ReplyTimeout(to, time.Since(start).Round(time.Millisecond))}
	}
}

// Close shuts the sidecar connection without emitting a disconnection.
// Pending replies fail immediately.
func (b *Bridge) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	pending := b.pending
	b.pending = make(map[string]chan ReplyResultPayload)
	b.mu.Unlock()

	closed := wabotErrors.EngineConnectionLost(net.ErrClosed)
	for _, ch := range pending {
		deliver(ch, ReplyResultPayload{OK: false, Error: closed.Error()})
	}

	if conn == nil {
		return nil
	}

	b.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	b.writeMu.Unlock()
	return conn.Close()
}

func (b *Bridge) ensureConnected(ctx context.Context) error {
	b.dialMu.Lock()
	defer b.dialMu.Unlock()

	if b.Connected() {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, b.cfg.DialTimeout)
	defer cancel()

	conn, _, err := b.dialer.DialContext(dialCtx, b.cfg.URL, nil)
	if err != nil {
		return wabotErrors.EngineDialFailed(b.cfg.URL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	log.Printf("bridge: connected to session engine at %s", b.cfg.URL)
	go b.readLoop(conn)
	return nil
}

func (b *Bridge) send(env Envelope) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return wabotErrors.EngineNotConnected()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return wabotErrors.EngineSendFailed(string(env.Type), err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return wabotErrors.EngineSendFailed(string(env.Type), err)
	}
	return nil
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// readLoop reads frames from conn until it fails, dispatching each one
// before reading the next.
func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.connectionLost(conn, err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("bridge: dropping malformed frame: %v", err)
			continue
		}
		b.dispatch(env)
	}
}

func (b *Bridge) dispatch(env Envelope) {
	if env.Type == MessageTypeReplyResult {
		var res ReplyResultPayload
		if err := decodePayload(env, &res); err != nil {
			log.Printf("bridge: bad reply.result payload: %v", err)
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[env.ID]
		b.mu.Unlock()
		if !ok {
			log.Printf("bridge: reply.result for unknown id %q", env.ID)
			return
		}
		deliver(ch, res)
		return
	}

	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		log.Printf("bridge: no handler registered, dropping %s event", env.Type)
		return
	}

	switch env.Type {
	case MessageTypeQR:
		var p QRPayload
		if err := decodePayload(env, &p); err != nil {
			log.Printf("bridge: bad qr payload: %v", err)
			return
		}
		engine.Guard("qr", func() { h.OnPairingChallenge(p.Code) })

	case MessageTypeReady:
		engine.Guard("ready", h.OnReady)

	case MessageTypeDisconnected:
		var p DisconnectedPayload
		if err := decodePayload(env, &p); err != nil {
			log.Printf("bridge: bad disconnected payload: %v", err)
			return
		}
		engine.Guard("disconnected", func() { h.OnDisconnected(p.Reason) })

	case MessageTypeMessage:
		var p MessagePayload
		if err := decodePayload(env, &p); err != nil {
			log.Printf("bridge: bad message payload: %v", err)
			return
		}
		engine.Guard("message", func() {
			h.OnMessage(engine.Message{Sender: p.From, Body: p.Body, FromMe: p.FromMe})
		})

	default:
		log.Printf("bridge: ignoring unknown event type %q", env.Type)
	}
}

// connectionLost fails every pending reply and reports the loss as a
// disconnection. Connections that were already closed or replaced go
// quietly.
func (b *Bridge) connectionLost(conn *websocket.Conn, cause error) {
	b.mu.Lock()
	active := b.conn == conn
	var pending map[string]chan ReplyResultPayload
	if active {
		b.conn = nil
		pending = b.pending
		b.pending = make(map[string]chan ReplyResultPayload)
	}
	h := b.handler
	b.mu.Unlock()

	conn.Close()
	if !active {
		return
	}

	lost := wabotErrors.EngineConnectionLost(cause)
	for _, ch := range pending {
		deliver(ch, ReplyResultPayload{OK: false, Error: lost.Error()})
	}

	log.Printf("bridge: %v", lost)
	if h != nil {
		reason := fmt.Sprintf("bridge connection lost: %v", cause)
		engine.Guard("disconnected", func() { h.OnDisconnected(reason) })
	}
}

// deliver hands res to a waiting Reply without ever blocking the read loop.
func deliver(ch chan ReplyResultPayload, res ReplyResultPayload) {
	select {
	case ch <- res:
	default:
	}
}
