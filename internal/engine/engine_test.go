package engine

import (
	"errors"
	"testing"

	wabotErrors "github.com/ibetin/wabot/internal/errors"
)

type recordingHandler struct {
	events []string
	msgs   []Message
}

func (r *recordingHandler) OnPairingChallenge(raw string) { r.events = append(r.events, "qr:"+raw) }
func (r *recordingHandler) OnReady() { r.events = append(r.events, "ready") }
func (r *recordingHandler) OnDisconnected(reason string) { r.events = append(r.events, "disconnected:"+reason) }
func (r *recordingHandler) OnMessage(msg Message) { r.msgs = append(r.msgs, msg) }

func TestCombine_RoutesByKind(t *testing.T) {
	lifecycle := &recordingHandler{}
	messages := &recordingHandler{}
	h := Combine(lifecycle, messages)

	h.OnPairingChallenge("XYZ")
	h.OnReady()
	h.OnDisconnected("replaced")
	h.OnMessage(Message{Sender: "1@c.us", Body: "hi"})

	want := []string{"qr:XYZ", "ready", "disconnected:replaced"}
	if len(lifecycle.events) != len(want) {
		t.Fatalf("lifecycle events = %v, want %v", lifecycle.events, want)
	}
	for i := range want {
		if lifecycle.events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, lifecycle.events[i], want[i])
		}
	}
	if len(lifecycle.msgs) != 0 {
		t.Errorf("lifecycle handler received messages: %v", lifecycle.msgs)
	}
	if len(messages.msgs) != 1 || messages.msgs[0].Body != "hi" {
		t.Errorf("messages = %v", messages.msgs)
	}
	if len(messages.events) != 0 {
		t.Errorf("message handler received lifecycle events: %v", messages.events)
	}
}

func TestCombine_NilHalves(t *testing.T) {
	h := Combine(nil, nil)
	// Must not panic.
	h.OnPairingChallenge("x")
	h.OnReady()
	h.OnDisconnected("x")
	h.OnMessage(Message{})
}

func TestGuard_RecoversPanic(t *testing.T) {
	err := Guard("message", func() { panic("boom") })
	if !wabotErrors.IsCode(err, wabotErrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestGuard_NoPanic(t *testing.T) {
	ran := false
	if err := Guard("ready", func() { ran = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("fn was not called")
	}
}

func TestReplyResult_OK(t *testing.T) {
	if !(ReplyResult{}).OK() {
		t.Error("zero ReplyResult should be OK")
	}
	if (ReplyResult{Err: errors.New("x")}).OK() {
		t.Error("ReplyResult with error should not be OK")
	}
}
