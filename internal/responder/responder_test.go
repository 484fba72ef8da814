package responder

import (
	"bytes"
	"context"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/ibetin/wabot/internal/engine"
	wabotErrors "github.com/ibetin/wabot/internal/errors"
	"github.com/ibetin/wabot/internal/session"
)

type reply struct {
	to, text string
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []reply
	err     error
	panics  bool
}

func (f *fakeReplier) Reply(ctx context.Context, to, text string) engine.ReplyResult {
	if f.panics {
		panic("engine exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply{to: to, text: text})
	return engine.ReplyResult{Err: f.err}
}

func (f *fakeReplier) sent() []reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reply(nil), f.replies...)
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *outcomeRecorder) ReplyFinished(out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

// captureLog redirects the standard logger for the duration of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })
	return &buf
}

func TestTriggerPolicy_Decide(t *testing.T) {
	p := TriggerPolicy{Trigger: DefaultTrigger, Template: DefaultReply}

	tests := []struct {
		body string
		want bool
	}{
		{"hi", true},
		{"HI", true},
		{"Hi", true},
		{"hI", true},
		{" hi", false},
		{"hi\n", false},
		{"\thI  ", false},
		{"hi there", false},
		{"high", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			text, ok := p.Decide(engine.Message{Sender: "1@c.us", Body: tt.body})
			if ok != tt.want {
				t.Fatalf("Decide(%q) ok = %v, want %v", tt.body, ok, tt.want)
			}
			if ok && text != DefaultReply {
				t.Errorf("reply = %q, want %q", text, DefaultReply)
			}
		})
	}
}

func TestTriggerPolicy_EmptyTriggerNeverMatches(t *testing.T) {
	p := TriggerPolicy{Template: "x"}
	if _, ok := p.Decide(engine.Message{Body: ""}); ok {
		t.Error("empty trigger matched an empty body")
	}
}

func TestAlwaysPolicy_RendersSender(t *testing.T) {
	p := AlwaysPolicy{Template: "Hello {sender}!"}
	text, ok := p.Decide(engine.Message{Sender: "254700@c.us", Body: "anything"})
	if !ok || text != "Hello 254700@c.us!" {
		t.Errorf("Decide() = %q, %v", text, ok)
	}
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		mode   string
		wantOK bool
		want   Policy
	}{
		{"", true, TriggerPolicy{Trigger: "hi", Template: "r"}},
		{ModeTrigger, true, TriggerPolicy{Trigger: "hi", Template: "r"}},
		{ModeAlways, true, AlwaysPolicy{Template: "r"}},
		{"echo", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			p, ok := NewPolicy(tt.mode, "hi", "r")
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if p != tt.want {
				t.Errorf("policy = %#v, want %#v", p, tt.want)
			}
		})
	}
}

func TestOnMessage_TriggerSendsExactlyOneReply(t *testing.T) {
	captureLog(t)
	replier := &fakeReplier{}
	r := New(replier, TriggerPolicy{Trigger: "hi", Template: DefaultReply}, Options{})

	r.OnMessage(engine.Message{Sender: "1@c.us", Body: "HI"})
	r.OnMessage(engine.Message{Sender: "2@c.us", Body: "hello"})
	r.Wait()

	sent := replier.sent()
	if len(sent) != 1 {
		t.Fatalf("replies = %d, want 1", len(sent))
	}
	if sent[0].to != "1@c.us" || sent[0].text != DefaultReply {
		t.Errorf("reply = %+v", sent[0])
	}
}

func TestOnMessage_IgnoresOwnAndAnonymousMessages(t *testing.T) {
	captureLog(t)
	replier := &fakeReplier{}
	r := New(replier, AlwaysPolicy{Template: "x"}, Options{})

	r.OnMessage(engine.Message{Sender: "1@c.us", Body: "hi", FromMe: true})
	r.OnMessage(engine.Message{Body: "hi"})
	r.Wait()

	if n := len(replier.sent()); n != 0 {
		t.Errorf("replies = %d, want 0", n)
	}
}

func TestOnMessage_FailureIsLoggedAndSwallowed(t *testing.T) {
	buf := captureLog(t)
	state := session.NewState(session.Options{})
	state.SetReady()
	before := state.Snapshot()

	replier := &fakeReplier{err: wabotErrors.ReplyFailed("1@c.us", "session closed")}
	rec := &outcomeRecorder{}
	r := New(replier, TriggerPolicy{Trigger: "hi", Template: DefaultReply}, Options{Observers: []OutcomeObserver{rec}})

	r.OnMessage(engine.Message{Sender: "1@c.us", Body: "hi"})
	r.Wait()

	if !strings.Contains(buf.String(), "reply to 1@c.us failed") {
		t.Errorf("log missing failure with sender, got:\n%s", buf.String())
	}
	if after := state.Snapshot(); after != before {
		t.Errorf("session state changed: %+v -> %+v", before, after)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0].Result.OK() {
		t.Fatalf("outcomes = %+v, want one failure", rec.outcomes)
	}
	if !wabotErrors.IsCode(rec.outcomes[0].Result.Err, wabotErrors.CodeReplyFailed) {
		t.Errorf("outcome error = %v", rec.outcomes[0].Result.Err)
	}
	// No retry.
	if n := len(replier.sent()); n != 1 {
		t.Errorf("send attempts = %d, want 1", n)
	}
}

func TestOnMessage_PanickingReplierIsContained(t *testing.T) {
	captureLog(t)
	rec := &outcomeRecorder{}
	r := New(&fakeReplier{panics: true}, AlwaysPolicy{Template: "x"}, Options{Observers: []OutcomeObserver{rec}})

	r.OnMessage(engine.Message{Sender: "1@c.us", Body: "hi"})
	r.Wait()

	if len(rec.outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(rec.outcomes))
	}
	if !wabotErrors.IsCode(rec.outcomes[0].Result.Err, wabotErrors.CodeInternal) {
		t.Errorf("outcome error = %v, want internal", rec.outcomes[0].Result.Err)
	}
}

func TestOnMessage_LogsInboundBody(t *testing.T) {
	buf := captureLog(t)
	r := New(&fakeReplier{}, TriggerPolicy{Trigger: "hi"}, Options{})

	r.OnMessage(engine.Message{Sender: "1@c.us", Body: "order status?"})
	r.Wait()

	if !strings.Contains(buf.String(), "order status?") {
		t.Errorf("inbound body not logged:\n%s", buf.String())
	}
}

func TestNew_DefaultTimeout(t *testing.T) {
	r := New(&fakeReplier{}, AlwaysPolicy{}, Options{})
	if r.timeout != DefaultReplyTimeout {
		t.Errorf("timeout = %v, want %v", r.timeout, DefaultReplyTimeout)
	}
}

var _ engine.MessageHandler = (*Responder)(nil)
