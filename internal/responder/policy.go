package responder

import (
	"strings"

	"github.com/ibetin/wabot/internal/engine"
)

// Default reply settings, matching the original deployment.
const (
	DefaultTrigger = "hi"
	DefaultReply   = "Hello! 👋 Welcome to IBETIN."
)

// SenderPlaceholder in a reply template is replaced by the sender ID.
const SenderPlaceholder = "{sender}"

// Policy decides whether and what to reply. Implementations must depend
// only on the message content.
type Policy interface {
	Decide(msg engine.Message) (reply string, ok bool)
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(msg engine.Message) (string, bool)

// Decide calls f(msg).
func (f PolicyFunc) Decide(msg engine.Message) (string, bool) {
	return f(msg)
}

// TriggerPolicy replies with Template when the body equals Trigger,
// ignoring letter case only. Whitespace is significant.
type TriggerPolicy struct {
	Trigger  string
	Template string
}

// Decide implements Policy.
func (p TriggerPolicy) Decide(msg engine.Message) (string, bool) {
	if p.Trigger == "" || !strings.EqualFold(msg.Body, p.Trigger) {
		return "", false
	}
	return render(p.Template, msg), true
}

// AlwaysPolicy replies to every message with Template.
type AlwaysPolicy struct {
	Template string
}

// Decide implements Policy.
func (p AlwaysPolicy) Decide(msg engine.Message) (string, bool) {
	return render(p.Template, msg), true
}

func render(template string, msg engine.Message) string {
	return strings.ReplaceAll(template, SenderPlaceholder, msg.Sender)
}

// Mode names accepted by NewPolicy.
const (
	ModeTrigger = "trigger"
	ModeAlways  = "always"
)

// NewPolicy builds the policy for mode. Unknown modes return ok=false.
func NewPolicy(mode, trigger, template string) (Policy, bool) {
	switch mode {
	case "", ModeTrigger:
		return TriggerPolicy{Trigger: trigger, Template: template}, true
	case ModeAlways:
		return AlwaysPolicy{Template: template}, true
	}
	return nil, false
}
