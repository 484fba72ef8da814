package config

import "github.com/ibetin/wabot/internal/responder"

// Defaults for the supervisor. They match the original single-session
// deployment and apply when neither the file, the environment nor a flag
// sets a value.
const (
	DefaultPort       = 3000
	DefaultListenHost = "0.0.0.0"

	// DefaultBridgeURL is where the session-engine sidecar listens.
	DefaultBridgeURL = "ws://127.0.0.1:3001/bridge"

	DefaultClientID = "bot2"
	DefaultDataPath = "/mnt/data/.wwebjs_auth"

	DefaultReconnectDelayMs    = 5000
	DefaultReconnectMaxDelayMs = 60000
	DefaultReplyTimeoutMs      = 30000

	DefaultReplyMode     = ReplyModeTrigger
	DefaultTriggerPhrase = responder.DefaultTrigger
	DefaultReplyText     = responder.DefaultReply
)

// Reconnect policies.
const (
	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

// Reply modes, as accepted by responder.NewPolicy.
const (
	ReplyModeTrigger = responder.ModeTrigger
	ReplyModeAlways  = responder.ModeAlways
)
