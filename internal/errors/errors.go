// Package errors provides standardized error codes for wabot.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (pairing, engine, reply, config, journal)
//   - error: The specific error type within that domain
//
// Codes are stable so log scrapers and the journal can group failures
// without parsing free-form messages.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error codes by domain.
const (
	// Pairing domain - turning engine challenges into displayable artifacts
	CodePairingEncodeFailed = "pairing.encode_failed" // Challenge could not be rendered as an image
	CodePairingEmpty        = "pairing.empty"         // Engine sent an empty challenge

	// Engine domain - the session-engine bridge
	CodeEngineDialFailed       = "engine.dial_failed"       // Bridge WebSocket could not be opened
	CodeEngineNotConnected     = "engine.not_connected"     // Command issued with no open bridge
	CodeEngineSendFailed       = "engine.send_failed"       // Writing a command frame failed
	CodeEngineInitializeFailed = "engine.initialize_failed" // Engine refused or failed initialize
	CodeEngineConnectionLost   = "engine.connection_lost"   // Bridge closed while commands were pending

	// Reply domain - auto-responder sends
	CodeReplyFailed  = "reply.failed"  // Engine reported a failed send
	CodeReplyTimeout = "reply.timeout" // No reply.result before the deadline

	// Config domain
	CodeConfigInvalid = "config.invalid" // A configuration value failed validation

	// Journal domain - lifecycle journal persistence
	CodeJournalOpenFailed  = "journal.open_failed"  // Database open failed
	CodeJournalWriteFailed = "journal.write_failed" // Insert failed
	CodeJournalQueryFailed = "journal.query_failed" // Select failed

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error (recovered panic etc.)
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "engine.dial_failed")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// PairingEncodeFailed creates a "pairing.encode_failed" error.
func PairingEncodeFailed(cause error) *CodedError {
	return Wrap(CodePairingEncodeFailed, "failed to encode pairing challenge", cause)
}

// PairingEmpty creates a "pairing.empty" error.
func PairingEmpty() *CodedError {
	return New(CodePairingEmpty, "pairing challenge is empty")
}

// EngineDialFailed creates an "engine.dial_failed" error.
func EngineDialFailed(url string, cause error) *CodedError {
	return Wrap(CodeEngineDialFailed, fmt.Sprintf("could not connect to session engine at %s", url), cause)
}

// EngineNotConnected creates an "engine.not_connected" error.
func EngineNotConnected() *CodedError {
	return New(CodeEngineNotConnected, "session engine bridge is not connected")
}

// EngineSendFailed creates an "engine.send_failed" error.
func EngineSendFailed(command string, cause error) *CodedError {
	return Wrap(CodeEngineSendFailed, fmt.Sprintf("failed to send %s command", command), cause)
}

// EngineInitializeFailed creates an "engine.initialize_failed" error.
func EngineInitializeFailed(cause error) *CodedError {
	return Wrap(CodeEngineInitializeFailed, "session engine initialize failed", cause)
}

// EngineConnectionLost creates an "engine.connection_lost" error.
// Pending replies are failed with this when the bridge drops.
func EngineConnectionLost(cause error) *CodedError {
	return Wrap(CodeEngineConnectionLost, "session engine bridge connection lost", cause)
}

// ReplyFailed creates a "reply.failed" error carrying the engine's reason.
func ReplyFailed(to, reason string) *CodedError {
	msg := fmt.Sprintf("reply to %s failed", to)
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return New(CodeReplyFailed, msg)
}

// ReplyTimeout creates a "reply.timeout" error.
func ReplyTimeout(to string, after time.Duration) *CodedError {
	return New(CodeReplyTimeout, fmt.Sprintf("no reply result for %s after %s", to, after))
}

// ConfigInvalid creates a "config.invalid" error for a named field.
func ConfigInvalid(field, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("invalid %s: %s", field, reason))
}

// JournalOpenFailed creates a "journal.open_failed" error.
func JournalOpenFailed(path string, cause error) *CodedError {
	return Wrap(CodeJournalOpenFailed, fmt.Sprintf("failed to open journal at %s", path), cause)
}

// JournalWriteFailed creates a "journal.write_failed" error.
func JournalWriteFailed(cause error) *CodedError {
	return Wrap(CodeJournalWriteFailed, "failed to write journal entry", cause)
}

// JournalQueryFailed creates a "journal.query_failed" error.
func JournalQueryFailed(cause error) *CodedError {
	return Wrap(CodeJournalQueryFailed, "failed to query journal", cause)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
