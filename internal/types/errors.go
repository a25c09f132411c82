package types

import "fmt"

// Error codes carried on API error bodies. Stable identifiers for
// machine consumption; the message is for humans.
const (
	CodeNodeNotFound      = "NODE_NOT_FOUND"
	CodeNoAvailableNode   = "NO_AVAILABLE_NODE"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeRequestTimeout    = "REQUEST_TIMEOUT"
	CodeModelNotLoaded    = "MODEL_NOT_LOADED"
	CodeEngineError       = "ENGINE_ERROR"
	CodeVoiceNotFound     = "VOICE_NOT_FOUND"
)

// Error is a domain error with a stable machine code. Handlers detect it
// with errors.As and map the code to an HTTP status at the boundary.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NodeNotFound reports an operation against an unknown node id.
func NodeNotFound(nodeID string) *Error {
	return &Error{Code: CodeNodeNotFound, Message: fmt.Sprintf("node not found: %s", nodeID)}
}

// NoAvailableNode reports that selection found no ready node for an engine.
func NoAvailableNode(engine Engine) *Error {
	return &Error{Code: CodeNoAvailableNode, Message: fmt.Sprintf("no available node for engine %s", engine)}
}

// RateLimited reports a rejected request with the reason from the limiter.
func RateLimited(msg string) *Error {
	return &Error{Code: CodeRateLimitExceeded, Message: msg}
}

// InvalidRequest reports a request that failed validation.
func InvalidRequest(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}

// RequestTimeout reports a forwarded request that exceeded its deadline.
func RequestTimeout(msg string) *Error {
	return &Error{Code: CodeRequestTimeout, Message: msg}
}

// ModelNotLoaded reports work attempted against a worker in standby.
func ModelNotLoaded(engine Engine) *Error {
	return &Error{Code: CodeModelNotLoaded, Message: fmt.Sprintf("model not loaded for engine %s", engine)}
}

// EngineError wraps a failure reported by an engine runtime.
func EngineError(msg string) *Error {
	return &Error{Code: CodeEngineError, Message: msg}
}

// VoiceNotFound reports a reference to a voice id with no stored artifact.
func VoiceNotFound(voiceID string) *Error {
	return &Error{Code: CodeVoiceNotFound, Message: fmt.Sprintf("voice not found: %s", voiceID)}
}
