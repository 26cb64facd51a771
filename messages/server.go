package messages

import "encoding/json"

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeUpstreamError    = "UPSTREAM_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeSignalingFailed  = "SIGNALING_FAILED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeBufferFull       = "BUFFER_FULL"
)

// Message types synthesized by the relay
const (
	TypeError         = "error"
	TypeUpstreamError = "upstream.error"
)

// ErrorEvent reports a relay-level failure (transport, signaling, protocol).
type ErrorEvent struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// UpstreamErrorEvent re-wraps an error the provider reported inside an
// otherwise valid event so clients can tell it apart from transport errors.
type UpstreamErrorEvent struct {
	Type      string          `json:"type"`
	Error     json.RawMessage `json:"error"`
	EventType string          `json:"eventType,omitempty"`
}

// NewErrorEvent creates a relay error event
func NewErrorEvent(sessionID, code, message string) *ErrorEvent {
	return &ErrorEvent{
		Type:      TypeError,
		Error:     message,
		Code:      code,
		SessionID: sessionID,
	}
}

// NewUpstreamErrorEvent wraps a provider error field
func NewUpstreamErrorEvent(eventType string, providerErr json.RawMessage) *UpstreamErrorEvent {
	return &UpstreamErrorEvent{
		Type:      TypeUpstreamError,
		Error:     providerErr,
		EventType: eventType,
	}
}
