package messages

import "encoding/json"

// TypeWebRTCSignal tags signaling envelopes in both directions.
const TypeWebRTCSignal = "webrtc-signal"

// SimplifiedAudio is the older client shape: one recorded utterance plus an
// optional system prompt, no provider event type.
type SimplifiedAudio struct {
	Audio        string `json:"audio"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// SignalEnvelope wraps a signaling payload on the client socket.
type SignalEnvelope struct {
	Type       string          `json:"type"`
	SignalType string          `json:"signalType"`
	Data       json.RawMessage `json:"data"`
}

// IsSimplifiedAudio reports whether a client control frame is the
// {audio, systemPrompt?} form rather than a provider event.
func IsSimplifiedAudio(f Frame) bool {
	return f.Type == "" && f.Has("audio")
}

// DecodeSimplifiedAudio extracts the simplified audio shape.
func DecodeSimplifiedAudio(f Frame) (SimplifiedAudio, error) {
	var msg SimplifiedAudio
	err := f.Decode(&msg)
	return msg, err
}
