package messages

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// codec is the JSON implementation used on the relay hot path.
var codec = sonic.ConfigStd

// Direction tells the classifier which side produced a payload.
type Direction int

const (
	FromClient Direction = iota
	FromUpstream
)

func (d Direction) String() string {
	if d == FromUpstream {
		return "upstream"
	}
	return "client"
}

// FrameKind is the closed set of payload kinds the relay acts on.
type FrameKind int

const (
	KindUnparseable FrameKind = iota
	KindControl
	KindAudio
	KindKeepalive
)

func (k FrameKind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindAudio:
		return "audio"
	case KindKeepalive:
		return "keepalive"
	default:
		return "unparseable"
	}
}

var errNotObject = errors.New("payload is not a JSON object")

// Frame is one classified payload. Fields and Type are set for KindControl
// only; Err is set for KindUnparseable.
type Frame struct {
	Dir    Direction
	Kind   FrameKind
	Raw    []byte
	Binary bool
	Type   string
	Fields map[string]json.RawMessage
	Err    error
}

// Classify inspects a payload exactly once and decides what it is.
// messageType is a websocket message type (websocket.TextMessage or
// websocket.BinaryMessage).
func Classify(dir Direction, messageType int, payload []byte) Frame {
	binary := messageType == websocket.BinaryMessage
	frame := Frame{Dir: dir, Raw: payload, Binary: binary}

	if !binary {
		if isKeepalive(payload) {
			frame.Kind = KindKeepalive
			return frame
		}
		return decodeControl(frame)
	}

	if len(payload) == 0 {
		frame.Kind = KindKeepalive
		return frame
	}

	// Binary transport can carry JSON depending on upstream framing mode.
	if trimmed := bytes.TrimLeft(payload, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '{' {
		if decoded := decodeControl(frame); decoded.Kind == KindControl {
			return decoded
		}
	}

	// Both sides use binary frames for PCM16 (raw or WAV-wrapped).
	frame.Kind = KindAudio
	return frame
}

// isKeepalive reports whether a text payload is empty, whitespace, or a lone
// '.', in either direction.
func isKeepalive(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) == 0 || (len(trimmed) == 1 && trimmed[0] == '.')
}

func decodeControl(frame Frame) Frame {
	if !codec.Valid(frame.Raw) {
		frame.Kind = KindUnparseable
		frame.Err = errors.New("invalid JSON")
		return frame
	}

	var fields map[string]json.RawMessage
	if err := codec.Unmarshal(frame.Raw, &fields); err != nil || fields == nil {
		frame.Kind = KindUnparseable
		frame.Err = errNotObject
		return frame
	}

	frame.Kind = KindControl
	frame.Fields = fields
	frame.Type = frame.Field("type")
	return frame
}

// Field returns a top-level string field, or "" when absent or not a string.
func (f Frame) Field(key string) string {
	raw, ok := f.Fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := codec.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Has reports whether a top-level field is present and not null.
func (f Frame) Has(key string) bool {
	raw, ok := f.Fields[key]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Decode unmarshals the whole control payload into v.
func (f Frame) Decode(v any) error {
	return codec.Unmarshal(f.Raw, v)
}

// Encode marshals v with the relay codec.
func Encode(v any) ([]byte, error) {
	return codec.Marshal(v)
}
