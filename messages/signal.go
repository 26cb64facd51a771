package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// SignalType identifies a signaling message
type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
	SignalICE    SignalType = "ice"
)

// Signal is a decoded client signaling message. Exactly one of Offer and
// Candidate is set, matching Type.
type Signal struct {
	Type      SignalType
	Offer     *webrtc.SessionDescription
	Candidate *webrtc.ICECandidateInit
}

var ErrUnknownSignal = errors.New("unknown signal type")

// DecodeSignal turns a webrtc-signal control frame into a Signal. Offers are
// checked to be parseable SDP before anything is sent upstream.
func DecodeSignal(f Frame) (Signal, error) {
	var env SignalEnvelope
	if err := f.Decode(&env); err != nil {
		return Signal{}, fmt.Errorf("invalid signal envelope: %w", err)
	}

	switch SignalType(env.SignalType) {
	case SignalOffer:
		var data struct {
			SDP string `json:"sdp"`
		}
		if err := codec.Unmarshal(env.Data, &data); err != nil {
			return Signal{}, fmt.Errorf("invalid offer data: %w", err)
		}
		if data.SDP == "" {
			return Signal{}, errors.New("offer without sdp")
		}
		offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: data.SDP}
		if _, err := offer.Unmarshal(); err != nil {
			return Signal{}, fmt.Errorf("invalid offer sdp: %w", err)
		}
		return Signal{Type: SignalOffer, Offer: offer}, nil

	case SignalICE, "ice-candidate", "candidate":
		candidate, err := decodeCandidate(env.Data)
		if err != nil {
			return Signal{}, err
		}
		return Signal{Type: SignalICE, Candidate: candidate}, nil

	default:
		return Signal{}, fmt.Errorf("%w: %q", ErrUnknownSignal, env.SignalType)
	}
}

// decodeCandidate accepts both {candidate: "candidate:..."} (RTCIceCandidate
// JSON) and {candidate: {candidate: "candidate:...", ...}}.
func decodeCandidate(data json.RawMessage) (*webrtc.ICECandidateInit, error) {
	var shape map[string]json.RawMessage
	if err := codec.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("invalid ice data: %w", err)
	}

	target := []byte(data)
	if nested, ok := shape["candidate"]; ok && bytes.HasPrefix(bytes.TrimSpace(nested), []byte("{")) {
		target = nested
	}

	var candidate webrtc.ICECandidateInit
	if err := codec.Unmarshal(target, &candidate); err != nil {
		return nil, fmt.Errorf("invalid ice candidate: %w", err)
	}
	if candidate.Candidate == "" {
		return nil, errors.New("ice signal without candidate")
	}
	return &candidate, nil
}

// SignalAnswerEnvelope carries the provider's SDP answer back to the client.
type SignalAnswerEnvelope struct {
	Type       string                    `json:"type"`
	SignalType SignalType                `json:"signalType"`
	Data       webrtc.SessionDescription `json:"data"`
}

// NewAnswerSignal wraps an answer SDP for the client socket.
func NewAnswerSignal(sdp string) *SignalAnswerEnvelope {
	return &SignalAnswerEnvelope{
		Type:       TypeWebRTCSignal,
		SignalType: SignalAnswer,
		Data:       webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp},
	}
}
