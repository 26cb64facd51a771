package messages

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Provider event types the relay interprets. Everything else passes through.
const (
	EventSessionCreated         = "session.created"
	EventConversationItemCreate = "conversation.item.create"
	EventResponseCreate         = "response.create"
	EventResponseDone           = "response.done"
	EventResponseAudioDelta     = "response.audio.delta"
	EventResponseTextDelta      = "response.text.delta"
	EventError                  = "error"
)

// ConversationItemCreate adds a user item to the provider conversation.
type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

// ResponseCreate asks the provider to produce a response.
type ResponseCreate struct {
	Type     string         `json:"type"`
	Response ResponseParams `json:"response"`
}

type ResponseParams struct {
	Modalities         []string `json:"modalities,omitempty"`
	Instructions       string   `json:"instructions,omitempty"`
	PreviousResponseID string   `json:"previous_response_id,omitempty"`
}

// AudioTurn holds what the relay needs to synthesize one user audio turn.
type AudioTurn struct {
	AudioBase64        string
	Instructions       string
	PreviousResponseID string
	Modalities         []string
}

// Encode returns the two provider messages for the turn, in send order:
// conversation.item.create then response.create.
func (t AudioTurn) Encode() ([][]byte, error) {
	item, err := Encode(ConversationItemCreate{
		Type: EventConversationItemCreate,
		Item: ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ContentPart{
				{Type: "input_audio", Audio: t.AudioBase64},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode conversation item: %w", err)
	}

	resp, err := Encode(ResponseCreate{
		Type: EventResponseCreate,
		Response: ResponseParams{
			Modalities:         t.Modalities,
			Instructions:       t.Instructions,
			PreviousResponseID: t.PreviousResponseID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode response create: %w", err)
	}

	return [][]byte{item, resp}, nil
}

// ResponseID returns response.id from a response.done event.
func ResponseID(f Frame) string {
	raw, ok := f.Fields["response"]
	if !ok {
		return ""
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := codec.Unmarshal(raw, &resp); err != nil {
		return ""
	}
	return resp.ID
}

// AudioDelta decodes the base64 delta of a response.audio.delta event. An
// empty delta decodes to no bytes.
func AudioDelta(f Frame) ([]byte, error) {
	delta := f.Field("delta")
	if delta == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 delta: %w", err)
	}
	return data, nil
}

// ProviderError returns the raw error field of a provider event, if any.
func ProviderError(f Frame) (json.RawMessage, bool) {
	if !f.Has("error") {
		return nil, false
	}
	return f.Fields["error"], true
}
