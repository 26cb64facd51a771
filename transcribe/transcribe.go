// Package transcribe streams speech-to-text results from Gemini.
package transcribe

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultMIMEType = "audio/wav"
	defaultPrompt   = "Transcribe this audio exactly. Return only the spoken words."
)

// ErrEmptyAudio is returned for a request without audio bytes
var ErrEmptyAudio = errors.New("no audio to transcribe")

// Request is one recorded utterance to transcribe.
type Request struct {
	Audio        []byte
	MIMEType     string
	SystemPrompt string
}

// Transcriber wraps a GenAI client bound to one model.
type Transcriber struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// Option configures a Transcriber.
type Option func(*genai.ClientConfig)

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) Option {
	return func(cc *genai.ClientConfig) {
		cc.HTTPOptions.BaseURL = url
	}
}

// New creates a Transcriber for the Gemini API
func New(ctx context.Context, apiKey, model string, logger *zap.Logger, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cc)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Transcriber{
		client: client,
		model:  model,
		log:    logger.With(zap.String("model", model)),
	}, nil
}

// Stream sends the audio to the model and calls emit with each transcript
// chunk as it arrives. An error from emit stops the stream.
func (t *Transcriber) Stream(ctx context.Context, req Request, emit func(text string) error) error {
	if len(req.Audio) == 0 {
		return ErrEmptyAudio
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = defaultMIMEType
	}
	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: req.Audio}},
		}, genai.RoleUser),
	}

	chunks := 0
	for resp, err := range t.client.Models.GenerateContentStream(ctx, t.model, contents, nil) {
		if err != nil {
			return fmt.Errorf("transcription stream: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		chunks++
		if err := emit(text); err != nil {
			return err
		}
	}

	t.log.Debug("transcription finished", zap.Int("chunks", chunks), zap.Int("audio_bytes", len(req.Audio)))
	return nil
}
