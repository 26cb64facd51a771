package upstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Endpoint labels for the non-realtime provider calls
const (
	EndpointChat           = "chat-completions"
	EndpointTranscriptions = "transcriptions"
)

const (
	DefaultChatModel          = "gpt-4o"
	DefaultChatMaxTokens      = 512
	DefaultTranscriptionModel = "whisper-1"

	DefaultChatPrompt = "You are a helpful AI assistant. Respond clearly and concisely. " +
		"Keep replies under 260 characters unless more detail is needed."

	defaultTranscriptionMIME = "audio/webm"
	maxStreamLine            = 1 << 20
)

var (
	ErrEmptyTranscript = errors.New("no transcript provided")
	ErrEmptyAudio      = errors.New("no audio provided")
)

// ChatRequest is one user turn for a streamed chat completion.
type ChatRequest struct {
	Transcript   string
	SystemPrompt string
	Model        string
	MaxTokens    int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// TranscriptionRequest is recorded audio for a one-shot transcription.
type TranscriptionRequest struct {
	Audio    []byte
	MIMEType string
	Model    string
}

// ChatStream posts a streaming chat completion and calls emit with every
// non-empty content delta, in order. The timeout bounds the wait for the
// response headers; the body streams until the provider ends it or ctx is
// cancelled. An error from emit stops the stream and is returned.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, emit func(text string) error) (err error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return ErrEmptyTranscript
	}

	start := time.Now()
	defer c.observe(EndpointChat, start, &err)

	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = DefaultChatPrompt
	}
	body := chatCompletionRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: req.Transcript},
		},
		Stream:    true,
		MaxTokens: req.MaxTokens,
	}
	if body.Model == "" {
		body.Model = DefaultChatModel
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = DefaultChatMaxTokens
	}

	encoded, err := codec.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", EndpointChat, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", EndpointChat, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	headerTimer := time.AfterFunc(c.timeout, cancel)
	resp, err := c.http.Do(httpReq)
	if !headerTimer.Stop() {
		if resp != nil {
			resp.Body.Close()
		}
		return &TimeoutError{Endpoint: EndpointChat, After: c.timeout}
	}
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", EndpointChat, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return &StatusError{Endpoint: EndpointChat, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(errBody))}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var chunk chatCompletionChunk
		if err := codec.UnmarshalFromString(data, &chunk); err != nil {
			// Partial or foreign events are skipped.
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := emit(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s: read stream: %w", EndpointChat, err)
	}
	return nil
}

// Transcribe uploads recorded audio as multipart form data and returns the
// full transcript.
func (c *Client) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	if len(req.Audio) == 0 {
		return "", ErrEmptyAudio
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = defaultTranscriptionMIME
	}
	model := req.Model
	if model == "" {
		model = DefaultTranscriptionModel
	}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.webm"`)
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("%s: create form file: %w", EndpointTranscriptions, err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return "", fmt.Errorf("%s: write audio: %w", EndpointTranscriptions, err)
	}
	if err := mw.WriteField("model", model); err != nil {
		return "", fmt.Errorf("%s: write model field: %w", EndpointTranscriptions, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%s: close form: %w", EndpointTranscriptions, err)
	}

	body, err := c.do(ctx, EndpointTranscriptions, "/v1/audio/transcriptions", c.apiKey, mw.FormDataContentType(), form.Bytes())
	if err != nil {
		return "", err
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := codec.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%s: invalid response body: %w", EndpointTranscriptions, err)
	}
	return resp.Text, nil
}
