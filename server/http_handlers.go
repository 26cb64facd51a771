package server

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/room4-2/realtime-relay/transcribe"
	"github.com/room4-2/realtime-relay/upstream"
)

var codec = sonic.ConfigStd

const maxBodyBytes = 25 << 20

type sessionParams struct {
	Voice        string `json:"voice"`
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
}

type transcribeRequest struct {
	Audio        string `json:"audio"`
	MIMEType     string `json:"mimeType"`
	SystemPrompt string `json:"systemPrompt"`
}

type chatRequest struct {
	Transcript   string `json:"transcript"`
	SystemPrompt string `json:"systemPrompt"`
}

type chatLine struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

type failure struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type transcriptLine struct {
	Transcript string `json:"transcript"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(s.config.AllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := codec.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return codec.Unmarshal(body, v)
}

// handleSession mints a provider realtime session so a browser can open its
// own peer connection. Parameters come from the query (GET) or a JSON body
// (POST); anything unset falls back to the relay's configuration.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var params sessionParams
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		params = sessionParams{Voice: q.Get("voice"), Model: q.Get("model"), Instructions: q.Get("instructions")}
	case http.MethodPost:
		if err := decodeBody(r, &params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req := upstream.SessionRequest{
		Model:         firstNonEmpty(params.Model, s.config.Model),
		Modalities:    s.config.Modalities,
		Voice:         firstNonEmpty(params.Voice, s.config.Voice),
		Instructions:  firstNonEmpty(params.Instructions, s.config.DefaultInstructions),
		TurnDetection: upstream.DefaultTurnDetection(),
	}

	ps, err := s.minter.CreateSession(r.Context(), req)
	if err != nil {
		s.log.Warn("session mint failed", zap.Error(err))
		var statusErr *upstream.StatusError
		if errors.As(err, &statusErr) {
			writeError(w, statusErr.StatusCode, statusErr.Body)
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ps.Raw)
}

// handleTranscribe streams transcript chunks as newline-delimited JSON.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription is not configured")
		return
	}

	var req transcribeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "audio must be non-empty base64")
		return
	}

	out := newNDJSONWriter(w)
	err = s.transcriber.Stream(r.Context(), transcribe.Request{
		Audio:        audio,
		MIMEType:     req.MIMEType,
		SystemPrompt: req.SystemPrompt,
	}, func(text string) error {
		return out.write(transcriptLine{Transcript: text})
	})
	if err != nil && r.Context().Err() == nil {
		s.log.Warn("transcription failed", zap.Error(err))
		_ = out.write(transcriptLine{Error: err.Error()})
	}
}

// ndjsonWriter writes one JSON value per line, committing the 200 status
// on the first line so earlier failures can still pick their own status.
type ndjsonWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newNDJSONWriter(w http.ResponseWriter) *ndjsonWriter {
	flusher, _ := w.(http.Flusher)
	return &ndjsonWriter{w: w, flusher: flusher}
}

func (n *ndjsonWriter) write(v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.Header().Set("Cache-Control", "no-cache")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	if _, err := n.w.Write(append(data, '\n')); err != nil {
		return err
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}

// handleChat streams a chat completion for a transcript as newline-delimited
// {"text":...} chunks.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, "No transcript provided")
		return
	}

	out := newNDJSONWriter(w)
	err := s.assistant.ChatStream(r.Context(), upstream.ChatRequest{
		Transcript:   req.Transcript,
		SystemPrompt: req.SystemPrompt,
		Model:        s.config.ChatModel,
	}, func(text string) error {
		return out.write(chatLine{Text: text})
	})
	if err == nil || r.Context().Err() != nil {
		return
	}

	s.log.Warn("chat completion failed", zap.Error(err))
	if !out.started {
		writeJSON(w, http.StatusInternalServerError, failure{Error: "OpenAI Chat API failed", Details: err.Error()})
		return
	}
	_ = out.write(chatLine{Error: err.Error()})
}

// handleOpenAITranscribe transcribes base64 audio in one request and answers
// {"transcript":...}.
func (s *Server) handleOpenAITranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription is not configured")
		return
	}

	var req transcribeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Audio == "" {
		writeError(w, http.StatusBadRequest, "No audio provided")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "audio must be non-empty base64")
		return
	}

	text, err := s.assistant.Transcribe(r.Context(), upstream.TranscriptionRequest{
		Audio:    audio,
		MIMEType: req.MIMEType,
		Model:    s.config.TranscriptionModel,
	})
	if err != nil {
		s.log.Warn("whisper transcription failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failure{Error: "OpenAI Whisper API failed", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": text})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
