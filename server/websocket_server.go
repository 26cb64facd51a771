package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/realtime-relay/config"
	"github.com/room4-2/realtime-relay/logging"
	"github.com/room4-2/realtime-relay/messages"
	"github.com/room4-2/realtime-relay/metrics"
	"github.com/room4-2/realtime-relay/session"
	"github.com/room4-2/realtime-relay/transcribe"
	"github.com/room4-2/realtime-relay/upstream"
)

// SessionMinter creates provider realtime sessions for browser clients.
type SessionMinter interface {
	CreateSession(ctx context.Context, req upstream.SessionRequest) (*upstream.ProviderSession, error)
}

// Transcriber streams transcript chunks for recorded audio.
type Transcriber interface {
	Stream(ctx context.Context, req transcribe.Request, emit func(text string) error) error
}

// Assistant answers transcripts with streamed chat and transcribes recorded
// audio in one shot. *upstream.Client satisfies it.
type Assistant interface {
	ChatStream(ctx context.Context, req upstream.ChatRequest, emit func(text string) error) error
	Transcribe(ctx context.Context, req upstream.TranscriptionRequest) (string, error)
}

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	minter         SessionMinter
	transcriber    Transcriber
	assistant      Assistant
	metrics        *metrics.Collector
	log            *zap.Logger
}

// Option configures optional server endpoints
type Option func(*Server)

// WithTranscriber enables POST /transcribe
func WithTranscriber(t Transcriber) Option {
	return func(s *Server) { s.transcriber = t }
}

// WithAssistant enables POST /chat and POST /transcribe/openai
func WithAssistant(a Assistant) Option {
	return func(s *Server) { s.assistant = a }
}

// WithMetrics serves the collector on GET /metrics
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

func NewServer(cfg *config.Config, sessionManager *session.Manager, minter SessionMinter, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		minter:         minter,
		log:            logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// Transcripts stream for as long as the model talks.
		WriteTimeout: 2 * time.Minute,
	}

	return s
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/session", s.withCORS(s.handleSession))
	mux.HandleFunc("/transcribe", s.withCORS(s.handleTranscribe))
	mux.HandleFunc("/transcribe/openai", s.withCORS(s.handleOpenAITranscribe))
	mux.HandleFunc("/chat", s.withCORS(s.handleChat))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.log.Info("relay server starting",
		zap.Int("port", s.config.Port),
		zap.String("mode", s.config.UpstreamMode),
		zap.String("endpoint", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port)),
	)
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn)
	if err != nil {
		s.log.Warn("failed to create session", zap.Error(err))
		_ = conn.WriteJSON(messages.NewErrorEvent("", messages.ErrCodeSessionFailed, err.Error()))
		conn.Close()
		return
	}

	clientSession.Start()

	<-clientSession.Done()

	_ = s.sessionManager.RemoveSession(context.Background(), clientSession.ID)
	s.log.Info("session closed", zap.String("session", logging.ShortID(clientSession.ID)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.sessionManager.GetActiveSessionCount())
}
