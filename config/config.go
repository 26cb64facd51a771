package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Upstream modes
const (
	ModeWebSocket = "websocket" // relay JSON events over a provider socket
	ModeWebRTC    = "webrtc"    // bridge SDP/ICE signaling over provider HTTP endpoints
)

// Config holds all server configuration
type Config struct {
	Port           int
	UpstreamMode   string // "websocket" or "webrtc"
	EagerConnect   bool   // Dial the provider socket on client connect instead of first message
	AllowedOrigins []string

	OpenAIAPIKey        string
	RealtimeURL         string // wss endpoint for the direct variant
	APIBaseURL          string // https base for session/SDP/ICE endpoints
	Model               string
	Voice               string
	Modalities          []string
	DefaultInstructions string
	UpstreamTimeout     time.Duration
	ChatModel           string // Model behind POST /chat
	TranscriptionModel  string // Model behind POST /transcribe/openai

	MaxSessions     int
	SessionTimeout  time.Duration
	KeepAlivePeriod time.Duration
	MaxQueueSize    int // Maximum bytes buffered per session before the upstream is ready

	RedisURL      string
	RedisPassword string

	GeminiAPIKey string // Optional, enables /transcribe
	GeminiModel  string

	LogLevel  string
	LogFormat string // "json" or "console"
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:                8080,
		UpstreamMode:        ModeWebSocket,
		EagerConnect:        true,
		AllowedOrigins:      []string{"*"},
		RealtimeURL:         "wss://api.openai.com/v1/realtime",
		APIBaseURL:          "https://api.openai.com",
		Model:               "gpt-4o-realtime-preview-2025-02-01",
		Voice:               "echo",
		Modalities:          []string{"audio", "text"},
		DefaultInstructions: "You are an assistant that answers briefly and politely.",
		UpstreamTimeout:     10 * time.Second,
		ChatModel:           "gpt-4o",
		TranscriptionModel:  "whisper-1",
		MaxSessions:         100,
		SessionTimeout:      30 * time.Minute,
		KeepAlivePeriod:     30 * time.Second,
		MaxQueueSize:        5 * 1024 * 1024, // 5MB default
		RedisURL:            "",
		GeminiModel:         "models/gemini-2.5-flash-preview-05-20",
		LogLevel:            "info",
		LogFormat:           "json",
	}

	// Required: OPENAI_API_KEY
	config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if config.OpenAIAPIKey == "" {
		config.OpenAIAPIKey = os.Getenv("NEXT_PUBLIC_OPENAI_API_KEY")
	}
	if config.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: UPSTREAM_MODE ("websocket" or "webrtc")
	if mode := os.Getenv("UPSTREAM_MODE"); mode != "" {
		switch mode {
		case ModeWebSocket, ModeWebRTC:
			config.UpstreamMode = mode
		default:
			return nil, fmt.Errorf("invalid UPSTREAM_MODE: must be 'websocket' or 'webrtc'")
		}
	}

	if eager := os.Getenv("EAGER_CONNECT"); eager != "" {
		b, err := strconv.ParseBool(eager)
		if err != nil {
			return nil, fmt.Errorf("invalid EAGER_CONNECT: %w", err)
		}
		config.EagerConnect = b
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	if v := os.Getenv("OPENAI_REALTIME_URL"); v != "" {
		config.RealtimeURL = v
	}
	if v := os.Getenv("OPENAI_API_BASE"); v != "" {
		config.APIBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("OPENAI_REALTIME_MODEL"); v != "" {
		config.Model = v
	}
	if v := os.Getenv("OPENAI_VOICE"); v != "" {
		config.Voice = v
	}
	if v := os.Getenv("OPENAI_MODALITIES"); v != "" {
		config.Modalities = strings.Split(v, ",")
	}
	if v := os.Getenv("DEFAULT_INSTRUCTIONS"); v != "" {
		config.DefaultInstructions = v
	}
	if v := os.Getenv("OPENAI_CHAT_MODEL"); v != "" {
		config.ChatModel = v
	}
	if v := os.Getenv("OPENAI_TRANSCRIBE_MODEL"); v != "" {
		config.TranscriptionModel = v
	}

	// Optional: UPSTREAM_TIMEOUT (in seconds)
	if timeout := os.Getenv("UPSTREAM_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid UPSTREAM_TIMEOUT: %w", err)
		}
		if t <= 0 {
			return nil, fmt.Errorf("invalid UPSTREAM_TIMEOUT: must be positive")
		}
		config.UpstreamTimeout = time.Duration(t) * time.Second
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: MAX_QUEUE_SIZE (in bytes)
	if queueSize := os.Getenv("MAX_QUEUE_SIZE"); queueSize != "" {
		q, err := strconv.Atoi(queueSize)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_QUEUE_SIZE: %w", err)
		}
		config.MaxQueueSize = q
	}

	// Optional: REDIS_URL (empty disables the registry mirror)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		config.GeminiModel = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "console":
			config.LogFormat = v
		default:
			return nil, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'console'")
		}
	}

	return config, nil
}
