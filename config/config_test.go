package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "NEXT_PUBLIC_OPENAI_API_KEY", "PORT", "UPSTREAM_MODE",
		"EAGER_CONNECT", "UPSTREAM_TIMEOUT", "MAX_QUEUE_SIZE", "LOG_FORMAT",
		"OPENAI_API_BASE", "OPENAI_MODALITIES", "OPENAI_CHAT_MODEL", "OPENAI_TRANSCRIBE_MODEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_MissingAPIKey(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ModeWebSocket, cfg.UpstreamMode)
	assert.True(t, cfg.EagerConnect)
	assert.Equal(t, 10*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, []string{"audio", "text"}, cfg.Modalities)
	assert.Equal(t, "gpt-4o", cfg.ChatModel)
	assert.Equal(t, "whisper-1", cfg.TranscriptionModel)
}

func TestLoadConfig_FallbackKeyAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEXT_PUBLIC_OPENAI_API_KEY", "sk-public")
	t.Setenv("PORT", "9090")
	t.Setenv("UPSTREAM_MODE", "webrtc")
	t.Setenv("EAGER_CONNECT", "false")
	t.Setenv("UPSTREAM_TIMEOUT", "3")
	t.Setenv("OPENAI_API_BASE", "http://localhost:1234/")
	t.Setenv("OPENAI_CHAT_MODEL", "gpt-4o-mini")
	t.Setenv("OPENAI_TRANSCRIBE_MODEL", "gpt-4o-transcribe")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sk-public", cfg.OpenAIAPIKey)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ModeWebRTC, cfg.UpstreamMode)
	assert.False(t, cfg.EagerConnect)
	assert.Equal(t, 3*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, "http://localhost:1234", cfg.APIBaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.ChatModel)
	assert.Equal(t, "gpt-4o-transcribe", cfg.TranscriptionModel)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port", "PORT", "eighty"},
		{"mode", "UPSTREAM_MODE", "carrier-pigeon"},
		{"timeout", "UPSTREAM_TIMEOUT", "0"},
		{"queue", "MAX_QUEUE_SIZE", "lots"},
		{"log format", "LOG_FORMAT", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("OPENAI_API_KEY", "sk-test")
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
