package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observedRequest struct {
	endpoint string
	outcome  string
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observedRequest
}

func (o *recordingObserver) ObserveUpstreamRequest(endpoint, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observedRequest{endpoint, outcome})
}

func TestCreateSession(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/realtime/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk-long-lived", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"ek_123","expires_at":1700000000}}`))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c := NewClient(srv.URL, "sk-long-lived", time.Second, WithObserver(obs))

	sess, err := c.CreateSession(context.Background(), SessionRequest{
		Model:         "gpt-4o-realtime-preview",
		Modalities:    []string{"audio", "text"},
		Voice:         "echo",
		TurnDetection: DefaultTurnDetection(),
	})
	require.NoError(t, err)
	assert.Equal(t, "sess_1", sess.ID)
	assert.Equal(t, "ek_123", sess.Token)
	assert.Equal(t, int64(1700000000), sess.ExpiresAt)

	assert.Equal(t, "gpt-4o-realtime-preview", got["model"])
	assert.Equal(t, "echo", got["voice"])
	td, ok := got["turn_detection"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "server_vad", td["type"])

	require.Len(t, obs.seen, 1)
	assert.Equal(t, observedRequest{EndpointSessions, "ok"}, obs.seen[0])
}

func TestCreateSession_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"no id", `{"client_secret":{"value":"ek"}}`, "id"},
		{"no secret", `{"id":"sess_1"}`, "client_secret.value"},
		{"empty secret", `{"id":"sess_1","client_secret":{"value":""}}`, "client_secret.value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "sk", time.Second).CreateSession(context.Background(), SessionRequest{Model: "m"})
			var missing *MissingFieldError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, tt.field, missing.Field)
		})
	}
}

func TestCreateSession_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	_, err := NewClient(srv.URL, "sk", time.Second, WithObserver(obs)).CreateSession(context.Background(), SessionRequest{Model: "m"})

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusUnauthorized, status.StatusCode)
	assert.Contains(t, status.Error(), "bad key")
	assert.Equal(t, "error", obs.seen[0].outcome)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, "sk", 50*time.Millisecond)
	_, err := c.SendOffer(context.Background(), "sess_1", "ek", "v=0", nil)

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, EndpointSDPOffer, timeout.Endpoint)
}

func TestSendOffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/realtime/sessions/sess_1/webrtc/sdp-offer", r.URL.Path)
		assert.Equal(t, "Bearer ek_123", r.Header.Get("Authorization"))

		var body struct {
			SDP        string   `json:"sdp"`
			Modalities []string `json:"modalities"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "offer-sdp", body.SDP)
		assert.Equal(t, []string{"audio"}, body.Modalities)

		w.Write([]byte(`{"sdp":"answer-sdp"}`))
	}))
	defer srv.Close()

	answer, err := NewClient(srv.URL, "sk", time.Second).SendOffer(context.Background(), "sess_1", "ek_123", "offer-sdp", []string{"audio"})
	require.NoError(t, err)
	assert.Equal(t, "answer-sdp", answer)
}

func TestSendOffer_MissingSDP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk", time.Second).SendOffer(context.Background(), "sess_1", "ek", "offer", nil)
	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "sdp", missing.Field)
}

func TestSendICECandidate(t *testing.T) {
	var body map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/realtime/sessions/sess_1/webrtc/ice-candidate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mid := "0"
	err := NewClient(srv.URL, "sk", time.Second).SendICECandidate(context.Background(), "sess_1", "ek", &webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host",
		SDPMid:    &mid,
	})
	require.NoError(t, err)
	assert.Equal(t, "candidate:1 1 udp 1 10.0.0.1 5000 typ host", body["candidate"]["candidate"])
	assert.Equal(t, "0", body["candidate"]["sdpMid"])
}
