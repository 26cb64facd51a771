package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pion/webrtc/v4"
)

var codec = sonic.ConfigStd

const maxResponseBytes = 1 << 20

// Endpoint labels used in errors and metrics
const (
	EndpointSessions = "sessions"
	EndpointSDPOffer = "sdp-offer"
	EndpointICE      = "ice-candidate"
)

// RequestObserver receives one call per finished provider HTTP request.
type RequestObserver interface {
	ObserveUpstreamRequest(endpoint, outcome string, elapsed time.Duration)
}

// TurnDetection configures provider-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// DefaultTurnDetection is server-side VAD with the provider's documented defaults.
func DefaultTurnDetection() *TurnDetection {
	return &TurnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	}
}

// SessionRequest is the body of POST /v1/realtime/sessions.
type SessionRequest struct {
	Model         string         `json:"model"`
	Modalities    []string       `json:"modalities,omitempty"`
	Voice         string         `json:"voice,omitempty"`
	Instructions  string         `json:"instructions,omitempty"`
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
}

// ProviderSession is a created provider session. Token is the ephemeral
// client secret scoped to this session.
type ProviderSession struct {
	ID        string
	Token     string
	ExpiresAt int64
	Raw       []byte
}

type sessionResponse struct {
	ID           string `json:"id"`
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Client calls the provider's REST endpoints. Every call waits at most the
// configured timeout for a response and is never retried.
type Client struct {
	baseURL  string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	observer RequestObserver
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver reports request outcomes, typically to metrics
func WithObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a REST client rooted at baseURL (e.g. https://api.openai.com)
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession creates a provider session with the long-lived API key and
// returns its id and ephemeral token. A response without either is an error.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*ProviderSession, error) {
	body, err := c.post(ctx, EndpointSessions, "/v1/realtime/sessions", c.apiKey, req)
	if err != nil {
		return nil, err
	}

	var resp sessionResponse
	if err := codec.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%s: invalid response body: %w", EndpointSessions, err)
	}
	if resp.ID == "" {
		return nil, &MissingFieldError{Endpoint: EndpointSessions, Field: "id"}
	}
	if resp.ClientSecret == nil || resp.ClientSecret.Value == "" {
		return nil, &MissingFieldError{Endpoint: EndpointSessions, Field: "client_secret.value"}
	}

	return &ProviderSession{
		ID:        resp.ID,
		Token:     resp.ClientSecret.Value,
		ExpiresAt: resp.ClientSecret.ExpiresAt,
		Raw:       body,
	}, nil
}

// SendOffer posts the client's SDP offer and returns the provider's answer SDP.
func (c *Client) SendOffer(ctx context.Context, sessionID, token, sdp string, modalities []string) (string, error) {
	path := "/v1/realtime/sessions/" + sessionID + "/webrtc/sdp-offer"
	reqBody := struct {
		SDP        string   `json:"sdp"`
		Modalities []string `json:"modalities,omitempty"`
	}{SDP: sdp, Modalities: modalities}

	body, err := c.post(ctx, EndpointSDPOffer, path, token, reqBody)
	if err != nil {
		return "", err
	}

	var resp struct {
		SDP string `json:"sdp"`
	}
	if err := codec.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%s: invalid response body: %w", EndpointSDPOffer, err)
	}
	if resp.SDP == "" {
		return "", &MissingFieldError{Endpoint: EndpointSDPOffer, Field: "sdp"}
	}
	return resp.SDP, nil
}

// SendICECandidate forwards one client ICE candidate.
func (c *Client) SendICECandidate(ctx context.Context, sessionID, token string, candidate *webrtc.ICECandidateInit) error {
	path := "/v1/realtime/sessions/" + sessionID + "/webrtc/ice-candidate"
	reqBody := struct {
		Candidate *webrtc.ICECandidateInit `json:"candidate"`
	}{Candidate: candidate}

	_, err := c.post(ctx, EndpointICE, path, token, reqBody)
	return err
}

func (c *Client) post(ctx context.Context, endpoint, path, bearer string, payload any) ([]byte, error) {
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", endpoint, err)
	}
	return c.do(ctx, endpoint, path, bearer, "application/json", encoded)
}

// observe reports a finished request to the observer, if any. errp is read
// when the deferred call runs.
func (c *Client) observe(endpoint string, start time.Time, errp *error) {
	if c.observer == nil {
		return
	}
	outcome := "ok"
	if *errp != nil {
		outcome = "error"
	}
	c.observer.ObserveUpstreamRequest(endpoint, outcome, time.Since(start))
}

// do sends one bounded POST and returns the 2xx response body.
func (c *Client) do(ctx context.Context, endpoint, path, bearer, contentType string, payload []byte) (body []byte, err error) {
	start := time.Now()
	defer c.observe(endpoint, start, &err)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", contentType)
	if strings.HasPrefix(path, "/v1/realtime/") {
		req.Header.Set("OpenAI-Beta", "realtime=v1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Endpoint: endpoint, After: c.timeout}
		}
		return nil, fmt.Errorf("%s: request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Endpoint: endpoint, After: c.timeout}
		}
		return nil, fmt.Errorf("%s: read response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}
