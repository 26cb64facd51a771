package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout    = 10 * time.Second
	maxMessageBytes = 4 * 1024 * 1024
)

// Link is one open connection to the provider's realtime socket.
type Link interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens realtime sockets authenticated with the long-lived API key.
type Dialer struct {
	url    string
	model  string
	apiKey string
	dialer *websocket.Dialer
}

// NewDialer creates a dialer for the provider realtime endpoint
func NewDialer(realtimeURL, model, apiKey string, handshakeTimeout time.Duration) *Dialer {
	return &Dialer{
		url:    realtimeURL,
		model:  model,
		apiKey: apiKey,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		},
	}
}

// Dial connects to <url>?model=<model> with the bearer and protocol headers.
func (d *Dialer) Dial(ctx context.Context) (Link, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	if d.model != "" {
		q := u.Query()
		q.Set("model", d.model)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime API (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to realtime API: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)

	return &wsLink{conn: conn}, nil
}

// wsLink serializes writes; gorilla allows one concurrent writer.
type wsLink struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (l *wsLink) ReadMessage() (int, []byte, error) {
	return l.conn.ReadMessage()
}

func (l *wsLink) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteMessage(messageType, data)
}

// Close sends a normal close frame and releases the socket. Safe to call twice.
func (l *wsLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	_ = l.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return l.conn.Close()
}
