package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/room4-2/realtime-relay/config"
	"github.com/room4-2/realtime-relay/upstream"
)

type wireMsg struct {
	messageType int
	data        []byte
}

// fakeSocket is an in-memory websocket end used for both the client socket
// and the upstream link. Reads come from push; writes are recorded.
type fakeSocket struct {
	in     chan wireMsg
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []wireMsg
	failOn  int // fail the Nth data write (1-based); 0 disables
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan wireMsg, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) push(messageType int, data string) {
	s.in <- wireMsg{messageType: messageType, data: []byte(data)}
}

func (s *fakeSocket) pushText(data string) {
	s.push(websocket.TextMessage, data)
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-s.in:
		return msg.messageType, msg.data, nil
	case <-s.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: io.ErrUnexpectedEOF.Error()}
	}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	if s.isClosed() {
		return websocket.ErrCloseSent
	}
	if messageType == websocket.CloseMessage {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn > 0 && len(s.written)+1 == s.failOn {
		return errors.New("broken pipe")
	}
	s.written = append(s.written, wireMsg{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) messages() []wireMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wireMsg(nil), s.written...)
}

func (s *fakeSocket) texts() []string {
	var out []string
	for _, m := range s.messages() {
		if m.messageType == websocket.TextMessage {
			out = append(out, string(m.data))
		}
	}
	return out
}

func (s *fakeSocket) binaries() [][]byte {
	var out [][]byte
	for _, m := range s.messages() {
		if m.messageType == websocket.BinaryMessage {
			out = append(out, m.data)
		}
	}
	return out
}

// fakeDialer hands out one fakeSocket per dial. A non-nil gate holds the
// dial until it is closed.
type fakeDialer struct {
	link  *fakeSocket
	gate  chan struct{}
	err   error
	dials atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context) (upstream.Link, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.link, nil
}

type fakeAPI struct {
	mu         sync.Mutex
	session    *upstream.ProviderSession
	sessionErr error
	answer     string
	offerErr   error
	iceErr     error

	creates    int
	offers     []string
	candidates []string
}

func (a *fakeAPI) CreateSession(ctx context.Context, req upstream.SessionRequest) (*upstream.ProviderSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates++
	if a.sessionErr != nil {
		return nil, a.sessionErr
	}
	return a.session, nil
}

func (a *fakeAPI) SendOffer(ctx context.Context, sessionID, token, sdp string, modalities []string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offers = append(a.offers, sdp)
	if a.offerErr != nil {
		return "", a.offerErr
	}
	return a.answer, nil
}

func (a *fakeAPI) SendICECandidate(ctx context.Context, sessionID, token string, candidate *webrtc.ICECandidateInit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.candidates = append(a.candidates, candidate.Candidate)
	return a.iceErr
}

func (a *fakeAPI) counts() (creates, offers, candidates int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creates, len(a.offers), len(a.candidates)
}

func testConfig(mode string) *config.Config {
	return &config.Config{
		UpstreamMode:        mode,
		EagerConnect:        true,
		Model:               "gpt-4o-realtime-preview",
		Voice:               "echo",
		Modalities:          []string{"audio", "text"},
		DefaultInstructions: "Answer briefly.",
		MaxSessions:         10,
		SessionTimeout:      time.Minute,
		MaxQueueSize:        64 * 1024,
	}
}
