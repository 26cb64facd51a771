package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/room4-2/realtime-relay/config"
	"github.com/room4-2/realtime-relay/logging"
	"github.com/room4-2/realtime-relay/messages"
	"github.com/room4-2/realtime-relay/metrics"
	"github.com/room4-2/realtime-relay/upstream"
)

const (
	writeBufferSize  = 256
	signalBufferSize = 16
	writeTimeout     = 10 * time.Second
	clientReadLimit  = 4 * 1024 * 1024
)

// ErrSessionClosed is returned by operations on a session that is tearing down
var ErrSessionClosed = errors.New("session closed")

// ClientConn is the accepted client socket. *websocket.Conn satisfies it.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// LinkDialer opens the direct-variant provider socket.
type LinkDialer interface {
	Dial(ctx context.Context) (upstream.Link, error)
}

// ProviderAPI is the WebRTC-variant provider HTTP surface.
type ProviderAPI interface {
	CreateSession(ctx context.Context, req upstream.SessionRequest) (*upstream.ProviderSession, error)
	SendOffer(ctx context.Context, sessionID, token, sdp string, modalities []string) (string, error)
	SendICECandidate(ctx context.Context, sessionID, token string, candidate *webrtc.ICECandidateInit) error
}

type outboundFrame struct {
	messageType int
	data        []byte
}

// ClientSession represents a single client connection and its upstream link
type ClientSession struct {
	ID         string
	ClientConn ClientConn
	CreatedAt  time.Time

	cfg     *config.Config
	dialer  LinkDialer
	api     ProviderAPI
	log     *zap.Logger
	metrics *metrics.Collector

	writeChan chan outboundFrame
	signals   chan messages.Signal

	mu             sync.Mutex
	state          State
	closed         bool
	pumpStarted    bool
	link           upstream.Link
	dialing        chan struct{}
	dialErr        error
	provider       *upstream.ProviderSession
	lastResponseID string
	lastActivity   time.Time

	// sendMu orders client->upstream sends against the readiness flush.
	sendMu    sync.Mutex
	ready     bool
	queue     *OutboundQueue
	linkStart sync.Once

	closeOnce sync.Once
	CloseChan chan struct{}
	pumpDone  chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClientSession creates a session in the Connecting state. Nothing is
// dialed until Start.
func NewClientSession(id string, clientConn ClientConn, cfg *config.Config, dialer LinkDialer, api ProviderAPI, logger *zap.Logger, collector *metrics.Collector) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())

	if ws, ok := clientConn.(*websocket.Conn); ok {
		ws.SetReadLimit(clientReadLimit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	now := time.Now()
	return &ClientSession{
		ID:           id,
		ClientConn:   clientConn,
		CreatedAt:    now,
		cfg:          cfg,
		dialer:       dialer,
		api:          api,
		log:          logger.With(zap.String("session", logging.ShortID(id))),
		metrics:      collector,
		writeChan:    make(chan outboundFrame, writeBufferSize),
		signals:      make(chan messages.Signal, signalBufferSize),
		state:        StateConnecting,
		lastActivity: now,
		queue:        NewOutboundQueue(cfg.MaxQueueSize),
		CloseChan:    make(chan struct{}),
		pumpDone:     make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the bidirectional message handling
func (cs *ClientSession) Start() {
	cs.mu.Lock()
	cs.pumpStarted = true
	cs.mu.Unlock()

	go cs.writePump()

	if cs.webRTC() {
		go cs.signalLoop()
	} else if cs.cfg.EagerConnect {
		cs.startLink()
	}

	go cs.handleClientMessages()
}

func (cs *ClientSession) webRTC() bool {
	return cs.cfg.UpstreamMode == config.ModeWebRTC
}

// State returns the current lifecycle state
func (cs *ClientSession) State() State {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

func (cs *ClientSession) setState(s State) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	// Teardown states are terminal for everything else.
	if cs.state >= StateClosing && s < StateClosing {
		return
	}
	cs.state = s
}

// LastResponseID returns the id of the last completed provider response
func (cs *ClientSession) LastResponseID() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastResponseID
}

// LastActivity returns when a frame last moved in either direction
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastActivity
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.closed
}

// writePump handles all outgoing client frames in a single goroutine and
// pings the client every KeepAlivePeriod.
func (cs *ClientSession) writePump() {
	defer cs.finishClose()

	var ping <-chan time.Time
	if period := cs.cfg.KeepAlivePeriod; period > 0 {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ping:
			if err := cs.writeFrame(outboundFrame{messageType: websocket.PingMessage}); err != nil {
				cs.log.Debug("client ping failed", zap.Error(err))
				cs.Close()
				return
			}
		case <-cs.CloseChan:
			cs.drainWrites()
			return
		case frame := <-cs.writeChan:
			if err := cs.writeFrame(frame); err != nil {
				cs.log.Debug("client write failed", zap.Error(err))
				cs.Close()
				return
			}
		}
	}
}

// drainWrites flushes frames queued before Close, such as the error event
// explaining why the session ended.
func (cs *ClientSession) drainWrites() {
	for {
		select {
		case frame := <-cs.writeChan:
			if err := cs.writeFrame(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (cs *ClientSession) writeFrame(frame outboundFrame) error {
	cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.ClientConn.WriteMessage(frame.messageType, frame.data)
}

func (cs *ClientSession) finishClose() {
	cs.ClientConn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = cs.ClientConn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	cs.ClientConn.Close()

	cs.mu.Lock()
	cs.state = StateClosed
	cs.mu.Unlock()
	close(cs.pumpDone)
}

// Done is closed once the client socket has been released.
func (cs *ClientSession) Done() <-chan struct{} {
	return cs.pumpDone
}

// queueFrame hands a frame to the write pump. Nothing is queued after Close.
func (cs *ClientSession) queueFrame(messageType int, data []byte) {
	if cs.IsClosed() {
		return
	}
	select {
	case cs.writeChan <- outboundFrame{messageType: messageType, data: data}:
	case <-cs.CloseChan:
	}
}

// queueJSON encodes a relay-synthesized event for the client.
func (cs *ClientSession) queueJSON(v any) {
	data, err := messages.Encode(v)
	if err != nil {
		cs.log.Error("failed to encode client event", zap.Error(err))
		return
	}
	cs.queueFrame(websocket.TextMessage, data)
}

func (cs *ClientSession) sendError(code, message string) {
	cs.queueJSON(messages.NewErrorEvent(cs.ID, code, message))
}

// Close terminates the session and tears down both sides. Safe to call from
// any goroutine, any number of times.
func (cs *ClientSession) Close() error {
	cs.closeOnce.Do(func() {
		cs.mu.Lock()
		cs.closed = true
		cs.state = StateClosing
		link := cs.link
		pumpStarted := cs.pumpStarted
		cs.mu.Unlock()

		cs.cancel()
		close(cs.CloseChan)

		if link != nil {
			if err := link.Close(); err != nil {
				cs.log.Debug("upstream close failed", zap.Error(err))
			}
		}
		cs.queue.Clear()

		// The write pump releases the client socket after draining.
		if !pumpStarted {
			cs.ClientConn.Close()
			cs.mu.Lock()
			cs.state = StateClosed
			cs.mu.Unlock()
			close(cs.pumpDone)
		}
	})
	return nil
}
