package session

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/realtime-relay/audio"
	"github.com/room4-2/realtime-relay/messages"
	"github.com/room4-2/realtime-relay/upstream"
)

// startLink moves the session to LinkPending and dials in the background.
// Only the first call dials; later calls are no-ops.
func (cs *ClientSession) startLink() {
	cs.linkStart.Do(func() {
		cs.setState(StateLinkPending)
		go cs.runLink()
	})
}

// ensureLink returns the open upstream link, dialing it if needed. Concurrent
// callers share one dial, and a session never holds more than one link.
func (cs *ClientSession) ensureLink() (upstream.Link, error) {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if cs.link != nil {
		link := cs.link
		cs.mu.Unlock()
		return link, nil
	}
	if wait := cs.dialing; wait != nil {
		cs.mu.Unlock()
		<-wait
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if cs.link == nil {
			if cs.dialErr != nil {
				return nil, cs.dialErr
			}
			return nil, ErrSessionClosed
		}
		return cs.link, nil
	}

	done := make(chan struct{})
	cs.dialing = done
	cs.mu.Unlock()

	link, err := cs.dialer.Dial(cs.ctx)

	cs.mu.Lock()
	defer func() {
		cs.dialing = nil
		close(done)
		cs.mu.Unlock()
	}()

	if err != nil {
		cs.dialErr = err
		return nil, err
	}
	if cs.closed {
		link.Close()
		return nil, ErrSessionClosed
	}
	cs.link = link
	cs.dialErr = nil
	return link, nil
}

func (cs *ClientSession) runLink() {
	link, err := cs.ensureLink()
	if err != nil {
		if errors.Is(err, ErrSessionClosed) || cs.IsClosed() {
			return
		}
		cs.log.Error("upstream connect failed", zap.Error(err))
		cs.sendError(messages.ErrCodeUpstreamError, "upstream connection failed: "+err.Error())
		cs.Close()
		return
	}

	if err := cs.markReady(link); err != nil {
		cs.failUpstream(err)
		return
	}
	cs.log.Info("upstream link ready")

	cs.readUpstream(link)
}

// markReady flushes the queue in FIFO order and then opens direct sends.
// Both happen under sendMu, so nothing sent afterwards can overtake a
// queued message.
func (cs *ClientSession) markReady(link upstream.Link) error {
	cs.sendMu.Lock()
	defer cs.sendMu.Unlock()

	for _, msg := range cs.queue.Drain() {
		if err := link.WriteMessage(msg.MessageType, msg.Data); err != nil {
			return err
		}
	}
	cs.ready = true
	cs.setState(StateReady)
	return nil
}

// enqueueOrSend writes payloads to the upstream link if it is ready, and
// queues them otherwise. Payloads from one call stay adjacent.
func (cs *ClientSession) enqueueOrSend(messageType int, payloads ...[]byte) error {
	if cs.IsClosed() {
		return ErrSessionClosed
	}

	cs.sendMu.Lock()
	if cs.ready {
		defer cs.sendMu.Unlock()
		cs.mu.Lock()
		link := cs.link
		cs.mu.Unlock()
		if link == nil {
			return ErrSessionClosed
		}
		for _, p := range payloads {
			if err := link.WriteMessage(messageType, p); err != nil {
				return fmt.Errorf("upstream write: %w", err)
			}
		}
		return nil
	}

	total := 0
	for _, p := range payloads {
		total += len(p)
	}
	if limit := cs.queue.MaxSize(); limit > 0 && cs.queue.Size()+total > limit {
		cs.sendMu.Unlock()
		return ErrQueueFull
	}
	for _, p := range payloads {
		if err := cs.queue.Append(messageType, p); err != nil {
			cs.sendMu.Unlock()
			return err
		}
	}
	cs.sendMu.Unlock()

	cs.startLink()
	return nil
}

func (cs *ClientSession) failUpstream(err error) {
	if cs.IsClosed() {
		return
	}
	cs.log.Warn("upstream link failed", zap.Error(err))
	cs.sendError(messages.ErrCodeConnectionClosed, "upstream connection closed: "+err.Error())
	cs.Close()
}

// readUpstream relays provider frames to the client until either side
// closes. There is no reconnect.
func (cs *ClientSession) readUpstream(link upstream.Link) {
	for {
		messageType, data, err := link.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = errors.New("closed by provider")
			}
			cs.failUpstream(err)
			return
		}
		if cs.IsClosed() {
			return
		}
		cs.touch()
		cs.handleUpstreamFrame(messages.Classify(messages.FromUpstream, messageType, data))
	}
}

func (cs *ClientSession) handleUpstreamFrame(f messages.Frame) {
	dir := f.Dir.String()
	cs.metrics.FrameClassified(dir, f.Kind.String())

	switch f.Kind {
	case messages.KindKeepalive:
		cs.metrics.FrameDropped(dir, "keepalive")

	case messages.KindUnparseable:
		cs.metrics.FrameDropped(dir, "unparseable")
		cs.log.Warn("dropping unparseable upstream frame", zap.Error(f.Err), zap.Int("bytes", len(f.Raw)))

	case messages.KindAudio:
		cs.queueFrame(websocket.BinaryMessage, f.Raw)

	case messages.KindControl:
		if f.Type == messages.EventResponseDone {
			if id := messages.ResponseID(f); id != "" {
				cs.mu.Lock()
				cs.lastResponseID = id
				cs.mu.Unlock()
			}
		}

		cs.queueFrame(websocket.TextMessage, f.Raw)

		switch f.Type {
		case messages.EventSessionCreated:
			cs.log.Info("provider session created")
		case messages.EventResponseAudioDelta:
			pcm, err := messages.AudioDelta(f)
			if err != nil {
				cs.log.Warn("bad audio delta", zap.Error(err))
				break
			}
			if len(pcm) > 0 {
				cs.queueFrame(websocket.BinaryMessage, pcm)
			}
		}

		if providerErr, ok := messages.ProviderError(f); ok {
			cs.log.Warn("provider reported error", zap.String("event", f.Type), zap.ByteString("error", providerErr))
			cs.queueJSON(messages.NewUpstreamErrorEvent(f.Type, providerErr))
		}
	}
}

// handleClientMessages reads client frames one at a time so per-direction
// order is preserved.
func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		messageType, data, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cs.log.Warn("client read error", zap.Error(err))
			} else {
				cs.log.Debug("client disconnected")
			}
			return
		}
		if cs.IsClosed() {
			return
		}
		cs.touch()
		cs.handleClientFrame(messages.Classify(messages.FromClient, messageType, data))
	}
}

func (cs *ClientSession) handleClientFrame(f messages.Frame) {
	dir := f.Dir.String()
	cs.metrics.FrameClassified(dir, f.Kind.String())

	switch f.Kind {
	case messages.KindKeepalive:
		cs.metrics.FrameDropped(dir, "keepalive")

	case messages.KindUnparseable:
		cs.metrics.FrameDropped(dir, "unparseable")
		cs.log.Warn("dropping unparseable client frame", zap.Error(f.Err))
		cs.sendError(messages.ErrCodeInvalidMessage, "invalid message format")

	case messages.KindAudio:
		if cs.webRTC() {
			cs.sendError(messages.ErrCodeInvalidMessage, "audio frames are carried by the WebRTC peer connection")
			return
		}
		encoded := base64.StdEncoding.EncodeToString(audio.PCM(f.Raw))
		cs.sendAudioTurn(encoded, "")

	case messages.KindControl:
		cs.handleClientControl(f)
	}
}

func (cs *ClientSession) handleClientControl(f messages.Frame) {
	if f.Type == messages.TypeWebRTCSignal {
		if !cs.webRTC() {
			cs.sendError(messages.ErrCodeInvalidMessage, "signaling requires webrtc upstream mode")
			return
		}
		sig, err := messages.DecodeSignal(f)
		if err != nil {
			cs.log.Warn("bad signaling message", zap.Error(err))
			cs.sendError(messages.ErrCodeInvalidMessage, err.Error())
			return
		}
		cs.queueSignal(sig)
		return
	}

	if cs.webRTC() {
		cs.sendError(messages.ErrCodeInvalidMessage, "only webrtc-signal messages are accepted in webrtc mode")
		return
	}

	if messages.IsSimplifiedAudio(f) {
		msg, err := messages.DecodeSimplifiedAudio(f)
		if err != nil || msg.Audio == "" {
			cs.sendError(messages.ErrCodeInvalidMessage, "audio must be a base64 string")
			return
		}
		cs.sendAudioTurn(msg.Audio, msg.SystemPrompt)
		return
	}

	if f.Type == "" {
		cs.sendError(messages.ErrCodeInvalidMessage, "message has neither type nor audio")
		return
	}

	cs.forward(websocket.TextMessage, f.Raw)
}

// sendAudioTurn synthesizes conversation.item.create + response.create for
// one user utterance.
func (cs *ClientSession) sendAudioTurn(audioBase64, instructions string) {
	if instructions == "" {
		instructions = cs.cfg.DefaultInstructions
	}
	turn := messages.AudioTurn{
		AudioBase64:        audioBase64,
		Instructions:       instructions,
		PreviousResponseID: cs.LastResponseID(),
		Modalities:         cs.cfg.Modalities,
	}
	payloads, err := turn.Encode()
	if err != nil {
		cs.log.Error("failed to encode audio turn", zap.Error(err))
		cs.sendError(messages.ErrCodeInvalidMessage, err.Error())
		return
	}
	cs.forward(websocket.TextMessage, payloads...)
}

func (cs *ClientSession) forward(messageType int, payloads ...[]byte) {
	err := cs.enqueueOrSend(messageType, payloads...)
	switch {
	case err == nil:
	case errors.Is(err, ErrQueueFull):
		cs.metrics.FrameDropped(messages.FromClient.String(), "queue_full")
		cs.log.Warn("outbound queue full, dropping message", zap.Int("queued", cs.queue.Size()))
		cs.sendError(messages.ErrCodeBufferFull, "too many messages waiting for the upstream connection")
	case errors.Is(err, ErrSessionClosed):
	default:
		cs.failUpstream(err)
	}
}
