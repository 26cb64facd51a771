package session

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/room4-2/realtime-relay/messages"
	"github.com/room4-2/realtime-relay/upstream"
)

// ErrNoProviderSession is returned for ICE candidates that arrive before an
// offer has created the provider session.
var ErrNoProviderSession = errors.New("no provider session: send an offer first")

// queueSignal hands a signal to the session's signaling worker, keeping the
// client's order.
func (cs *ClientSession) queueSignal(sig messages.Signal) {
	select {
	case cs.signals <- sig:
	case <-cs.CloseChan:
	}
}

// signalLoop processes signals one at a time so an ICE candidate is never
// posted before the offer that preceded it.
func (cs *ClientSession) signalLoop() {
	for {
		select {
		case <-cs.CloseChan:
			return
		case sig := <-cs.signals:
			cs.handleSignal(cs.ctx, sig)
		}
	}
}

func (cs *ClientSession) handleSignal(ctx context.Context, sig messages.Signal) {
	switch sig.Type {
	case messages.SignalOffer:
		answer, err := cs.handleOffer(ctx, sig.Offer)
		if cs.IsClosed() {
			return
		}
		if err != nil {
			cs.log.Error("offer failed", zap.Error(err))
			code := messages.ErrCodeSignalingFailed
			var setupErr *sessionSetupError
			if errors.As(err, &setupErr) {
				code = messages.ErrCodeSessionFailed
			}
			cs.sendError(code, err.Error())
			return
		}
		cs.queueJSON(messages.NewAnswerSignal(answer))

	case messages.SignalICE:
		err := cs.handleICE(ctx, sig.Candidate)
		if cs.IsClosed() {
			return
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrNoProviderSession):
			cs.sendError(messages.ErrCodeSignalingFailed, err.Error())
		default:
			// Other candidates may still connect the peer.
			cs.log.Warn("ice candidate rejected", zap.Error(err))
		}
	}
}

type sessionSetupError struct {
	err error
}

func (e *sessionSetupError) Error() string {
	return "OpenAI session creation failed: " + e.err.Error()
}

func (e *sessionSetupError) Unwrap() error {
	return e.err
}

// ensureProviderSession creates the provider realtime session once and
// returns it on every later call.
func (cs *ClientSession) ensureProviderSession(ctx context.Context) (*upstream.ProviderSession, error) {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if cs.provider != nil {
		ps := cs.provider
		cs.mu.Unlock()
		return ps, nil
	}
	cs.mu.Unlock()

	cs.setState(StateLinkPending)

	ps, err := cs.api.CreateSession(ctx, upstream.SessionRequest{
		Model:         cs.cfg.Model,
		Modalities:    cs.cfg.Modalities,
		Voice:         cs.cfg.Voice,
		Instructions:  cs.cfg.DefaultInstructions,
		TurnDetection: upstream.DefaultTurnDetection(),
	})
	if err != nil {
		return nil, &sessionSetupError{err: err}
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return nil, ErrSessionClosed
	}
	cs.provider = ps
	cs.log.Info("provider session created", zap.String("provider_session", ps.ID))
	return ps, nil
}

// handleOffer exchanges the client's SDP offer for the provider's answer.
func (cs *ClientSession) handleOffer(ctx context.Context, offer *webrtc.SessionDescription) (string, error) {
	ps, err := cs.ensureProviderSession(ctx)
	if err != nil {
		return "", err
	}

	answer, err := cs.api.SendOffer(ctx, ps.ID, ps.Token, offer.SDP, cs.cfg.Modalities)
	if err != nil {
		return "", errors.New("OpenAI SDP exchange failed: " + err.Error())
	}

	cs.setState(StateReady)
	return answer, nil
}

// handleICE forwards one client candidate to the provider session.
func (cs *ClientSession) handleICE(ctx context.Context, candidate *webrtc.ICECandidateInit) error {
	cs.mu.Lock()
	ps := cs.provider
	cs.mu.Unlock()

	if ps == nil || ps.ID == "" || ps.Token == "" {
		return ErrNoProviderSession
	}
	return cs.api.SendICECandidate(ctx, ps.ID, ps.Token, candidate)
}
