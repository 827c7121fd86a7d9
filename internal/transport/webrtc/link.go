package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
)

var ErrMalformedSignal = errors.New("malformed signal payload")

// signalPayload covers the two browser shapes: RTCSessionDescription and
// RTCIceCandidate.
type signalPayload struct {
	Type             string  `json:"type,omitempty"`
	SDP              string  `json:"sdp,omitempty"`
	Candidate        *string `json:"candidate,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type link struct {
	peerID   string
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	signaler transport.Signaler
	events   transport.Events
	logger   logrus.FieldLogger

	mu                sync.Mutex
	pendingCandidates []webrtc.ICECandidateInit
	closeOnce         sync.Once
}

func newLink(peerID string, pc *webrtc.PeerConnection, signaler transport.Signaler, events transport.Events, logger logrus.FieldLogger) (*link, error) {
	l := &link{
		peerID:   peerID,
		pc:       pc,
		signaler: signaler,
		events:   events,
		logger:   logger,
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel, DefaultDataChannelConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	l.dc = dc

	pc.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil {
			l.logger.Debug("All ICE candidates sent")
			return
		}
		data, err := json.Marshal(ice.ToJSON())
		if err != nil {
			l.logger.WithError(err).Warn("Failed to marshal ICE candidate")
			return
		}
		if err := l.signaler.SendSignal(context.Background(), l.peerID, data); err != nil {
			l.logger.WithError(err).Warn("Failed to send ICE candidate")
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.logger.WithField("state", s.String()).Debug("Peer connection state changed")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			if l.events.OnError != nil {
				l.events.OnError(fmt.Errorf("peer connection %s", s))
			}
			l.fireClose()
		case webrtc.PeerConnectionStateClosed:
			l.fireClose()
		}
	})

	dc.OnOpen(func() {
		l.logger.WithFields(logrus.Fields{"label": dc.Label(), "id": dataChannelID}).Info("Data channel open")
		if l.events.OnOpen != nil {
			l.events.OnOpen(&channel{dc: dc})
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if l.events.OnMessage != nil {
			l.events.OnMessage(transport.Message{Control: msg.IsString, Data: msg.Data})
		}
	})

	dc.OnError(func(err error) {
		l.logger.WithError(err).Warn("Data channel error")
	})

	dc.OnClose(func() {
		l.logger.Info("Data channel closed")
		l.fireClose()
	})

	return l, nil
}

func (l *link) PeerID() string {
	return l.peerID
}

func (l *link) Offer(ctx context.Context) error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return l.sendDescription(ctx, offer)
}

func (l *link) HandleSignal(ctx context.Context, payload []byte) error {
	var sig signalPayload
	if err := json.Unmarshal(payload, &sig); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}

	switch {
	case sig.Type == webrtc.SDPTypeOffer.String():
		if err := l.setRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}); err != nil {
			return err
		}
		answer, err := l.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
		if err := l.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("failed to set local description: %w", err)
		}
		return l.sendDescription(ctx, answer)

	case sig.Type == webrtc.SDPTypeAnswer.String():
		return l.setRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP})

	case sig.Type == "" && sig.Candidate != nil:
		return l.addCandidate(webrtc.ICECandidateInit{
			Candidate:        *sig.Candidate,
			SDPMid:           sig.SDPMid,
			SDPMLineIndex:    sig.SDPMLineIndex,
			UsernameFragment: sig.UsernameFragment,
		})

	default:
		return fmt.Errorf("%w: unrecognized signal type %q", ErrMalformedSignal, sig.Type)
	}
}

func (l *link) Close() error {
	_ = l.dc.Close()
	err := l.pc.Close()
	l.fireClose()
	return err
}

func (l *link) sendDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	if err := l.signaler.SendSignal(ctx, l.peerID, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", desc.Type, err)
	}
	return nil
}

func (l *link) setRemoteDescription(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	for _, c := range l.pendingCandidates {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.logger.WithError(err).Warn("Failed to add queued ICE candidate")
		}
	}
	l.pendingCandidates = nil
	return nil
}

// addCandidate queues candidates that arrive before the remote description.
func (l *link) addCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pc.RemoteDescription() == nil {
		l.pendingCandidates = append(l.pendingCandidates, c)
		return nil
	}
	if err := l.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (l *link) fireClose() {
	l.closeOnce.Do(func() {
		if l.events.OnClose != nil {
			l.events.OnClose()
		}
	})
}

type channel struct {
	dc *webrtc.DataChannel
}

func (c *channel) SendControl(data []byte) error {
	return c.dc.SendText(string(data))
}

func (c *channel) SendChunk(data []byte) error {
	return c.dc.Send(data)
}

func (c *channel) BufferedAmount() uint64 {
	return c.dc.BufferedAmount()
}

func (c *channel) SetBufferedAmountLowThreshold(threshold uint64) {
	c.dc.SetBufferedAmountLowThreshold(threshold)
}

func (c *channel) OnBufferedAmountLow(f func()) {
	c.dc.OnBufferedAmountLow(f)
}

func (c *channel) Close() error {
	return c.dc.Close()
}
