// Package webrtc implements the transport capabilities on pion/webrtc.
package webrtc

import (
	"fmt"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
)

const (
	dataChannelLabel = "fileTransfer"
	dataChannelID    = 0
)

// DefaultConfig builds a peer connection configuration using the given STUN servers.
func DefaultConfig(stunServers []string) webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, server := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{server}})
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

// DefaultDataChannelConfig describes the pre-negotiated channel both sides
// create, so no in-band channel announcement is needed.
func DefaultDataChannelConfig() *webrtc.DataChannelInit {
	ordered := true
	negotiated := true
	id := uint16(dataChannelID)
	return &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	}
}

type Options struct {
	STUNServers []string
	Logger      logrus.FieldLogger
}

// Transport creates WebRTC links whose signals go through a Signaler.
type Transport struct {
	config   webrtc.Configuration
	signaler transport.Signaler
	logger   logrus.FieldLogger
}

func New(signaler transport.Signaler, opts Options) *Transport {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Transport{
		config:   DefaultConfig(opts.STUNServers),
		signaler: signaler,
		logger:   logger,
	}
}

func (t *Transport) NewLink(peerID string, events transport.Events) (transport.Link, error) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	l, err := newLink(peerID, pc, t.signaler, events, t.logger.WithField("peer", peerID))
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	return l, nil
}

var _ transport.Dialer = (*Transport)(nil)
