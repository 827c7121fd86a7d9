package relay

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SignalRelay forwards signaling envelopes between registered connections.
// Delivery is best effort and at most once; nothing is queued.
type SignalRelay struct {
	registry *Registry
	logger   logrus.FieldLogger
}

func NewSignalRelay(registry *Registry, logger logrus.FieldLogger) *SignalRelay {
	return &SignalRelay{
		registry: registry,
		logger:   logger,
	}
}

func (s *SignalRelay) Register(conn Conn, peerID string) error {
	if err := s.registry.Register(conn, peerID); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"conn": conn.ID(), "peer": peerID}).Info("Peer registered")
	return nil
}

func (s *SignalRelay) Deregister(conn Conn) {
	if peerID, ok := s.registry.Deregister(conn); ok {
		s.logger.WithFields(logrus.Fields{"conn": conn.ID(), "peer": peerID}).Info("Peer deregistered")
	}
}

// Relay delivers env to its target as {sender, payload}.
func (s *SignalRelay) Relay(conn Conn, env Envelope) error {
	sender, ok := s.registry.PeerID(conn)
	if !ok {
		return ErrUnregisteredSender
	}

	target, ok := s.registry.Lookup(env.Target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotConnected, env.Target)
	}

	s.logger.WithFields(logrus.Fields{"sender": sender, "target": env.Target}).Debug("Forwarding signal")

	return target.Send(&Message{
		Event:  EventSignal,
		Sender: sender,
		Signal: env.Payload,
	})
}

// Handle dispatches one decoded frame from conn.
func (s *SignalRelay) Handle(conn Conn, msg *Message) error {
	switch msg.Event {
	case EventRegister:
		return s.Register(conn, msg.PeerID)
	case EventSignal:
		if msg.Target == "" || !hasPayload(msg.Signal) {
			return fmt.Errorf("%w: target or signal is missing", ErrMalformedMessage)
		}
		return s.Relay(conn, Envelope{Target: msg.Target, Payload: msg.Signal})
	default:
		return fmt.Errorf("%w: unknown event %q", ErrMalformedMessage, msg.Event)
	}
}
