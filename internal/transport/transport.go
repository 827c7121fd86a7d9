// Package transport defines the capabilities a transfer session consumes:
// an ordered, reliable message channel to one remote peer and the
// signaling path used to negotiate it.
package transport

import (
	"context"
	"errors"
	"io"
)

var ErrChannelClosed = errors.New("channel closed")

// Message is one inbound channel message. Control messages travel as
// text frames, chunk data as binary frames.
type Message struct {
	Control bool
	Data    []byte
}

// Channel is an open, ordered, reliable, bidirectional message channel.
type Channel interface {
	SendControl(data []byte) error
	SendChunk(data []byte) error

	// BufferedAmount reports bytes queued locally but not yet sent.
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(threshold uint64)
	// OnBufferedAmountLow registers f to run whenever BufferedAmount drops
	// to the threshold.
	OnBufferedAmountLow(f func())

	Close() error
}

// Events are the callbacks a Link reports through. OnMessage is invoked
// from a single goroutine in arrival order.
type Events struct {
	OnOpen    func(ch Channel)
	OnMessage func(msg Message)
	OnClose   func()
	OnError   func(err error)
}

// Link negotiates one channel with a remote peer.
type Link interface {
	PeerID() string
	// Offer starts negotiation from this side.
	Offer(ctx context.Context) error
	// HandleSignal applies a payload relayed from the remote peer.
	HandleSignal(ctx context.Context, payload []byte) error
	Close() error
}

// Dialer creates links. Signals a link produces are sent through the
// Signaler the dialer was built with.
type Dialer interface {
	NewLink(peerID string, events Events) (Link, error)
}

type Signaler interface {
	SendSignal(ctx context.Context, peerID string, signal []byte) error
	RecvSignal() <-chan Signal
	io.Closer
}

type Signal struct {
	PeerID  string
	Payload []byte
}
