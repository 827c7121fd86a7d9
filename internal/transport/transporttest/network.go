package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
)

var (
	ErrUnknownPeer     = errors.New("unknown peer")
	ErrMalformedSignal = errors.New("malformed signal payload")
)

type linkKey struct {
	local, remote string
}

// Network connects in-memory signalers and links by peer id. Links
// negotiate with a one-round offer/answer exchange carried over the
// network's signalers.
type Network struct {
	mu        sync.Mutex
	signalers map[string]*Signaler
	links     map[linkKey]*Link
	halves    map[linkKey]*Channel
}

func NewNetwork() *Network {
	return &Network{
		signalers: make(map[string]*Signaler),
		links:     make(map[linkKey]*Link),
		halves:    make(map[linkKey]*Channel),
	}
}

// Signaler returns the signaler registered under peerID, creating it on
// first use.
func (n *Network) Signaler(peerID string) *Signaler {
	n.mu.Lock()
	defer n.mu.Unlock()

	if s, ok := n.signalers[peerID]; ok {
		return s
	}
	s := &Signaler{
		network: n,
		peerID:  peerID,
		recv:    make(chan transport.Signal, 64),
		done:    make(chan struct{}),
	}
	n.signalers[peerID] = s
	return s
}

// Dialer returns a dialer whose links signal through n.Signaler(peerID).
func (n *Network) Dialer(peerID string) *Dialer {
	return &Dialer{network: n, signaler: n.Signaler(peerID)}
}

type Signaler struct {
	network *Network
	peerID  string
	recv    chan transport.Signal
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func (s *Signaler) SendSignal(ctx context.Context, peerID string, signal []byte) error {
	s.network.mu.Lock()
	target, ok := s.network.signalers[peerID]
	s.network.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}

	return target.deliver(ctx, transport.Signal{PeerID: s.peerID, Payload: append([]byte(nil), signal...)})
}

func (s *Signaler) deliver(ctx context.Context, sig transport.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, s.peerID)
	}

	select {
	case s.recv <- sig:
		return nil
	case <-s.done:
		return fmt.Errorf("%w: %s", ErrUnknownPeer, s.peerID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Signaler) RecvSignal() <-chan transport.Signal {
	return s.recv
}

func (s *Signaler) Close() error {
	s.closeOnce.Do(func() {
		s.network.mu.Lock()
		delete(s.network.signalers, s.peerID)
		s.network.mu.Unlock()

		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.recv)
		s.mu.Unlock()
	})
	return nil
}

type Dialer struct {
	network  *Network
	signaler *Signaler
}

func (d *Dialer) NewLink(peerID string, events transport.Events) (transport.Link, error) {
	l := &Link{
		network:  d.network,
		signaler: d.signaler,
		key:      linkKey{local: d.signaler.peerID, remote: peerID},
		events:   events,
	}

	d.network.mu.Lock()
	d.network.links[l.key] = l
	d.network.mu.Unlock()
	return l, nil
}

type Link struct {
	network  *Network
	signaler *Signaler
	key      linkKey
	events   transport.Events

	mu sync.Mutex
	ch *Channel
}

func (l *Link) PeerID() string {
	return l.key.remote
}

// Channel returns the local end once the link is open.
func (l *Link) Channel() *Channel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch
}

func (l *Link) Offer(ctx context.Context) error {
	return l.signaler.SendSignal(ctx, l.key.remote, []byte(`{"type":"offer"}`))
}

func (l *Link) HandleSignal(ctx context.Context, payload []byte) error {
	var sig struct {
		Type      string  `json:"type"`
		Candidate *string `json:"candidate"`
	}
	if err := json.Unmarshal(payload, &sig); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}

	switch {
	case sig.Type == "offer":
		local, remote := Pipe()

		l.network.mu.Lock()
		offerer, ok := l.network.links[linkKey{local: l.key.remote, remote: l.key.local}]
		if ok {
			l.network.halves[offerer.key] = remote
		}
		l.network.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, l.key.remote)
		}

		offerer.wire(remote)
		l.wire(local)
		if err := l.signaler.SendSignal(ctx, l.key.remote, []byte(`{"type":"answer"}`)); err != nil {
			return err
		}
		l.open(local)
		return nil

	case sig.Type == "answer":
		l.network.mu.Lock()
		ch, ok := l.network.halves[l.key]
		delete(l.network.halves, l.key)
		l.network.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: answer without offer", ErrMalformedSignal)
		}
		l.open(ch)
		return nil

	case sig.Type == "" && sig.Candidate != nil:
		return nil

	default:
		return fmt.Errorf("%w: unrecognized signal type %q", ErrMalformedSignal, sig.Type)
	}
}

func (l *Link) wire(ch *Channel) {
	if l.events.OnMessage != nil {
		ch.SetHandler(l.events.OnMessage)
	}
	if l.events.OnClose != nil {
		ch.SetOnClose(l.events.OnClose)
	}
}

func (l *Link) open(ch *Channel) {
	l.mu.Lock()
	l.ch = ch
	l.mu.Unlock()

	if l.events.OnOpen != nil {
		l.events.OnOpen(ch)
	}
}

func (l *Link) Close() error {
	l.network.mu.Lock()
	if l.network.links[l.key] == l {
		delete(l.network.links, l.key)
	}
	l.network.mu.Unlock()

	if ch := l.Channel(); ch != nil {
		return ch.Close()
	}
	if l.events.OnClose != nil {
		l.events.OnClose()
	}
	return nil
}

var (
	_ transport.Signaler = (*Signaler)(nil)
	_ transport.Dialer   = (*Dialer)(nil)
	_ transport.Link     = (*Link)(nil)
)
