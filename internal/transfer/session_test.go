package transfer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/logger"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport/transporttest"
)

type peerSide struct {
	session   *Session
	mu        sync.Mutex
	artifacts []*Artifact
	errs      []error
}

func (p *peerSide) received() []*Artifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Artifact(nil), p.artifacts...)
}

func (p *peerSide) failures() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errs...)
}

func newPeerSide(t *testing.T, n *transporttest.Network, local, remote string) *peerSide {
	t.Helper()

	p := &peerSide{session: NewSession(remote, n.Dialer(local), logger.Discard())}
	p.session.OnArtifact(func(a *Artifact) {
		p.mu.Lock()
		p.artifacts = append(p.artifacts, a)
		p.mu.Unlock()
	})
	p.session.OnError(func(err error) {
		p.mu.Lock()
		p.errs = append(p.errs, err)
		p.mu.Unlock()
	})

	signals := n.Signaler(local)
	go func() {
		for sig := range signals.RecvSignal() {
			_ = p.session.HandleSignal(context.Background(), sig)
		}
	}()
	t.Cleanup(func() {
		_ = p.session.Close()
		_ = signals.Close()
	})
	return p
}

func waitOpen(t *testing.T, sessions ...*Session) {
	t.Helper()
	for _, s := range sessions {
		select {
		case <-s.Opened():
		case <-time.After(2 * time.Second):
			t.Fatalf("session to %s never opened (state %s)", s.PeerID(), s.State())
		}
	}
}

func connectedPair(t *testing.T) (*peerSide, *peerSide) {
	t.Helper()
	n := transporttest.NewNetwork()
	alice := newPeerSide(t, n, "alice", "bob")
	bob := newPeerSide(t, n, "bob", "alice")

	require.NoError(t, alice.session.Connect(context.Background()))
	waitOpen(t, alice.session, bob.session)
	return alice, bob
}

func TestSessionTransfersFile(t *testing.T) {
	requireT := require.New(t)
	alice, bob := connectedPair(t)
	requireT.Equal(StateOpen, alice.session.State())
	requireT.Equal(StateOpen, bob.session.State())

	data := bytes.Repeat([]byte("0123456789"), 4000)
	requireT.NoError(alice.session.Send(context.Background(), File{
		Name:     "digits.txt",
		MimeType: "text/plain",
		Size:     int64(len(data)),
		Reader:   bytes.NewReader(data),
	}, nil))
	requireT.Equal(StateOpen, alice.session.State())

	requireT.Eventually(func() bool { return len(bob.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	artifact := bob.received()[0]
	requireT.Equal(data, artifact.Data)
	requireT.Equal("digits.txt", artifact.Name)
	requireT.Equal("text/plain", artifact.MimeType)

	requireT.Eventually(func() bool { return bob.session.State() == StateOpen }, time.Second, 5*time.Millisecond)
}

func TestSessionSequentialTransfersBothDirections(t *testing.T) {
	alice, bob := connectedPair(t)
	ctx := context.Background()

	for i, payload := range []string{"first", "second"} {
		require.NoError(t, alice.session.Send(ctx, File{Name: payload, Size: int64(len(payload)), Reader: bytes.NewBufferString(payload)}, nil))
		require.Eventually(t, func() bool { return len(bob.received()) == i+1 }, 2*time.Second, 5*time.Millisecond)
	}
	require.Eventually(t, func() bool { return bob.session.State() == StateOpen }, time.Second, 5*time.Millisecond)

	require.NoError(t, bob.session.Send(ctx, File{Name: "reply", Size: 5, Reader: bytes.NewBufferString("hello")}, nil))
	require.Eventually(t, func() bool { return len(alice.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "hello", string(alice.received()[0].Data))
}

func TestSessionSendBeforeOpen(t *testing.T) {
	n := transporttest.NewNetwork()
	s := NewSession("bob", n.Dialer("alice"), logger.Discard())

	err := s.Send(context.Background(), File{Name: "f", Size: 1, Reader: bytes.NewBufferString("x")}, nil)
	require.ErrorIs(t, err, ErrChannelNotOpen)
	require.Equal(t, StateIdle, s.State())
}

func TestSessionRejectsConcurrentSend(t *testing.T) {
	alice, _ := connectedPair(t)
	ch := alice.session.link.(*transporttest.Link).Channel()
	ch.Pause()

	size := 2 * LowWaterMark
	errc := make(chan error, 1)
	go func() {
		errc <- alice.session.Send(context.Background(), File{Name: "big", Size: int64(size), Reader: bytes.NewReader(make([]byte, size))}, nil)
	}()

	require.Eventually(t, func() bool { return alice.session.State() == StateTransferring }, time.Second, 5*time.Millisecond)
	err := alice.session.Send(context.Background(), File{Name: "small", Size: 1, Reader: bytes.NewBufferString("x")}, nil)
	require.ErrorIs(t, err, ErrTransferInProgress)

	ch.Resume()
	require.NoError(t, <-errc)
}

func TestSessionAdmitsOneOfRacingSends(t *testing.T) {
	alice, bob := connectedPair(t)
	ch := alice.session.link.(*transporttest.Link).Channel()
	ch.Pause()

	const senders = 16
	size := 2 * LowWaterMark
	start := make(chan struct{})
	errc := make(chan error, senders)
	for i := 0; i < senders; i++ {
		go func() {
			<-start
			errc <- alice.session.Send(context.Background(), File{Name: "race", Size: int64(size), Reader: bytes.NewReader(make([]byte, size))}, nil)
		}()
	}
	close(start)

	for i := 0; i < senders-1; i++ {
		select {
		case err := <-errc:
			require.ErrorIs(t, err, ErrTransferInProgress)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d sends were rejected", i)
		}
	}

	ch.Resume()
	require.NoError(t, <-errc)
	require.Eventually(t, func() bool { return len(bob.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, bob.received()[0].Data, size)
	require.Equal(t, StateOpen, alice.session.State())
}

func TestSessionReadFailureKeepsChannelUsable(t *testing.T) {
	alice, bob := connectedPair(t)
	ctx := context.Background()

	err := alice.session.Send(ctx, File{Name: "broken", Size: 2 * ChunkSize, Reader: &failingReader{after: ChunkSize + 10}}, nil)
	require.ErrorIs(t, err, ErrReadFailure)
	require.Equal(t, StateOpen, alice.session.State())
	require.Empty(t, bob.received())

	require.NoError(t, alice.session.Send(ctx, File{Name: "after", Size: 5, Reader: bytes.NewBufferString("after")}, nil))
	require.Eventually(t, func() bool { return len(bob.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "after", bob.received()[0].Name)
	require.Equal(t, []byte("after"), bob.received()[0].Data)
}

func TestSessionCloseDuringSend(t *testing.T) {
	alice, bob := connectedPair(t)
	ch := alice.session.link.(*transporttest.Link).Channel()
	ch.Pause()

	size := 2 * LowWaterMark
	errc := make(chan error, 1)
	go func() {
		errc <- alice.session.Send(context.Background(), File{Name: "big", Size: int64(size), Reader: bytes.NewReader(make([]byte, size))}, nil)
	}()
	require.Eventually(t, func() bool { return ch.BufferedAmount() > LowWaterMark }, time.Second, 5*time.Millisecond)

	require.NoError(t, alice.session.Close())
	select {
	case err := <-errc:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not abort on close")
	}

	<-alice.session.Done()
	require.Equal(t, StateClosed, alice.session.State())
	require.Eventually(t, func() bool { return bob.session.State() == StateClosed }, time.Second, 5*time.Millisecond)
	require.Empty(t, bob.received())
}

func TestSessionMalformedSignalFails(t *testing.T) {
	n := transporttest.NewNetwork()
	s := NewSession("bob", n.Dialer("alice"), logger.Discard())

	var reported error
	s.OnError(func(err error) { reported = err })

	err := s.HandleSignal(context.Background(), transport.Signal{PeerID: "bob", Payload: []byte(`{"type":"nonsense"}`)})
	require.ErrorIs(t, err, ErrNegotiation)
	require.ErrorIs(t, reported, ErrNegotiation)
	require.Equal(t, StateFailed, s.State())
	require.ErrorIs(t, s.Err(), ErrNegotiation)

	select {
	case <-s.Done():
	default:
		t.Fatal("failed session not done")
	}

	err = s.HandleSignal(context.Background(), transport.Signal{PeerID: "bob", Payload: []byte(`{"type":"offer"}`)})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSessionUnexpectedPeer(t *testing.T) {
	s := NewSession("bob", transporttest.NewNetwork().Dialer("alice"), logger.Discard())
	err := s.HandleSignal(context.Background(), transport.Signal{PeerID: "mallory", Payload: []byte(`{}`)})
	require.ErrorIs(t, err, ErrUnexpectedPeer)
	require.Equal(t, StateIdle, s.State())
}

func TestSessionReceiveErrorsDoNotCloseChannel(t *testing.T) {
	alice, bob := connectedPair(t)
	ch := alice.session.link.(*transporttest.Link).Channel()

	require.NoError(t, ch.SendChunk([]byte("stray")))
	require.NoError(t, ch.SendControl([]byte(`{"type":"bogus"}`)))
	require.Eventually(t, func() bool { return len(bob.failures()) == 2 }, time.Second, 5*time.Millisecond)

	errs := bob.failures()
	require.True(t, errors.Is(errs[0], ErrProtocolViolation))
	require.True(t, errors.Is(errs[1], ErrParseFailure))
	require.Empty(t, bob.received())
	require.Equal(t, StateOpen, bob.session.State())

	require.NoError(t, alice.session.Send(context.Background(), File{Name: "ok", Size: 2, Reader: bytes.NewBufferString("ok")}, nil))
	require.Eventually(t, func() bool { return len(bob.received()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSessionStateObserver(t *testing.T) {
	n := transporttest.NewNetwork()
	var mu sync.Mutex
	var seen []State

	alice := NewSession("bob", n.Dialer("alice"), logger.Discard())
	alice.OnStateChange(func(_, to State) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})
	bob := newPeerSide(t, n, "bob", "alice")
	signals := n.Signaler("alice")
	go func() {
		for sig := range signals.RecvSignal() {
			_ = alice.HandleSignal(context.Background(), sig)
		}
	}()
	defer func() { _ = signals.Close() }()

	require.NoError(t, alice.Connect(context.Background()))
	waitOpen(t, alice, bob.session)
	require.NoError(t, alice.Send(context.Background(), File{Name: "x", Size: 1, Reader: bytes.NewBufferString("x")}, nil))
	require.NoError(t, alice.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{StateNegotiating, StateOpen, StateTransferring, StateOpen, StateClosed}, seen)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateNegotiating, true},
		{StateIdle, StateOpen, false},
		{StateIdle, StateTransferring, false},
		{StateNegotiating, StateOpen, true},
		{StateOpen, StateTransferring, true},
		{StateTransferring, StateOpen, true},
		{StateOpen, StateNegotiating, false},
		{StateTransferring, StateClosed, true},
		{StateNegotiating, StateFailed, true},
		{StateClosed, StateOpen, false},
		{StateFailed, StateClosed, false},
		{StateClosed, StateFailed, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
