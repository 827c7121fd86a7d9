package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/logger"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent []*Message
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string {
	return c.id
}

func (c *fakeConn) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) messages() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Message(nil), c.sent...)
}

func newTestRelay() *SignalRelay {
	return NewSignalRelay(NewRegistry(), logger.Discard())
}

func TestRelayForwardsToTarget(t *testing.T) {
	requireT := require.New(t)
	s := newTestRelay()
	a, b := newFakeConn("a"), newFakeConn("b")

	requireT.NoError(s.Register(a, "alice"))
	requireT.NoError(s.Register(b, "bob"))

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	requireT.NoError(s.Relay(a, Envelope{Target: "bob", Payload: payload}))

	msgs := b.messages()
	requireT.Len(msgs, 1)
	requireT.Equal(EventSignal, msgs[0].Event)
	requireT.Equal("alice", msgs[0].Sender)
	requireT.JSONEq(string(payload), string(msgs[0].Signal))
	requireT.Empty(a.messages())
}

func TestRelayUnregisteredSender(t *testing.T) {
	s := newTestRelay()
	b := newFakeConn("b")
	require.NoError(t, s.Register(b, "bob"))

	err := s.Relay(newFakeConn("a"), Envelope{Target: "bob", Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrUnregisteredSender)
	require.Empty(t, b.messages())
}

func TestRelayTargetNotConnected(t *testing.T) {
	s := newTestRelay()
	a := newFakeConn("a")
	require.NoError(t, s.Register(a, "alice"))

	err := s.Relay(a, Envelope{Target: "ghost", Payload: json.RawMessage(`{}`)})
	require.True(t, errors.Is(err, ErrTargetNotConnected))
}

func TestRelayAfterOverwriteDeliversOnlyToNewOwner(t *testing.T) {
	requireT := require.New(t)
	s := newTestRelay()
	a, b, sender := newFakeConn("a"), newFakeConn("b"), newFakeConn("s")

	requireT.NoError(s.Register(a, "p1"))
	requireT.NoError(s.Register(b, "p1"))
	requireT.NoError(s.Register(sender, "s"))

	requireT.NoError(s.Relay(sender, Envelope{Target: "p1", Payload: json.RawMessage(`1`)}))

	requireT.Empty(a.messages())
	requireT.Len(b.messages(), 1)
}

func TestRelayPreservesOrderPerSender(t *testing.T) {
	requireT := require.New(t)
	s := newTestRelay()
	a, b := newFakeConn("a"), newFakeConn("b")
	requireT.NoError(s.Register(a, "alice"))
	requireT.NoError(s.Register(b, "bob"))

	for _, p := range []string{`1`, `2`, `3`} {
		requireT.NoError(s.Relay(a, Envelope{Target: "bob", Payload: json.RawMessage(p)}))
	}

	msgs := b.messages()
	requireT.Len(msgs, 3)
	for i, p := range []string{`1`, `2`, `3`} {
		requireT.Equal(p, string(msgs[i].Signal))
	}
}

func TestHandleDispatch(t *testing.T) {
	s := newTestRelay()
	a := newFakeConn("a")

	tests := []struct {
		name string
		msg  *Message
		err  error
	}{
		{"register", NewRegisterMessage("alice"), nil},
		{"empty id", NewRegisterMessage(""), ErrInvalidPeerID},
		{"missing target", &Message{Event: EventSignal, Signal: json.RawMessage(`{}`)}, ErrMalformedMessage},
		{"missing signal", &Message{Event: EventSignal, Target: "bob"}, ErrMalformedMessage},
		{"null signal", NewSignalMessage("bob", json.RawMessage(`null`)), ErrMalformedMessage},
		{"false signal", NewSignalMessage("bob", json.RawMessage(`false`)), ErrMalformedMessage},
		{"empty string signal", NewSignalMessage("bob", json.RawMessage(`""`)), ErrMalformedMessage},
		{"zero signal", NewSignalMessage("bob", json.RawMessage(`0`)), ErrMalformedMessage},
		{"negative zero signal", NewSignalMessage("bob", json.RawMessage(`-0.0`)), ErrMalformedMessage},
		{"truthy scalar signal", NewSignalMessage("bob", json.RawMessage(`"sdp"`)), ErrTargetNotConnected},
		{"unknown target", NewSignalMessage("bob", json.RawMessage(`{}`)), ErrTargetNotConnected},
		{"unknown event", &Message{Event: "setPeerId"}, ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Handle(a, tt.msg)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"event":"signal","target":"bob","signal":{"candidate":"c"}}`))
	require.NoError(t, err)
	require.Equal(t, "bob", msg.Target)
	require.JSONEq(t, `{"candidate":"c"}`, string(msg.Signal))

	_, err = DecodeMessage([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedMessage)

	_, err = DecodeMessage([]byte(`{"peerId":"x"}`))
	require.ErrorIs(t, err, ErrMalformedMessage)
}
