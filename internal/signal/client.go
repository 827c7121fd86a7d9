// Package signal connects a peer to the signaling relay.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/relay"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
)

const writeWait = 10 * time.Second

var (
	ErrClosed         = errors.New("signal client closed")
	ErrInvalidPayload = errors.New("signal payload is not valid JSON")
)

// Client is a registered relay connection. Signals addressed to this peer
// are delivered on RecvSignal in relay order.
type Client struct {
	peerID string
	ws     *websocket.Conn
	logger logrus.FieldLogger

	writeMu   sync.Mutex
	recv      chan transport.Signal
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay at url and registers peerID.
func Dial(ctx context.Context, url, peerID string, logger logrus.FieldLogger) (*Client, error) {
	if peerID == "" {
		return nil, relay.ErrInvalidPeerID
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", url, err)
	}

	c := &Client{
		peerID: peerID,
		ws:     ws,
		logger: logger.WithField("relay", url),
		recv:   make(chan transport.Signal, 64),
		done:   make(chan struct{}),
	}

	if err := c.write(ctx, relay.NewRegisterMessage(peerID)); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to register: %w", err)
	}
	c.logger.WithField("peer", peerID).Info("Registered with relay")

	go c.readLoop()
	return c, nil
}

func (c *Client) PeerID() string {
	return c.peerID
}

func (c *Client) SendSignal(ctx context.Context, peerID string, signal []byte) error {
	if !json.Valid(signal) {
		return ErrInvalidPayload
	}
	return c.write(ctx, relay.NewSignalMessage(peerID, json.RawMessage(signal)))
}

// RecvSignal is closed when the relay connection ends.
func (c *Client) RecvSignal() <-chan transport.Signal {
	return c.recv
}

// Done is closed when the relay connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

func (c *Client) write(ctx context.Context, msg *relay.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

func (c *Client) readLoop() {
	defer close(c.recv)
	defer func() { _ = c.Close() }()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.WithError(err).Warn("Relay connection lost")
			}
			return
		}

		msg, err := relay.DecodeMessage(data)
		if err != nil {
			c.logger.WithError(err).Warn("Dropping relay frame")
			continue
		}
		if msg.Event != relay.EventSignal || msg.Sender == "" || len(msg.Signal) == 0 {
			c.logger.WithField("event", msg.Event).Debug("Ignoring relay message")
			continue
		}

		select {
		case c.recv <- transport.Signal{PeerID: msg.Sender, Payload: msg.Signal}:
		case <-c.done:
			return
		}
	}
}

var _ transport.Signaler = (*Client)(nil)
