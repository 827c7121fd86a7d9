// Package transporttest provides in-memory implementations of the transport
// capabilities for tests.
package transporttest

import (
	"sync"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
)

// Channel is one end of an in-memory pipe. Messages are delivered to the
// other end's handler in send order from a single goroutine, and the
// buffered amount drains as they are delivered.
type Channel struct {
	mu        sync.Mutex
	cond      *sync.Cond
	peer      *Channel
	queue     []transport.Message
	buffered  uint64
	threshold uint64
	onLow     func()
	handler   func(transport.Message)
	onClose   func()
	closed    bool
	paused    bool

	sent []transport.Message
}

// Pipe returns two connected channels. Each delivers to the handler set on
// the other with SetHandler.
func Pipe() (*Channel, *Channel) {
	a, b := newChannel(), newChannel()
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

func newChannel() *Channel {
	c := &Channel{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetHandler sets the function receiving messages sent by the other end.
func (c *Channel) SetHandler(f func(transport.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = f
}

// SetOnClose sets a function run once when either end closes.
func (c *Channel) SetOnClose(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = f
}

// Pause holds outbound delivery so the buffered amount only grows.
func (c *Channel) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *Channel) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.cond.Broadcast()
}

// Sent returns every message sent from this end.
func (c *Channel) Sent() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Message(nil), c.sent...)
}

func (c *Channel) SendControl(data []byte) error {
	return c.enqueue(transport.Message{Control: true, Data: append([]byte(nil), data...)})
}

func (c *Channel) SendChunk(data []byte) error {
	return c.enqueue(transport.Message{Data: append([]byte(nil), data...)})
}

func (c *Channel) enqueue(msg transport.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrChannelClosed
	}
	c.queue = append(c.queue, msg)
	c.sent = append(c.sent, msg)
	c.buffered += uint64(len(msg.Data))
	c.cond.Broadcast()
	return nil
}

func (c *Channel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *Channel) SetBufferedAmountLowThreshold(threshold uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = threshold
}

func (c *Channel) OnBufferedAmountLow(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLow = f
}

func (c *Channel) Close() error {
	c.close()
	c.peer.close()
	return nil
}

func (c *Channel) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onClose := c.onClose
	c.cond.Broadcast()
	c.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (c *Channel) pump() {
	for {
		c.mu.Lock()
		for !c.closed && (c.paused || len(c.queue) == 0) {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.peer.mu.Lock()
		handler := c.peer.handler
		c.peer.mu.Unlock()
		if handler != nil {
			handler(msg)
		}

		c.mu.Lock()
		from := c.buffered
		c.buffered -= uint64(len(msg.Data))
		var onLow func()
		if from > c.threshold && c.buffered <= c.threshold {
			onLow = c.onLow
		}
		c.mu.Unlock()

		if onLow != nil {
			onLow()
		}
	}
}

var _ transport.Channel = (*Channel)(nil)
