package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
)

type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateOpen
	StateTransferring
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateOpen:
		return "open"
	case StateTransferring:
		return "transferring"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:         {StateNegotiating},
	StateNegotiating:  {StateOpen},
	StateOpen:         {StateTransferring},
	StateTransferring: {StateOpen},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session drives one channel to one remote peer: negotiation through a
// transport.Link, then any number of sequential transfers in either
// direction.
type Session struct {
	peerID string
	dialer transport.Dialer
	logger logrus.FieldLogger

	mu        sync.Mutex
	state     State
	err       error
	link      transport.Link
	sender    *Sender
	sending   bool
	assembler *Assembler

	opened     chan struct{}
	openedOnce sync.Once
	done       chan struct{}
	closeCtx   context.Context
	cancel     context.CancelFunc

	onArtifact    func(*Artifact)
	onProgress    func(received, total int)
	onError       func(error)
	onStateChange func(from, to State)
}

func NewSession(peerID string, dialer transport.Dialer, logger logrus.FieldLogger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("peer", peerID)

	closeCtx, cancel := context.WithCancel(context.Background())
	return &Session{
		closeCtx:  closeCtx,
		cancel:    cancel,
		peerID:    peerID,
		dialer:    dialer,
		logger:    logger,
		state:     StateIdle,
		assembler: NewAssembler(logger),
		opened:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Session) PeerID() string {
	return s.peerID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the cause of a Failed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Opened is closed the first time the channel opens.
func (s *Session) Opened() <-chan struct{} {
	return s.opened
}

// Done is closed once the session is Closed or Failed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// OnArtifact sets the observer for completed inbound transfers. Observers
// must be set before Connect or HandleSignal.
func (s *Session) OnArtifact(f func(*Artifact)) {
	s.onArtifact = f
}

// OnProgress sets the observer called after every received chunk.
func (s *Session) OnProgress(f func(received, total int)) {
	s.onProgress = f
}

// OnError sets the observer for receive-side and negotiation failures.
func (s *Session) OnError(f func(error)) {
	s.onError = f
}

func (s *Session) OnStateChange(f func(from, to State)) {
	s.onStateChange = f
}

// Connect starts negotiation from this side.
func (s *Session) Connect(ctx context.Context) error {
	link, err := s.begin()
	if err != nil {
		return err
	}
	if err := link.Offer(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrNegotiation, err)
		s.fail(err)
		return err
	}
	return nil
}

// HandleSignal applies a signal relayed from the remote peer, creating the
// link on first use.
func (s *Session) HandleSignal(ctx context.Context, sig transport.Signal) error {
	if sig.PeerID != s.peerID {
		return fmt.Errorf("%w: %q", ErrUnexpectedPeer, sig.PeerID)
	}

	s.mu.Lock()
	link := s.link
	state := s.state
	s.mu.Unlock()

	if state.Terminal() {
		return fmt.Errorf("%w: signal in state %s", ErrInvalidTransition, state)
	}
	if link == nil {
		var err error
		if link, err = s.begin(); err != nil {
			return err
		}
	}

	if err := link.HandleSignal(ctx, sig.Payload); err != nil {
		err = fmt.Errorf("%w: %w", ErrNegotiation, err)
		s.fail(err)
		return err
	}
	return nil
}

func (s *Session) begin() (transport.Link, error) {
	s.mu.Lock()
	if s.state != StateIdle || s.link != nil {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: connect in state %s", ErrInvalidTransition, state)
	}
	link, err := s.dialer.NewLink(s.peerID, transport.Events{
		OnOpen:    s.handleOpen,
		OnMessage: s.handleMessage,
		OnClose:   s.handleClose,
		OnError:   s.handleLinkError,
	})
	if err == nil {
		s.link = link
	}
	s.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrNegotiation, err)
		s.fail(err)
		return nil, err
	}

	if err := s.transition(StateNegotiating); err != nil {
		_ = link.Close()
		return nil, err
	}
	return link, nil
}

// Send transfers f to the remote peer and returns once every chunk has been
// accepted by the channel.
func (s *Session) Send(ctx context.Context, f File, progress ProgressFunc) error {
	s.mu.Lock()
	switch {
	case s.sending || s.state == StateTransferring:
		s.mu.Unlock()
		return ErrTransferInProgress
	case s.state != StateOpen || s.sender == nil:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrChannelNotOpen, state)
	}
	sender := s.sender
	s.sending = true
	s.state = StateTransferring
	s.mu.Unlock()
	s.notifyState(StateOpen, StateTransferring)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.closeCtx, cancel)
	defer stop()

	_, err := sender.Send(ctx, f, progress)

	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
	s.settle()

	if err != nil && s.State().Terminal() {
		return errors.Join(err, transport.ErrChannelClosed)
	}
	return err
}

// Drain waits until everything sent has left the local buffer.
func (s *Session) Drain(ctx context.Context) error {
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return ErrChannelNotOpen
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.closeCtx, cancel)
	defer stop()
	return sender.Drain(ctx)
}

// Close tears down the link. The session ends in Closed unless it had
// already failed.
func (s *Session) Close() error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()

	var err error
	if link != nil {
		err = link.Close()
	}
	_ = s.transition(StateClosed)
	return err
}

func (s *Session) handleOpen(ch transport.Channel) {
	s.mu.Lock()
	s.sender = NewSender(ch, s.logger)
	s.mu.Unlock()

	if err := s.transition(StateOpen); err != nil {
		s.logger.WithError(err).Warn("Ignoring channel open")
		return
	}
	s.openedOnce.Do(func() { close(s.opened) })
}

func (s *Session) handleMessage(msg transport.Message) {
	s.mu.Lock()
	artifact, err := s.assembler.Handle(msg)
	receiving := s.assembler.Receiving()
	received, total := s.assembler.Progress()
	s.mu.Unlock()

	if err != nil {
		s.notifyError(err)
		return
	}

	if receiving && !msg.Control && s.onProgress != nil {
		s.onProgress(received, total)
	}

	if receiving || artifact != nil {
		if s.State() == StateOpen {
			_ = s.transition(StateTransferring)
		}
	}
	if artifact != nil {
		s.settle()
		if s.onArtifact != nil {
			s.onArtifact(artifact)
		}
	}
}

func (s *Session) handleClose() {
	_ = s.transition(StateClosed)
}

func (s *Session) handleLinkError(err error) {
	s.fail(fmt.Errorf("%w: %w", ErrNegotiation, err))
}

// settle returns to Open once neither direction has a transfer in flight.
func (s *Session) settle() {
	s.mu.Lock()
	busy := s.sending || s.assembler.Receiving()
	state := s.state
	s.mu.Unlock()

	if !busy && state == StateTransferring {
		_ = s.transition(StateOpen)
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()

	s.logger.WithError(err).Error("Session failed")
	_ = s.transition(StateFailed)
	s.notifyError(err)

	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link != nil {
		_ = link.Close()
	}
}

func (s *Session) notifyError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return nil
	}
	if !canTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	if to.Terminal() {
		close(s.done)
		s.cancel()
	}
	s.mu.Unlock()

	s.notifyState(from, to)
	return nil
}

func (s *Session) notifyState(from, to State) {
	s.logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("Session state changed")
	if s.onStateChange != nil {
		s.onStateChange(from, to)
	}
}
