// Package node runs one peer: it routes relayed signals to per-peer
// transfer sessions, saves received files and records transfer history.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/db"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/store"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/transfer"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
)

var ErrSessionClosed = errors.New("session closed before the channel opened")

// Received describes a saved inbound file.
type Received struct {
	PeerID   string
	Path     string
	Artifact *transfer.Artifact
}

type Options struct {
	PeerID      string
	Signaler    transport.Signaler
	Dialer      transport.Dialer
	DownloadDir string
	// Transfers is optional; nil disables history.
	Transfers store.TransferRepository
	Logger    logrus.FieldLogger

	OnReceive  func(Received)
	OnProgress func(peerID string, received, total int)
	OnError    func(peerID string, err error)
}

type Node struct {
	opts   Options
	logger logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*transfer.Session
}

func New(opts Options) *Node {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "."
	}

	return &Node{
		opts:     opts,
		logger:   logger.WithField("self", opts.PeerID),
		sessions: make(map[string]*transfer.Session),
	}
}

// Run dispatches relayed signals until ctx is done or the signaler closes.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Info("Node is now running...")
	signals := n.opts.Signaler.RecvSignal()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				n.logger.Info("Signaling connection closed")
				return nil
			}
			n.handleSignal(ctx, sig)
		}
	}
}

func (n *Node) handleSignal(ctx context.Context, sig transport.Signal) {
	s := n.session(sig.PeerID)
	if err := s.HandleSignal(ctx, sig); err != nil {
		n.logger.WithError(err).WithField("peer", sig.PeerID).Warn("Failed to handle signal")
	}
}

// Connect returns an open session to peerID, negotiating one if needed.
func (n *Node) Connect(ctx context.Context, peerID string) (*transfer.Session, error) {
	s := n.session(peerID)
	if s.State() == transfer.StateIdle {
		if err := s.Connect(ctx); err != nil {
			return nil, err
		}
	}

	select {
	case <-s.Opened():
		return s, nil
	case <-s.Done():
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendFile streams the file at path to peerID and records it.
func (n *Node) SendFile(ctx context.Context, peerID, path string, progress transfer.ProgressFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	s, err := n.Connect(ctx, peerID)
	if err != nil {
		return err
	}

	file := transfer.File{
		Name:     filepath.Base(path),
		MimeType: DetectMimeType(path),
		Size:     info.Size(),
		Reader:   f,
	}
	if err := s.Send(ctx, file, progress); err != nil {
		return err
	}
	if err := s.Drain(ctx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", file.Name, err)
	}

	n.record(ctx, &db.Transfer{
		PeerID:      peerID,
		Direction:   db.DirectionSent,
		FileName:    file.Name,
		MimeType:    file.MimeType,
		Path:        path,
		Size:        file.Size,
		TotalChunks: transfer.TotalChunks(file.Size),
	})
	return nil
}

// Sessions returns the ids of peers with a live session.
func (n *Node) Sessions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]string, 0, len(n.sessions))
	for id := range n.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (n *Node) Close() error {
	n.mu.Lock()
	sessions := make([]*transfer.Session, 0, len(n.sessions))
	for _, s := range n.sessions {
		sessions = append(sessions, s)
	}
	n.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// session returns the live session for peerID, creating one if none exists
// or the previous one has ended.
func (n *Node) session(peerID string) *transfer.Session {
	n.mu.Lock()
	defer n.mu.Unlock()

	if s, ok := n.sessions[peerID]; ok && !s.State().Terminal() {
		return s
	}

	s := transfer.NewSession(peerID, n.opts.Dialer, n.logger)
	s.OnArtifact(func(a *transfer.Artifact) {
		n.handleArtifact(peerID, a)
	})
	s.OnProgress(func(received, total int) {
		if n.opts.OnProgress != nil {
			n.opts.OnProgress(peerID, received, total)
		}
	})
	s.OnError(func(err error) {
		if n.opts.OnError != nil {
			n.opts.OnError(peerID, err)
		}
	})
	n.sessions[peerID] = s

	go func() {
		<-s.Done()
		n.mu.Lock()
		if n.sessions[peerID] == s {
			delete(n.sessions, peerID)
		}
		n.mu.Unlock()
		n.logger.WithFields(logrus.Fields{"peer": peerID, "state": s.State().String()}).Info("Session ended")
	}()
	return s
}

func (n *Node) handleArtifact(peerID string, a *transfer.Artifact) {
	path, err := n.save(a)
	if err != nil {
		n.logger.WithError(err).WithField("file", a.Name).Error("Failed to save received file")
		if n.opts.OnError != nil {
			n.opts.OnError(peerID, err)
		}
		return
	}
	n.logger.WithFields(logrus.Fields{"peer": peerID, "path": path, "bytes": a.Size()}).Info("File received")

	n.record(context.Background(), &db.Transfer{
		PeerID:      peerID,
		Direction:   db.DirectionReceived,
		FileName:    a.Name,
		MimeType:    a.MimeType,
		Path:        path,
		Size:        a.Size(),
		TotalChunks: a.TotalChunks,
		CreatedAt:   a.ReceivedAt,
	})

	if n.opts.OnReceive != nil {
		n.opts.OnReceive(Received{PeerID: peerID, Path: path, Artifact: a})
	}
}

func (n *Node) save(a *transfer.Artifact) (string, error) {
	if err := os.MkdirAll(n.opts.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	name := SanitizeFileName(a.Name)
	if name == "" {
		name = "received-file"
	}
	path, err := BuildDownloadPath(n.opts.DownloadDir, name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

func (n *Node) record(ctx context.Context, t *db.Transfer) {
	if n.opts.Transfers == nil {
		return
	}
	if err := n.opts.Transfers.Record(ctx, t); err != nil {
		n.logger.WithError(err).Warn("Failed to record transfer")
	}
}
