package transfer

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
)

// File is a source for one outbound transfer. Reader must yield exactly
// Size bytes.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Reader   io.Reader
}

// ProgressFunc is called after every chunk with the bytes sent so far.
type ProgressFunc func(sent, total int64)

// Sender is the send pipeline of one channel.
type Sender struct {
	ch        transport.Channel
	logger    logrus.FieldLogger
	threshold uint64
	low       chan struct{}
}

func NewSender(ch transport.Channel, logger logrus.FieldLogger) *Sender {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Sender{
		ch:        ch,
		logger:    logger,
		threshold: LowWaterMark,
		low:       make(chan struct{}, 1),
	}
	ch.SetBufferedAmountLowThreshold(s.threshold)
	ch.OnBufferedAmountLow(func() {
		select {
		case s.low <- struct{}{}:
		default:
		}
	})
	return s
}

// Send emits the metadata message followed by every chunk of f in order.
// It blocks while the channel has more than LowWaterMark bytes queued.
func (s *Sender) Send(ctx context.Context, f File, progress ProgressFunc) (Metadata, error) {
	meta := NewMetadata(f.Size, f.Name, f.MimeType)
	data, err := meta.Encode()
	if err != nil {
		return meta, err
	}

	logger := s.logger.WithFields(logrus.Fields{"file": f.Name, "chunks": meta.TotalChunks})
	if err := s.ch.SendControl(data); err != nil {
		return meta, fmt.Errorf("failed to send metadata: %w", err)
	}
	logger.Info("Sending file")

	buf := make([]byte, ChunkSize)
	var sent int64
	for i := 0; i < meta.TotalChunks; i++ {
		want := min(int64(ChunkSize), f.Size-sent)
		n, err := io.ReadFull(f.Reader, buf[:want])
		if err != nil {
			logger.WithError(err).WithField("chunk", i).Warn("Aborting transfer")
			return meta, fmt.Errorf("%w: chunk %d: %w", ErrReadFailure, i, err)
		}

		if err := s.waitBelow(ctx, s.threshold); err != nil {
			return meta, err
		}
		if err := s.ch.SendChunk(buf[:n]); err != nil {
			return meta, fmt.Errorf("failed to send chunk %d: %w", i, err)
		}

		sent += int64(n)
		if progress != nil {
			progress(sent, f.Size)
		}
	}

	logger.WithField("bytes", sent).Info("File sent")
	return meta, nil
}

// Drain blocks until the channel has no data queued, so closing it will not
// discard the tail of a transfer.
func (s *Sender) Drain(ctx context.Context) error {
	s.ch.SetBufferedAmountLowThreshold(0)
	defer s.ch.SetBufferedAmountLowThreshold(s.threshold)
	return s.waitBelow(ctx, 0)
}

func (s *Sender) waitBelow(ctx context.Context, threshold uint64) error {
	for s.ch.BufferedAmount() > threshold {
		select {
		case <-s.low:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}
