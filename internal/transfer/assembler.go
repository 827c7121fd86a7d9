package transfer

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
)

// Artifact is a fully reassembled file.
type Artifact struct {
	Name        string
	MimeType    string
	Data        []byte
	TotalChunks int
	ReceivedAt  time.Time
}

func (a *Artifact) Size() int64 {
	return int64(len(a.Data))
}

// Assembler is the receive pipeline of one channel. Handle must be called
// with messages in arrival order from a single goroutine.
type Assembler struct {
	logger logrus.FieldLogger
	now    func() time.Time

	meta     *Metadata
	buf      bytes.Buffer
	received int
}

func NewAssembler(logger logrus.FieldLogger) *Assembler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Assembler{logger: logger, now: time.Now}
}

// Receiving reports whether metadata has been seen and the transfer is not
// yet complete.
func (a *Assembler) Receiving() bool {
	return a.meta != nil
}

// Progress returns the received and expected chunk counts of the current
// transfer.
func (a *Assembler) Progress() (received, total int) {
	if a.meta == nil {
		return 0, 0
	}
	return a.received, a.meta.TotalChunks
}

// Handle consumes one inbound message. It returns a non-nil Artifact when
// the message completes a transfer. Errors leave the assembler usable.
func (a *Assembler) Handle(msg transport.Message) (*Artifact, error) {
	if msg.Control {
		return a.handleControl(msg.Data)
	}
	return a.handleChunk(msg.Data)
}

func (a *Assembler) handleControl(data []byte) (*Artifact, error) {
	meta, err := ParseMetadata(data)
	if err != nil {
		a.logger.WithError(err).Warn("Dropping control message")
		return nil, err
	}

	if a.meta != nil {
		a.logger.WithFields(logrus.Fields{
			"file":     a.meta.FileName,
			"received": a.received,
			"chunks":   a.meta.TotalChunks,
		}).Warn("New transfer announced, discarding partial transfer")
	}

	a.reset()
	a.meta = &meta
	a.logger.WithFields(logrus.Fields{
		"file":   meta.FileName,
		"type":   meta.MimeType,
		"chunks": meta.TotalChunks,
	}).Info("Receiving file")

	if meta.TotalChunks == 0 {
		return a.complete(), nil
	}
	return nil, nil
}

func (a *Assembler) handleChunk(data []byte) (*Artifact, error) {
	if a.meta == nil {
		err := fmt.Errorf("%w: chunk of %d bytes before metadata", ErrProtocolViolation, len(data))
		a.logger.WithError(err).Warn("Dropping chunk")
		return nil, err
	}

	a.buf.Write(data)
	a.received++
	a.logger.WithFields(logrus.Fields{
		"received": a.received,
		"chunks":   a.meta.TotalChunks,
	}).Debug("Received chunk")

	if a.received == a.meta.TotalChunks {
		return a.complete(), nil
	}
	return nil, nil
}

func (a *Assembler) complete() *Artifact {
	now := a.now()
	name := a.meta.FileName
	if name == "" {
		name = fallbackName(a.meta.MimeType, now)
	}

	artifact := &Artifact{
		Name:        name,
		MimeType:    a.meta.MimeType,
		Data:        bytes.Clone(a.buf.Bytes()),
		TotalChunks: a.meta.TotalChunks,
		ReceivedAt:  now,
	}
	if artifact.Data == nil {
		artifact.Data = []byte{}
	}

	a.reset()
	return artifact
}

func (a *Assembler) reset() {
	a.meta = nil
	a.buf.Reset()
	a.received = 0
}

// fallbackName builds received-file-<unix ms>[.<subtype>].
func fallbackName(mimeType string, at time.Time) string {
	name := fmt.Sprintf("received-file-%d", at.UnixMilli())

	_, subtype, ok := strings.Cut(mimeType, "/")
	if !ok {
		return name
	}
	subtype, _, _ = strings.Cut(subtype, ";")
	subtype = strings.TrimSpace(subtype)
	if subtype == "" {
		return name
	}
	return name + "." + subtype
}
