package transfer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/logger"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport"
)

func newTestAssembler() *Assembler {
	a := NewAssembler(logger.Discard())
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return a
}

func control(t *testing.T, m Metadata) transport.Message {
	t.Helper()
	data, err := m.Encode()
	require.NoError(t, err)
	return transport.Message{Control: true, Data: data}
}

func chunk(data []byte) transport.Message {
	return transport.Message{Data: data}
}

func TestAssemblerThreeChunks(t *testing.T) {
	requireT := require.New(t)
	a := newTestAssembler()
	file := bytes.Repeat([]byte{0xab}, 40000)

	artifact, err := a.Handle(control(t, NewMetadata(int64(len(file)), "big.bin", "application/octet-stream")))
	requireT.NoError(err)
	requireT.Nil(artifact)

	for _, part := range [][]byte{file[:16384], file[16384:32768]} {
		artifact, err = a.Handle(chunk(part))
		requireT.NoError(err)
		requireT.Nil(artifact)
	}

	received, total := a.Progress()
	requireT.Equal(2, received)
	requireT.Equal(3, total)

	artifact, err = a.Handle(chunk(file[32768:]))
	requireT.NoError(err)
	requireT.NotNil(artifact)
	requireT.Equal(file, artifact.Data)
	requireT.Equal(int64(40000), artifact.Size())
	requireT.Equal("big.bin", artifact.Name)
	requireT.Equal(3, artifact.TotalChunks)
	requireT.False(a.Receiving())
}

func TestAssemblerChunkBeforeMetadata(t *testing.T) {
	a := newTestAssembler()

	artifact, err := a.Handle(chunk([]byte("stray")))
	require.ErrorIs(t, err, ErrProtocolViolation)
	require.Nil(t, artifact)

	artifact, err = a.Handle(control(t, NewMetadata(3, "x", "text/plain")))
	require.NoError(t, err)
	require.Nil(t, artifact)

	artifact, err = a.Handle(chunk([]byte("abc")))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), artifact.Data)
}

func TestAssemblerExtraChunkAfterCompletion(t *testing.T) {
	a := newTestAssembler()

	_, err := a.Handle(control(t, NewMetadata(1, "one", "")))
	require.NoError(t, err)
	artifact, err := a.Handle(chunk([]byte{1}))
	require.NoError(t, err)
	require.NotNil(t, artifact)

	_, err = a.Handle(chunk([]byte{2}))
	require.ErrorIs(t, err, ErrProtocolViolation)
	require.False(t, a.Receiving())
}

func TestAssemblerParseFailureKeepsBuffer(t *testing.T) {
	a := newTestAssembler()

	_, err := a.Handle(control(t, NewMetadata(2*ChunkSize, "f", "")))
	require.NoError(t, err)
	_, err = a.Handle(chunk(make([]byte, ChunkSize)))
	require.NoError(t, err)

	_, err = a.Handle(transport.Message{Control: true, Data: []byte(`{oops`)})
	require.ErrorIs(t, err, ErrParseFailure)

	received, total := a.Progress()
	require.Equal(t, 1, received)
	require.Equal(t, 2, total)
}

func TestAssemblerMetadataResetsPartialTransfer(t *testing.T) {
	a := newTestAssembler()

	_, err := a.Handle(control(t, NewMetadata(2*ChunkSize, "first", "")))
	require.NoError(t, err)
	_, err = a.Handle(chunk([]byte("partial")))
	require.NoError(t, err)

	_, err = a.Handle(control(t, NewMetadata(4, "second", "")))
	require.NoError(t, err)
	artifact, err := a.Handle(chunk([]byte("next")))
	require.NoError(t, err)
	require.Equal(t, "second", artifact.Name)
	require.Equal(t, []byte("next"), artifact.Data)
}

func TestAssemblerZeroByteFile(t *testing.T) {
	a := newTestAssembler()

	artifact, err := a.Handle(control(t, NewMetadata(0, "empty.txt", "text/plain")))
	require.NoError(t, err)
	require.NotNil(t, artifact)
	require.Empty(t, artifact.Data)
	require.Equal(t, "empty.txt", artifact.Name)
}

func TestAssemblerRejectsMetadataWithoutCount(t *testing.T) {
	a := newTestAssembler()

	for _, payload := range []string{
		`{"type":"totalChunks"}`,
		`{"type":"totalChunks","totalChunks":null,"fileName":"x.bin"}`,
	} {
		artifact, err := a.Handle(transport.Message{Control: true, Data: []byte(payload)})
		require.ErrorIs(t, err, ErrParseFailure, payload)
		require.Nil(t, artifact, payload)
		require.False(t, a.Receiving())
	}

	_, err := a.Handle(chunk([]byte("late")))
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestAssemblerFallbackName(t *testing.T) {
	a := newTestAssembler()

	_, err := a.Handle(control(t, NewMetadata(1, "", "image/png")))
	require.NoError(t, err)
	artifact, err := a.Handle(chunk([]byte{0}))
	require.NoError(t, err)
	require.Equal(t, "received-file-1700000000000.png", artifact.Name)
	require.Equal(t, "image/png", artifact.MimeType)
}

func TestFallbackName(t *testing.T) {
	at := time.UnixMilli(42)
	tests := []struct {
		mimeType string
		expected string
	}{
		{"image/png", "received-file-42.png"},
		{"text/plain; charset=utf-8", "received-file-42.plain"},
		{"", "received-file-42"},
		{"weird", "received-file-42"},
		{"application/", "received-file-42"},
	}

	for _, tt := range tests {
		if got := fallbackName(tt.mimeType, at); got != tt.expected {
			t.Errorf("fallbackName(%q) = %q, want %q", tt.mimeType, got, tt.expected)
		}
	}
}
