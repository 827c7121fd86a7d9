// Package transfer implements the chunked file transfer protocol spoken over
// an established transport.Channel.
package transfer

import (
	"encoding/json"
	"fmt"
)

const (
	// ChunkSize is the fixed maximum size of one chunk message.
	ChunkSize = 16384

	// LowWaterMark is the buffered amount at or below which the sender
	// resumes issuing chunks.
	LowWaterMark = 256 * 1024

	metadataType = "totalChunks"
)

// Metadata announces one transfer and precedes its chunks.
type Metadata struct {
	Type        string `json:"type"`
	TotalChunks int    `json:"totalChunks"`
	FileName    string `json:"fileName"`
	MimeType    string `json:"fileType"`
}

func NewMetadata(size int64, fileName, mimeType string) Metadata {
	return Metadata{
		Type:        metadataType,
		TotalChunks: TotalChunks(size),
		FileName:    fileName,
		MimeType:    mimeType,
	}
}

// TotalChunks returns ceil(size / ChunkSize).
func TotalChunks(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + ChunkSize - 1) / ChunkSize)
}

func (m Metadata) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMetadata decodes a control message. Anything that is not a
// totalChunks message with an explicit non-negative count is a parse failure.
func ParseMetadata(data []byte) (Metadata, error) {
	var wire struct {
		Metadata
		TotalChunks *int `json:"totalChunks"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if wire.Type != metadataType {
		return Metadata{}, fmt.Errorf("%w: unexpected type %q", ErrParseFailure, wire.Type)
	}
	if wire.TotalChunks == nil {
		return Metadata{}, fmt.Errorf("%w: missing chunk count", ErrParseFailure)
	}
	if *wire.TotalChunks < 0 {
		return Metadata{}, fmt.Errorf("%w: negative chunk count %d", ErrParseFailure, *wire.TotalChunks)
	}

	m := wire.Metadata
	m.TotalChunks = *wire.TotalChunks
	return m, nil
}
