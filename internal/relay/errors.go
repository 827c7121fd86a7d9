package relay

import "errors"

var (
	ErrInvalidPeerID      = errors.New("invalid peer id")
	ErrUnregisteredSender = errors.New("sender is not registered")
	ErrTargetNotConnected = errors.New("target peer is not connected")
	ErrMalformedMessage   = errors.New("malformed relay message")
)
