package transfer

import "errors"

var (
	ErrParseFailure       = errors.New("control message is not valid transfer metadata")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrReadFailure        = errors.New("failed to read source file")
	ErrChannelNotOpen     = errors.New("channel not open")
	ErrTransferInProgress = errors.New("transfer already in progress")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrNegotiation        = errors.New("negotiation failed")
	ErrUnexpectedPeer     = errors.New("signal from unexpected peer")
)
