package bridge

import "errors"

var (
	ErrBridgeClosed       = errors.New("bridge: closed")
	ErrRequestTimeout     = errors.New("bridge: request timeout")
	ErrRequestRejected    = errors.New("bridge: request rejected")
	ErrRequestCancelled   = errors.New("bridge: request cancelled")
	ErrInvalidChannelName = errors.New("bridge: invalid channel name")
	ErrURLRequired        = errors.New("bridge: url required")
	ErrNameRequired       = errors.New("bridge: bridge name required")
)
