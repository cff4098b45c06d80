package protocol

import "errors"

var (
	ErrMalformedEnvelope  = errors.New("protocol: malformed envelope")
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
	ErrTruncated          = errors.New("protocol: truncated data")
	ErrChannelNameTooLong = errors.New("protocol: channel name too long")
)
