package transport

import (
	"context"
	"errors"
)

var ErrTransportClosed = errors.New("transport: closed")

// Frame is one delivered unit: a text frame carrying JSON, or a binary
// frame carrying the out-of-band sub-channel encoding.
type Frame struct {
	Binary bool
	Data   []byte
}

// Handler receives transport events. Calls arrive from a single receive
// goroutine, in delivery order; HandleClose is delivered at most once
// and is the last call the handler sees.
type Handler interface {
	HandleFrame(Frame)
	HandleClose(err error)
}

// Transport is one live duplex connection. Send may be called
// concurrently; implementations serialize writes.
type Transport interface {
	Send(Frame) error
	Close() error
}

// Dialer establishes connections so the bridge can run against an
// in-memory transport in tests.
type Dialer interface {
	Dial(ctx context.Context, url string, h Handler) (Transport, error)
}
