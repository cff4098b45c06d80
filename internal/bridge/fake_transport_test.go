package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Tek-Fly/ide-mesh-suite/internal/protocol"
	"github.com/Tek-Fly/ide-mesh-suite/internal/transport"
)

var errAbnormalClose = errors.New("abnormal closure")

// fakeTransport records outbound frames and lets tests inject inbound
// traffic and closures through the handler the bridge registered.
type fakeTransport struct {
	handler transport.Handler

	mu     sync.Mutex
	sent   []transport.Frame
	closed bool
}

func (f *fakeTransport) Send(fr transport.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fake transport closed")
	}
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, env protocol.Envelope) {
	t.Helper()
	raw, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("encode inbound envelope: %v", err)
	}
	f.handler.HandleFrame(transport.Frame{Data: raw})
}

func (f *fakeTransport) deliverRaw(raw []byte) {
	f.handler.HandleFrame(transport.Frame{Data: raw})
}

func (f *fakeTransport) deliverBinary(t *testing.T, channel string, payload []byte) {
	t.Helper()
	raw, err := protocol.EncodeBinaryFrame(protocol.BinaryFrame{Channel: channel, Payload: payload})
	if err != nil {
		t.Fatalf("encode inbound binary frame: %v", err)
	}
	f.handler.HandleFrame(transport.Frame{Binary: true, Data: raw})
}

func (f *fakeTransport) drop(err error) {
	f.handler.HandleClose(err)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// sentEnvelopes decodes the recorded text frames, optionally filtered by type.
func (f *fakeTransport) sentEnvelopes(t *testing.T, want protocol.MessageType) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	frames := make([]transport.Frame, len(f.sent))
	copy(frames, f.sent)
	f.mu.Unlock()
	var out []protocol.Envelope
	for _, fr := range frames {
		if fr.Binary {
			continue
		}
		env, err := protocol.Decode(fr.Data)
		if err != nil {
			t.Fatalf("bridge sent malformed frame: %v", err)
		}
		if want == "" || env.Type == want {
			out = append(out, env)
		}
	}
	return out
}

// fakeDialer hands out fakeTransports, optionally failing the first N
// dials or every dial.
type fakeDialer struct {
	mu       sync.Mutex
	failNext int
	failAll  bool
	dials    int
	conns    []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, _ string, h transport.Handler) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failAll || d.failNext > 0 {
		if d.failNext > 0 {
			d.failNext--
		}
		return nil, errors.New("dial refused")
	}
	conn := &fakeTransport{handler: h}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeTransport {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		t.Fatalf("no connection %d (have %d)", i, len(d.conns))
	}
	return d.conns[i]
}

// gatedDialer parks every Dial on a gate, exposing the window in which
// lifecycle calls can race an in-flight dial.
type gatedDialer struct {
	fakeDialer
	entered chan struct{}
	gate    chan struct{}
}

func newGatedDialer() *gatedDialer {
	return &gatedDialer{
		entered: make(chan struct{}, 8),
		gate:    make(chan struct{}),
	}
}

func (d *gatedDialer) Dial(ctx context.Context, url string, h transport.Handler) (transport.Transport, error) {
	d.entered <- struct{}{}
	<-d.gate
	return d.fakeDialer.Dial(ctx, url, h)
}

func fastConfig() Config {
	return Config{
		Name: "test",
		URL:  "ws://backend.test/bridge",
		ReconnectDelay: BackoffConfig{
			InitialDelay: time.Millisecond,
			Multiplier:   1.0,
		},
		MaxReconnectAttempts: 3,
		PingInterval:         time.Hour,
		RequestTimeout:       time.Second,
		SubscriptionBuffer:   8,
	}
}

func newTestBridge(t *testing.T, cfg Config) (*Bridge, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{}
	b, err := New(cfg, dialer)
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, dialer
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
