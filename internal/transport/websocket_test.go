package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Tek-Fly/ide-mesh-suite/internal/protocol"
	"github.com/Tek-Fly/ide-mesh-suite/internal/testutil/testlog"
	"github.com/Tek-Fly/ide-mesh-suite/internal/testutil/wstest"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames []Frame
	closes []error
	closed chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan struct{})}
}

func (h *recordingHandler) HandleFrame(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, f)
}

func (h *recordingHandler) HandleClose(err error) {
	h.mu.Lock()
	h.closes = append(h.closes, err)
	h.mu.Unlock()
	close(h.closed)
}

func (h *recordingHandler) snapshot() []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Frame(nil), h.frames...)
}

func dialTest(t *testing.T, srv *wstest.Server, h Handler) Transport {
	t.Helper()
	dialer := &WebSocketDialer{HandshakeTimeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := dialer.Dial(ctx, srv.URL(), h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSendDeliversTextFrame(t *testing.T) {
	testlog.Start(t)
	srv := wstest.New(t)
	conn := dialTest(t, srv, newRecordingHandler())

	env := protocol.New(protocol.TypePing)
	raw, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.Send(Frame{Data: raw}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, ok := srv.NextEnvelope(protocol.TypePing, time.Second)
	if !ok {
		t.Fatalf("backend never saw the frame")
	}
	if got.ID != env.ID {
		t.Fatalf("id mismatch: got %q, want %q", got.ID, env.ID)
	}
}

func TestInboundFramesPreserveKindAndOrder(t *testing.T) {
	testlog.Start(t)
	srv := wstest.New(t)
	h := newRecordingHandler()
	dialTest(t, srv, h)
	if !srv.WaitAccept(time.Second) {
		t.Fatalf("backend never accepted")
	}

	srv.Send(protocol.New(protocol.TypePing))
	srv.SendBinary("audio:main", []byte{0xde, 0xad})

	deadline := time.Now().Add(time.Second)
	for {
		frames := h.snapshot()
		if len(frames) >= 2 {
			if frames[0].Binary || !frames[1].Binary {
				t.Fatalf("frame kinds out of order: %+v", frames)
			}
			decoded, err := protocol.DecodeBinaryFrame(frames[1].Data)
			if err != nil {
				t.Fatalf("decode binary: %v", err)
			}
			if decoded.Channel != "audio:main" {
				t.Fatalf("unexpected channel: %q", decoded.Channel)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("frames never arrived: %+v", frames)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDropReportsCloseExactlyOnce(t *testing.T) {
	testlog.Start(t)
	srv := wstest.New(t)
	h := newRecordingHandler()
	dialTest(t, srv, h)
	if !srv.WaitAccept(time.Second) {
		t.Fatalf("backend never accepted")
	}

	srv.DropConnections()
	select {
	case <-h.closed:
	case <-time.After(time.Second):
		t.Fatalf("close never reported")
	}
	// Give a racing second report a moment to appear.
	time.Sleep(10 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.closes) != 1 {
		t.Fatalf("close reported %d times", len(h.closes))
	}
	if h.closes[0] == nil {
		t.Fatalf("close reported without an error")
	}
}

func TestDialFailureReturnsError(t *testing.T) {
	testlog.Start(t)
	srv := wstest.New(t)
	url := srv.URL()
	srv.Refuse()

	dialer := &WebSocketDialer{HandshakeTimeout: 200 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := dialer.Dial(ctx, url, newRecordingHandler()); err == nil {
		t.Fatalf("expected dial error")
	}
}
