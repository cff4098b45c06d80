package bridge

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tek-Fly/ide-mesh-suite/internal/logging"
	"github.com/Tek-Fly/ide-mesh-suite/internal/protocol"
	"github.com/Tek-Fly/ide-mesh-suite/internal/transport"
)

// ProtocolVersion is advertised in the connect envelope.
const ProtocolVersion = "1.0"

var capabilities = []string{"channels", "requests", "binary"}

type connectInfo struct {
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type authInfo struct {
	Token string `json:"token"`
}

// Bridge multiplexes channels and correlated requests over one resilient
// duplex connection. One mutex guards every shared table; the transport
// receive goroutine is the sole inbound dispatcher.
type Bridge struct {
	cfg    Config
	dialer transport.Dialer
	log    zerolog.Logger
	rng    *rand.Rand

	mu         sync.Mutex
	state      ConnectionState
	closed     bool
	credential string

	conn      transport.Transport
	dialSeq   uint64
	connEpoch uint64

	attempts       int
	reconnectTimer *time.Timer
	keepaliveStop  chan struct{}

	pending  map[string]*pendingRequest
	channels map[string]*channelState

	watcherSeq int
	watchers   map[int]chan ConnectionState
}

func New(cfg Config, dialer transport.Dialer) (*Bridge, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrURLRequired
	}
	cfg = cfg.WithDefaults()
	RegisterMetrics()
	return &Bridge{
		cfg:      cfg,
		dialer:   dialer,
		log:      logging.For("bridge").With().Str("bridge", cfg.Name).Logger(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		state:    StateDisconnected,
		pending:  make(map[string]*pendingRequest),
		channels: make(map[string]*channelState),
		watchers: make(map[int]chan ConnectionState),
	}, nil
}

func (b *Bridge) Name() string { return b.cfg.Name }

// State returns the current connection state snapshot.
func (b *Bridge) State() ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// WatchState registers a state watcher. The current state is delivered
// immediately; the cancel func removes the watcher and closes its stream.
func (b *Bridge) WatchState() (<-chan ConnectionState, func()) {
	ch := make(chan ConnectionState, 16)
	b.mu.Lock()
	b.watcherSeq++
	id := b.watcherSeq
	b.watchers[id] = ch
	ch <- b.state
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		if w, ok := b.watchers[id]; ok {
			delete(b.watchers, id)
			close(w)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Connect establishes the transport. Calling it while connected is a
// logged no-op; calling it from the terminal error state resets the
// retry budget and starts over.
func (b *Bridge) Connect(ctx context.Context, credential string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBridgeClosed
	}
	if b.state == StateConnected {
		b.log.Debug().Msg("connect: already connected")
		b.mu.Unlock()
		return nil
	}
	b.stopReconnectTimerLocked()
	b.attempts = 0
	if credential != "" {
		b.credential = credential
	}
	b.setStateLocked(StateConnecting)
	seq := b.nextDialSeqLocked()
	b.mu.Unlock()

	conn, err := b.dialer.Dial(ctx, b.cfg.URL, &connHandler{b: b, seq: seq})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrBridgeClosed
	}
	// A Disconnect or a newer Connect issued during the dial wins; the
	// stale connection is discarded, never installed.
	if b.state != StateConnecting || seq != b.dialSeq {
		b.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		b.log.Warn().Err(err).Str("url", b.cfg.URL).Msg("connect failed")
		b.scheduleReconnectLocked()
		b.mu.Unlock()
		return err
	}
	handshake := b.finishConnectLocked(conn, seq)
	b.mu.Unlock()

	b.flushHandshake(handshake)
	return nil
}

// Disconnect tears the session down: timers cancelled, pending requests
// failed, fan-out streams closed, best-effort disconnect envelope sent.
// It always succeeds locally and is safe to call repeatedly.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	conn := b.teardownLocked()
	b.mu.Unlock()
	b.closeTransport(conn)
}

// Close disposes the bridge permanently. Watcher streams are closed and
// every later call fails with ErrBridgeClosed.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.teardownLocked()
	for id, w := range b.watchers {
		delete(b.watchers, id)
		close(w)
	}
	b.mu.Unlock()
	b.closeTransport(conn)
	return nil
}

// Send serializes the envelope and writes it if connected; otherwise it
// is a logged no-op. Write faults are logged, never surfaced: the
// receive loop observes the failure and drives reconnection.
func (b *Bridge) Send(env protocol.Envelope) error {
	raw, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	b.mu.Lock()
	conn := b.conn
	connected := b.state == StateConnected && conn != nil
	b.mu.Unlock()
	if !connected {
		droppedSends.WithLabelValues(b.cfg.Name).Inc()
		b.log.Warn().Str("type", string(env.Type)).Msg("send dropped: not connected")
		return nil
	}
	if err := conn.Send(transport.Frame{Data: raw}); err != nil {
		b.log.Warn().Err(err).Str("type", string(env.Type)).Msg("send failed")
		return nil
	}
	framesOut.WithLabelValues(b.cfg.Name, string(env.Type)).Inc()
	return nil
}

// SendBinary writes one binary sub-channel frame, bypassing JSON.
func (b *Bridge) SendBinary(channel string, payload []byte) error {
	raw, err := protocol.EncodeBinaryFrame(protocol.BinaryFrame{Channel: channel, Payload: payload})
	if err != nil {
		return err
	}
	b.mu.Lock()
	conn := b.conn
	connected := b.state == StateConnected && conn != nil
	b.mu.Unlock()
	if !connected {
		droppedSends.WithLabelValues(b.cfg.Name).Inc()
		b.log.Warn().Str("channel", channel).Msg("binary send dropped: not connected")
		return nil
	}
	if err := conn.Send(transport.Frame{Binary: true, Data: raw}); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("binary send failed")
		return nil
	}
	framesOut.WithLabelValues(b.cfg.Name, "binary").Inc()
	return nil
}

// connHandler pins transport events to the dial attempt that produced
// them so a stale connection cannot disturb its successor.
type connHandler struct {
	b   *Bridge
	seq uint64
}

func (h *connHandler) HandleFrame(f transport.Frame) { h.b.dispatch(h.seq, f) }
func (h *connHandler) HandleClose(err error)         { h.b.handleTransportClose(h.seq, err) }

func (b *Bridge) dispatch(seq uint64, f transport.Frame) {
	b.mu.Lock()
	live := seq == b.connEpoch && b.conn != nil
	b.mu.Unlock()
	if !live {
		return
	}
	if f.Binary {
		bf, err := protocol.DecodeBinaryFrame(f.Data)
		if err != nil {
			framesIn.WithLabelValues(b.cfg.Name, "malformed").Inc()
			b.log.Warn().Err(err).Msg("dropping malformed binary frame")
			return
		}
		framesIn.WithLabelValues(b.cfg.Name, "ok").Inc()
		b.routePublish(bf.Channel, bf.Payload)
		return
	}
	env, err := protocol.Decode(f.Data)
	if err != nil {
		framesIn.WithLabelValues(b.cfg.Name, "malformed").Inc()
		b.log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	framesIn.WithLabelValues(b.cfg.Name, "ok").Inc()

	switch env.Type {
	case protocol.TypeResponse:
		b.handleResponse(env)
	case protocol.TypePublish, protocol.TypeStreamStart, protocol.TypeStreamData, protocol.TypeStreamEnd:
		b.routePublish(env.Channel, env.Data)
	case protocol.TypePing:
		pong := protocol.New(protocol.TypePong)
		_ = b.Send(pong)
	case protocol.TypePong:
		// Liveness is inferred from transport failure, not missed pongs.
		b.log.Trace().Msg("pong")
	case protocol.TypeError:
		b.log.Error().Str("id", env.ID).Str("detail", env.Error).Msg("server error envelope")
	default:
		b.log.Debug().Str("type", string(env.Type)).Msg("ignoring unexpected inbound envelope")
	}
}

func (b *Bridge) handleTransportClose(seq uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || seq != b.connEpoch || b.conn == nil {
		return
	}
	b.conn = nil
	b.connEpoch = 0
	b.stopKeepaliveLocked()
	b.log.Warn().Err(err).Msg("transport closed unexpectedly")
	b.scheduleReconnectLocked()
}

func (b *Bridge) scheduleReconnectLocked() {
	if b.closed {
		return
	}
	b.attempts++
	if b.attempts > b.cfg.MaxReconnectAttempts {
		b.log.Error().Int("attempts", b.cfg.MaxReconnectAttempts).Msg("reconnect attempts exhausted")
		b.setStateLocked(StateError)
		return
	}
	b.setStateLocked(StateReconnecting)
	reconnectAttempts.WithLabelValues(b.cfg.Name).Inc()
	delay := NextBackoffDelay(b.cfg.ReconnectDelay, b.attempts, b.rng)
	b.log.Info().Int("attempt", b.attempts).Dur("delay", delay).Msg("reconnect scheduled")
	b.reconnectTimer = time.AfterFunc(delay, b.redial)
}

func (b *Bridge) redial() {
	b.mu.Lock()
	if b.closed || b.state != StateReconnecting {
		b.mu.Unlock()
		return
	}
	b.reconnectTimer = nil
	seq := b.nextDialSeqLocked()
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ConnectTimeout)
	conn, err := b.dialer.Dial(ctx, b.cfg.URL, &connHandler{b: b, seq: seq})
	cancel()

	b.mu.Lock()
	if b.closed || b.state != StateReconnecting {
		b.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		b.log.Warn().Err(err).Msg("reconnect failed")
		b.scheduleReconnectLocked()
		b.mu.Unlock()
		return
	}
	handshake := b.finishConnectLocked(conn, seq)
	b.mu.Unlock()

	b.flushHandshake(handshake)
}

// finishConnectLocked installs the live connection and builds the
// handshake envelopes: connect, optional authenticate, then one replayed
// subscribe per tracked channel. Replay relies on the server treating a
// repeated subscribe as idempotent.
func (b *Bridge) finishConnectLocked(conn transport.Transport, seq uint64) []protocol.Envelope {
	b.conn = conn
	b.connEpoch = seq
	b.attempts = 0
	b.setStateLocked(StateConnected)
	b.startKeepaliveLocked()

	out := make([]protocol.Envelope, 0, 2+len(b.channels))
	hello, _ := protocol.NewWithData(protocol.TypeConnect, connectInfo{
		Version:      ProtocolVersion,
		Capabilities: capabilities,
	})
	out = append(out, hello)
	if b.credential != "" {
		auth, _ := protocol.NewWithData(protocol.TypeAuthenticate, authInfo{Token: b.credential})
		out = append(out, auth)
	}
	for name, st := range b.channels {
		env := protocol.New(protocol.TypeSubscribe)
		if id := st.firstSubID(); id != "" {
			env.ID = id
		}
		env.Channel = name
		out = append(out, env)
	}
	return out
}

func (b *Bridge) flushHandshake(envs []protocol.Envelope) {
	for _, env := range envs {
		_ = b.Send(env)
	}
}

// teardownLocked cancels every timer, fails every pending request,
// closes every fan-out stream and returns the transport for the caller
// to close outside the lock.
func (b *Bridge) teardownLocked() transport.Transport {
	b.stopReconnectTimerLocked()
	b.stopKeepaliveLocked()
	conn := b.conn
	b.conn = nil
	b.connEpoch = 0
	b.failAllPendingLocked(ErrRequestCancelled)
	for name, st := range b.channels {
		delete(b.channels, name)
		close(st.stream)
	}
	activeSubscriptions.WithLabelValues(b.cfg.Name).Set(0)
	b.setStateLocked(StateDisconnected)
	return conn
}

func (b *Bridge) closeTransport(conn transport.Transport) {
	if conn == nil {
		return
	}
	if raw, err := protocol.Encode(protocol.New(protocol.TypeDisconnect)); err == nil {
		_ = conn.Send(transport.Frame{Data: raw})
	}
	_ = conn.Close()
}

func (b *Bridge) setStateLocked(next ConnectionState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.log.Info().Str("from", prev.String()).Str("to", next.String()).Msg("connection state")
	for _, w := range b.watchers {
		select {
		case w <- next:
		default:
		}
	}
}

func (b *Bridge) startKeepaliveLocked() {
	b.stopKeepaliveLocked()
	stop := make(chan struct{})
	b.keepaliveStop = stop
	go b.keepaliveLoop(stop)
}

func (b *Bridge) stopKeepaliveLocked() {
	if b.keepaliveStop != nil {
		close(b.keepaliveStop)
		b.keepaliveStop = nil
	}
}

func (b *Bridge) keepaliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = b.Send(protocol.New(protocol.TypePing))
		}
	}
}

func (b *Bridge) stopReconnectTimerLocked() {
	if b.reconnectTimer != nil {
		b.reconnectTimer.Stop()
		b.reconnectTimer = nil
	}
}

func (b *Bridge) nextDialSeqLocked() uint64 {
	b.dialSeq++
	return b.dialSeq
}
