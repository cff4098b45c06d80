package bridge

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Tek-Fly/ide-mesh-suite/internal/protocol"
)

// channelState tracks one channel's subscriber set and its single shared
// fan-out stream. The stream is created on first subscribe and closed
// when the subscriber set empties; every subscriber reads the same
// stream, so all of them see identical payloads in delivery order.
type channelState struct {
	subs   map[string]struct{}
	stream chan []byte
}

// firstSubID picks the smallest tracked subscription id, giving replay
// and unsubscribe envelopes a stable correlating id.
func (st *channelState) firstSubID() string {
	first := ""
	for id := range st.subs {
		if first == "" || id < first {
			first = id
		}
	}
	return first
}

// Subscribe registers a subscription and returns its id plus the
// channel's shared fan-out stream. When connected, a subscribe envelope
// carrying the subscription id goes to the server.
func (b *Bridge) Subscribe(channel string) (string, <-chan []byte, error) {
	if strings.TrimSpace(channel) == "" {
		return "", nil, ErrInvalidChannelName
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", nil, ErrBridgeClosed
	}
	st, ok := b.channels[channel]
	if !ok {
		st = &channelState{
			subs:   make(map[string]struct{}),
			stream: make(chan []byte, b.cfg.SubscriptionBuffer),
		}
		b.channels[channel] = st
	}
	id := uuid.NewString()
	st.subs[id] = struct{}{}
	activeSubscriptions.WithLabelValues(b.cfg.Name).Inc()
	connected := b.state == StateConnected
	stream := st.stream
	b.mu.Unlock()

	if connected {
		env := protocol.New(protocol.TypeSubscribe)
		env.ID = id
		env.Channel = channel
		_ = b.Send(env)
	}
	return id, stream, nil
}

// Unsubscribe removes one subscription id, or every id for the channel
// when subID is empty. The last removal closes the fan-out stream and,
// when connected, sends an unsubscribe envelope. Unknown channels and
// ids are a no-op.
func (b *Bridge) Unsubscribe(channel, subID string) {
	b.mu.Lock()
	st, ok := b.channels[channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	removed := 0
	lastID := subID
	if subID == "" {
		removed = len(st.subs)
		lastID = st.firstSubID()
		st.subs = make(map[string]struct{})
	} else if _, present := st.subs[subID]; present {
		delete(st.subs, subID)
		removed = 1
	}
	if removed == 0 {
		b.mu.Unlock()
		return
	}
	activeSubscriptions.WithLabelValues(b.cfg.Name).Sub(float64(removed))
	empty := len(st.subs) == 0
	if empty {
		delete(b.channels, channel)
		close(st.stream)
	}
	connected := b.state == StateConnected
	b.mu.Unlock()

	if empty && connected {
		env := protocol.New(protocol.TypeUnsubscribe)
		if lastID != "" {
			env.ID = lastID
		}
		env.Channel = channel
		_ = b.Send(env)
	}
}

// Publish sends a publish envelope. There is no local echo; delivery
// back to the publisher is the server's choice.
func (b *Bridge) Publish(channel string, payload any) error {
	if strings.TrimSpace(channel) == "" {
		return ErrInvalidChannelName
	}
	env, err := protocol.NewWithData(protocol.TypePublish, payload)
	if err != nil {
		return err
	}
	env.Channel = channel
	return b.Send(env)
}

// routePublish delivers one inbound payload to the channel's fan-out
// stream. Channels with no live subscriber set drop the payload. The
// buffered send happens under the bridge mutex so it cannot race the
// close in Unsubscribe or teardown; a full stream sheds its oldest
// payload so the dispatcher never blocks on a slow consumer.
func (b *Bridge) routePublish(channel string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.channels[channel]
	if !ok {
		droppedPublishes.WithLabelValues(b.cfg.Name).Inc()
		b.log.Trace().Str("channel", channel).Msg("publish dropped: no subscribers")
		return
	}
	select {
	case st.stream <- payload:
	default:
		select {
		case <-st.stream:
		default:
		}
		select {
		case st.stream <- payload:
		default:
		}
	}
}

// SubscriberCount reports the live subscription ids for a channel.
func (b *Bridge) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.channels[channel]
	if !ok {
		return 0
	}
	return len(st.subs)
}
