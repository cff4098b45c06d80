package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType is the closed set of envelope kinds.
type MessageType string

const (
	TypeConnect      MessageType = "connect"
	TypeDisconnect   MessageType = "disconnect"
	TypeAuthenticate MessageType = "authenticate"
	TypeSubscribe    MessageType = "subscribe"
	TypeUnsubscribe  MessageType = "unsubscribe"
	TypePublish      MessageType = "publish"
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeError        MessageType = "error"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeStreamStart  MessageType = "stream-start"
	TypeStreamData   MessageType = "stream-data"
	TypeStreamEnd    MessageType = "stream-end"
)

var validTypes = map[MessageType]struct{}{
	TypeConnect:      {},
	TypeDisconnect:   {},
	TypeAuthenticate: {},
	TypeSubscribe:    {},
	TypeUnsubscribe:  {},
	TypePublish:      {},
	TypeRequest:      {},
	TypeResponse:     {},
	TypeError:        {},
	TypePing:         {},
	TypePong:         {},
	TypeStreamStart:  {},
	TypeStreamData:   {},
	TypeStreamEnd:    {},
}

func (t MessageType) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

// Envelope is the single wire message wrapper. The id doubles as
// correlation key for request/response and as subscription key for
// subscribe/unsubscribe; it is unique within one connection epoch.
type Envelope struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New returns an envelope with a fresh id and a now timestamp.
func New(t MessageType) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// NewWithData marshals data into a fresh envelope. Marshal failure is a
// caller bug surfaced as an error rather than a panic.
func NewWithData(t MessageType, data any) (Envelope, error) {
	env := New(t)
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode %s data: %w", t, err)
	}
	env.Data = raw
	return env, nil
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedEnvelope)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, string(e.Type))
	}
	return nil
}

// Encode serializes the envelope for the wire.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses one wire frame into an Envelope. Unknown JSON fields are
// ignored for forward compatibility; missing id/type or an unknown type
// makes the frame unparseable.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
