package chat

import (
	"encoding/json"
	"fmt"
)

// Event sub-types observed on a session:<id> channel.
const (
	eventMessageStart = "messageStart"
	eventMessageChunk = "messageChunk"
	eventMessageEnd   = "messageEnd"
	eventUsageReport  = "usageReport"
)

// sessionEvent is the union wire shape for session-channel payloads.
type sessionEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`
	Model     string `json:"model,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Usage     *Usage `json:"usage,omitempty"`
}

func decodeSessionEvent(raw []byte) (sessionEvent, error) {
	var ev sessionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return sessionEvent{}, fmt.Errorf("chat: malformed session event: %w", err)
	}
	if ev.Type == "" {
		return sessionEvent{}, fmt.Errorf("chat: session event missing type")
	}
	return ev, nil
}

// SessionChannel names the reserved pub/sub channel for one session.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}
