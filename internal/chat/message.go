package chat

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message is one chat entry. Content mutates only while IsStreaming;
// once IsStreaming goes false it never goes true again for that id.
type Message struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Role        Role           `json:"role"`
	Model       string         `json:"model,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IsStreaming bool           `json:"isStreaming"`
}

// Settings carries per-session generation parameters, passed through to
// the backend on sendMessage.
type Settings struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}

// Usage is the backend's token accounting for a session, reported after
// each completed stream.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Session is an ordered chat transcript. Messages are append-only apart
// from in-place growth of the last streaming message.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Settings  Settings  `json:"settings"`
	Usage     Usage     `json:"usage"`
}

func cloneMessage(m Message) Message {
	out := m
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func cloneSession(s *Session) Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = cloneMessage(m)
	}
	return out
}
