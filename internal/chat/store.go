package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tek-Fly/ide-mesh-suite/internal/logging"
)

var (
	ErrSessionNotFound = errors.New("chat: session not found")
	ErrStoreClosed     = errors.New("chat: store closed")
)

// Link is the slice of the bridge the store needs: correlated requests
// plus per-session channel subscriptions.
type Link interface {
	Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	Subscribe(channel string) (string, <-chan []byte, error)
	Unsubscribe(channel, subID string)
}

type attachment struct {
	subID string
}

// Store is the session state machine. All tables live behind one mutex;
// channel events arrive through one consumer goroutine per session, in
// channel delivery order, and the store never reorders them.
type Store struct {
	link    Link
	log     zerolog.Logger
	timeout time.Duration

	mu        sync.Mutex
	closed    bool
	sessions  map[string]*Session
	attached  map[string]attachment
	notifySeq int
	notifiers map[string]map[int]chan Message
}

func NewStore(link Link, requestTimeout time.Duration) *Store {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Store{
		link:      link,
		log:       logging.For("chat"),
		timeout:   requestTimeout,
		sessions:  make(map[string]*Session),
		attached:  make(map[string]attachment),
		notifiers: make(map[string]map[int]chan Message),
	}
}

type createSessionParams struct {
	Title    string   `json:"title,omitempty"`
	Settings Settings `json:"settings"`
}

type createSessionResult struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title,omitempty"`
}

// CreateSession registers a session with the backend, then tracks it
// locally and attaches to its event channel.
func (s *Store) CreateSession(ctx context.Context, title string, settings Settings) (Session, error) {
	raw, err := s.link.Request(ctx, "createSession", createSessionParams{Title: title, Settings: settings}, s.timeout)
	if err != nil {
		return Session{}, err
	}
	var res createSessionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Session{}, fmt.Errorf("chat: decode createSession result: %w", err)
	}
	if res.SessionID == "" {
		return Session{}, fmt.Errorf("chat: createSession result missing sessionId")
	}
	if res.Title != "" {
		title = res.Title
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        res.SessionID,
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Settings:  settings,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Session{}, ErrStoreClosed
	}
	s.sessions[sess.ID] = sess
	snapshot := cloneSession(sess)
	s.mu.Unlock()

	if err := s.attach(sess.ID); err != nil {
		s.log.Warn().Err(err).Str("session", sess.ID).Msg("session event channel unavailable")
	}
	return snapshot, nil
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}

// DeleteSession removes the session on the backend and locally. The
// local entry survives a failed request.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.link.Request(ctx, "deleteSession", sessionIDParams{SessionID: sessionID}, s.timeout); err != nil {
		return err
	}
	s.detach(sessionID)
	s.mu.Lock()
	delete(s.sessions, sessionID)
	for id, ch := range s.notifiers[sessionID] {
		delete(s.notifiers[sessionID], id)
		close(ch)
	}
	delete(s.notifiers, sessionID)
	s.mu.Unlock()
	return nil
}

// ClearSession truncates the transcript on the backend and locally.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	if _, err := s.link.Request(ctx, "clearSession", sessionIDParams{SessionID: sessionID}, s.timeout); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Messages = sess.Messages[:0]
	sess.Usage = Usage{}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

type sendMessageParams struct {
	SessionID string   `json:"sessionId"`
	MessageID string   `json:"messageId"`
	Content   string   `json:"content"`
	Settings  Settings `json:"settings"`
}

// SendMessage appends the user message optimistically, then issues the
// request; a failed request rolls the optimistic entry back instead of
// retrying.
func (s *Store) SendMessage(ctx context.Context, sessionID, content string) (Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, ErrStoreClosed
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	msg := Message{
		ID:        uuid.NewString(),
		Content:   content,
		Role:      RoleUser,
		Model:     sess.Settings.Model,
		Timestamp: time.Now().UTC(),
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = msg.Timestamp
	settings := sess.Settings
	s.mu.Unlock()
	s.notify(sessionID, msg)

	_, err := s.link.Request(ctx, "sendMessage", sendMessageParams{
		SessionID: sessionID,
		MessageID: msg.ID,
		Content:   content,
		Settings:  settings,
	}, s.timeout)
	if err != nil {
		s.rollbackMessage(sessionID, msg.ID)
		return Message{}, err
	}
	return msg, nil
}

// StopStreaming asks the backend to stop the in-flight generation for a
// session. The stream end still arrives as a messageEnd event.
func (s *Store) StopStreaming(ctx context.Context, sessionID string) error {
	_, err := s.link.Request(ctx, "stopGeneration", sessionIDParams{SessionID: sessionID}, s.timeout)
	return err
}

// ExportSession fetches the backend's copy of the transcript.
func (s *Store) ExportSession(ctx context.Context, sessionID string) (Session, error) {
	raw, err := s.link.Request(ctx, "exportSession", sessionIDParams{SessionID: sessionID}, s.timeout)
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("chat: decode exportSession result: %w", err)
	}
	return sess, nil
}

// ImportSession registers an existing transcript with the backend and
// starts tracking it locally under the id the backend assigns.
func (s *Store) ImportSession(ctx context.Context, sess Session) (Session, error) {
	raw, err := s.link.Request(ctx, "importSession", sess, s.timeout)
	if err != nil {
		return Session{}, err
	}
	var res createSessionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Session{}, fmt.Errorf("chat: decode importSession result: %w", err)
	}
	if res.SessionID == "" {
		return Session{}, fmt.Errorf("chat: importSession result missing sessionId")
	}
	sess.ID = res.SessionID
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Session{}, ErrStoreClosed
	}
	stored := cloneSession(&sess)
	s.sessions[sess.ID] = &stored
	snapshot := cloneSession(&stored)
	s.mu.Unlock()

	if err := s.attach(sess.ID); err != nil {
		s.log.Warn().Err(err).Str("session", sess.ID).Msg("session event channel unavailable")
	}
	return snapshot, nil
}

// ResumeSession re-adopts a session the backend already knows: the
// transcript is fetched and tracked locally, and the session's event
// channel is attached so streaming picks up where it left off.
func (s *Store) ResumeSession(ctx context.Context, sessionID string) (Session, error) {
	sess, err := s.ExportSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.ID == "" {
		sess.ID = sessionID
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Session{}, ErrStoreClosed
	}
	stored := cloneSession(&sess)
	s.sessions[sess.ID] = &stored
	snapshot := cloneSession(&stored)
	_, alreadyAttached := s.attached[sess.ID]
	s.mu.Unlock()

	if !alreadyAttached {
		if err := s.attach(sess.ID); err != nil {
			s.log.Warn().Err(err).Str("session", sess.ID).Msg("session event channel unavailable")
		}
	}
	return snapshot, nil
}

// Session returns a deep-copied snapshot.
func (s *Store) Session(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return cloneSession(sess), true
}

// Sessions lists snapshots ordered by creation time, then id.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Watch returns a message notification stream for one session. Every
// mutation of a message re-emits its updated snapshot, so observers see
// streamed content grow incrementally.
func (s *Store) Watch(sessionID string) (<-chan Message, func()) {
	ch := make(chan Message, 64)
	s.mu.Lock()
	s.notifySeq++
	id := s.notifySeq
	if s.notifiers[sessionID] == nil {
		s.notifiers[sessionID] = make(map[int]chan Message)
	}
	s.notifiers[sessionID][id] = ch
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		if set, ok := s.notifiers[sessionID]; ok {
			if w, ok := set[id]; ok {
				delete(set, id)
				close(w)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Close detaches every session channel and closes every notifier.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	attached := make(map[string]attachment, len(s.attached))
	for id, a := range s.attached {
		attached[id] = a
		delete(s.attached, id)
	}
	for sid, set := range s.notifiers {
		for id, ch := range set {
			delete(set, id)
			close(ch)
		}
		delete(s.notifiers, sid)
	}
	s.mu.Unlock()
	for sid, a := range attached {
		s.link.Unsubscribe(SessionChannel(sid), a.subID)
	}
}

func (s *Store) attach(sessionID string) error {
	subID, stream, err := s.link.Subscribe(SessionChannel(sessionID))
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.link.Unsubscribe(SessionChannel(sessionID), subID)
		return ErrStoreClosed
	}
	s.attached[sessionID] = attachment{subID: subID}
	s.mu.Unlock()
	go s.consume(sessionID, stream)
	return nil
}

func (s *Store) detach(sessionID string) {
	s.mu.Lock()
	a, ok := s.attached[sessionID]
	if ok {
		delete(s.attached, sessionID)
	}
	s.mu.Unlock()
	if ok {
		s.link.Unsubscribe(SessionChannel(sessionID), a.subID)
	}
}

// consume applies channel events in delivery order until the fan-out
// stream closes.
func (s *Store) consume(sessionID string, stream <-chan []byte) {
	for raw := range stream {
		s.HandleEvent(sessionID, raw)
	}
}

// HandleEvent applies one session-channel payload to the state machine.
func (s *Store) HandleEvent(sessionID string, raw []byte) {
	ev, err := decodeSessionEvent(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("session", sessionID).Msg("dropping session event")
		return
	}
	switch ev.Type {
	case eventMessageStart:
		s.applyMessageStart(sessionID, ev)
	case eventMessageChunk:
		s.applyMessageChunk(sessionID, ev)
	case eventMessageEnd:
		s.applyMessageEnd(sessionID, ev)
	case eventUsageReport:
		s.applyUsageReport(sessionID, ev)
	default:
		s.log.Debug().Str("session", sessionID).Str("type", ev.Type).Msg("ignoring unknown session event")
	}
}

func (s *Store) applyMessageStart(sessionID string, ev sessionEvent) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		s.log.Debug().Str("session", sessionID).Msg("messageStart for unknown session")
		return
	}
	if idx := indexOfMessage(sess, ev.MessageID); idx >= 0 {
		s.mu.Unlock()
		s.log.Debug().Str("message", ev.MessageID).Msg("messageStart for existing message ignored")
		return
	}
	msg := Message{
		ID:          ev.MessageID,
		Role:        RoleAssistant,
		Model:       ev.Model,
		Timestamp:   time.Now().UTC(),
		IsStreaming: true,
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = msg.Timestamp
	s.mu.Unlock()
	s.notify(sessionID, msg)
}

func (s *Store) applyMessageChunk(sessionID string, ev sessionEvent) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	idx := indexOfMessage(sess, ev.MessageID)
	if idx < 0 || !sess.Messages[idx].IsStreaming {
		s.mu.Unlock()
		s.log.Debug().Str("message", ev.MessageID).Msg("chunk for unknown or finalized message ignored")
		return
	}
	sess.Messages[idx].Content += ev.Chunk
	sess.UpdatedAt = time.Now().UTC()
	snapshot := cloneMessage(sess.Messages[idx])
	s.mu.Unlock()
	s.notify(sessionID, snapshot)
}

func (s *Store) applyMessageEnd(sessionID string, ev sessionEvent) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	idx := indexOfMessage(sess, ev.MessageID)
	if idx < 0 || !sess.Messages[idx].IsStreaming {
		// Idempotent: a repeated end changes nothing.
		s.mu.Unlock()
		return
	}
	sess.Messages[idx].IsStreaming = false
	sess.UpdatedAt = time.Now().UTC()
	snapshot := cloneMessage(sess.Messages[idx])
	s.mu.Unlock()
	s.notify(sessionID, snapshot)
}

func (s *Store) applyUsageReport(sessionID string, ev sessionEvent) {
	if ev.Usage == nil {
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess.Usage = *ev.Usage
	sess.UpdatedAt = time.Now().UTC()
	var snapshot Message
	notifyIdx := -1
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == RoleAssistant {
			if sess.Messages[i].Metadata == nil {
				sess.Messages[i].Metadata = make(map[string]any, 1)
			}
			sess.Messages[i].Metadata["usage"] = *ev.Usage
			snapshot = cloneMessage(sess.Messages[i])
			notifyIdx = i
			break
		}
	}
	s.mu.Unlock()
	if notifyIdx >= 0 {
		s.notify(sessionID, snapshot)
	}
}

func (s *Store) rollbackMessage(sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	idx := indexOfMessage(sess, messageID)
	if idx < 0 {
		return
	}
	sess.Messages = append(sess.Messages[:idx], sess.Messages[idx+1:]...)
	sess.UpdatedAt = time.Now().UTC()
	s.log.Debug().Str("session", sessionID).Str("message", messageID).Msg("rolled back optimistic message")
}

// notify re-emits one message snapshot on every watcher of the session.
// Sends happen under the mutex so they cannot race a watcher close; a
// full watcher sheds its oldest entry rather than blocking the caller.
func (s *Store) notify(sessionID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.notifiers[sessionID] {
		select {
		case ch <- msg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

func indexOfMessage(sess *Session, messageID string) int {
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}
