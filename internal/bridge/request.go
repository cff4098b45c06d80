package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tek-Fly/ide-mesh-suite/internal/protocol"
)

type requestBody struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type requestOutcome struct {
	data json.RawMessage
	err  error
}

// pendingRequest is a single-fulfillment completion handle. The entry is
// removed from the table exactly once, by matching response, deadline,
// caller cancellation or bridge teardown; the buffered result channel
// makes the one delivery non-blocking.
type pendingRequest struct {
	method string
	result chan requestOutcome
	timer  *time.Timer
}

// Request sends a correlated request and waits for its response, its
// deadline, caller cancellation or bridge disposal, whichever fires
// first. A timeout of zero uses the configured default. Failed requests
// are never resent; retry policy belongs to the caller.
func (b *Bridge) Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}
	env, err := protocol.NewWithData(protocol.TypeRequest, requestBody{Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	pr := &pendingRequest{
		method: method,
		result: make(chan requestOutcome, 1),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBridgeClosed
	}
	b.pending[env.ID] = pr
	pr.timer = time.AfterFunc(timeout, func() {
		b.failPending(env.ID, ErrRequestTimeout)
	})
	b.mu.Unlock()

	_ = b.Send(env)

	select {
	case out := <-pr.result:
		return out.data, out.err
	case <-ctx.Done():
		b.failPending(env.ID, ErrRequestCancelled)
		// The completion may have raced the cancellation; take whichever
		// single outcome was delivered.
		out := <-pr.result
		if out.err == ErrRequestCancelled {
			return nil, ctx.Err()
		}
		return out.data, out.err
	}
}

// handleResponse resolves the matching pending entry. A response for an
// already-resolved id is logged and ignored.
func (b *Bridge) handleResponse(env protocol.Envelope) {
	b.mu.Lock()
	pr, ok := b.pending[env.ID]
	if ok {
		delete(b.pending, env.ID)
	}
	b.mu.Unlock()
	if !ok {
		b.log.Debug().Str("id", env.ID).Msg("ignoring response for unknown or resolved request")
		return
	}
	pr.timer.Stop()
	if env.Error != "" {
		requestOutcomes.WithLabelValues(b.cfg.Name, "rejected").Inc()
		pr.result <- requestOutcome{err: fmt.Errorf("%w: %s", ErrRequestRejected, env.Error)}
		return
	}
	requestOutcomes.WithLabelValues(b.cfg.Name, "ok").Inc()
	pr.result <- requestOutcome{data: env.Data}
}

func (b *Bridge) failPending(id string, cause error) {
	b.mu.Lock()
	pr, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	pr.timer.Stop()
	requestOutcomes.WithLabelValues(b.cfg.Name, outcomeLabel(cause)).Inc()
	pr.result <- requestOutcome{err: cause}
}

// failAllPendingLocked walks the full table on teardown.
func (b *Bridge) failAllPendingLocked(cause error) {
	for id, pr := range b.pending {
		delete(b.pending, id)
		pr.timer.Stop()
		requestOutcomes.WithLabelValues(b.cfg.Name, outcomeLabel(cause)).Inc()
		pr.result <- requestOutcome{err: cause}
	}
}

func (b *Bridge) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func outcomeLabel(cause error) string {
	switch cause {
	case ErrRequestTimeout:
		return "timeout"
	case ErrRequestCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}
