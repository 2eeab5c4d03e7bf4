// Package summarize compacts conversation history into retrievable topic
// summaries and tracks the background runs doing it.
package summarize

import (
	"context"
	"log/slog"
	"sync"
)

// Queue serializes summarization per conversation: at most one run per
// conversation at a time, with join semantics for callers that need the
// freshest summary set. It is mutual exclusion plus join, not a job queue —
// no retries, nothing survives a restart, and a second trigger while one is
// in flight is dropped rather than queued.
type Queue struct {
	mu       sync.Mutex
	active   map[string]bool
	inflight map[string]chan struct{}
}

// NewQueue returns an empty Queue. Construct one per process and inject it;
// tests create isolated instances.
func NewQueue() *Queue {
	return &Queue{
		active:   make(map[string]bool),
		inflight: make(map[string]chan struct{}),
	}
}

// IsActive reports whether a summarization run for the conversation has
// started and not yet settled.
func (q *Queue) IsActive(conversationID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active[conversationID]
}

// Start launches task in the background unless a run for the conversation is
// already in flight, in which case the call is a no-op. Task failures are
// swallowed here: background summarization must never propagate into the
// request path.
func (q *Queue) Start(conversationID string, task func(context.Context) error) {
	q.mu.Lock()
	if q.active[conversationID] {
		q.mu.Unlock()
		slog.Info("summarization already in flight, dropping trigger", "conversation_id", conversationID)
		return
	}
	done := make(chan struct{})
	q.active[conversationID] = true
	q.inflight[conversationID] = done
	q.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("summarization task panicked", "conversation_id", conversationID, "panic", r)
			}
			q.mu.Lock()
			delete(q.active, conversationID)
			delete(q.inflight, conversationID)
			q.mu.Unlock()
			close(done)
		}()

		// Detached from the request context on purpose: the caller's request
		// finishes without waiting for summarization.
		if err := task(context.Background()); err != nil {
			slog.Warn("summarization task failed", "conversation_id", conversationID, "error", err.Error())
		}
	}()
}

// Wait blocks until the in-flight run for the conversation settles, or
// returns immediately if none is running. Waiters only care about
// completion, not outcome.
func (q *Queue) Wait(ctx context.Context, conversationID string) {
	q.mu.Lock()
	done, ok := q.inflight[conversationID]
	q.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Status reports the conversation ids with an active flag and with a tracked
// in-flight run, for observability.
func (q *Queue) Status() (active, tracked []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id := range q.active {
		active = append(active, id)
	}
	for id := range q.inflight {
		tracked = append(tracked, id)
	}
	return active, tracked
}
