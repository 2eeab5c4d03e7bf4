// Package usage records model usage for cost accounting.
package usage

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"
)

// Operation types recorded by the core.
const (
	OpEmbedding      = "embedding"
	OpIntentAnalysis = "intent_analysis"
	OpSummarization  = "summarization"
)

// Record is one accounted model call.
type Record struct {
	ConversationID string
	MessageID      string
	UserID         string
	OperationType  string
	Model          string
	InputTokens    int
	OutputTokens   int
	Duration       time.Duration
	Success        bool
	Metadata       map[string]any
}

// Tracker accounts usage. Implementations must never fail the caller.
type Tracker interface {
	Track(ctx context.Context, rec Record)
}

// RecordWriter persists usage records.
type RecordWriter interface {
	InsertUsage(ctx context.Context, rec Record) error
}

// RepoTracker writes records through a repository. Persistence failures are
// logged and dropped; accounting is fire-and-forget.
type RepoTracker struct {
	writer RecordWriter
}

// NewRepoTracker returns a RepoTracker.
func NewRepoTracker(writer RecordWriter) *RepoTracker {
	return &RepoTracker{writer: writer}
}

func (t *RepoTracker) Track(ctx context.Context, rec Record) {
	if t == nil || t.writer == nil {
		return
	}
	if err := t.writer.InsertUsage(ctx, rec); err != nil {
		slog.Warn("failed to persist usage record",
			"operation", rec.OperationType,
			"conversation_id", rec.ConversationID,
			"error", err.Error())
	}
}

// EstimateTokens approximates token counts for providers that do not report
// usage. Four characters per token is the usual rule of thumb.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}
