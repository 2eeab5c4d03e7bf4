// Package index provides conversation-scoped nearest-neighbor lookup over
// topic summary embeddings.
package index

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenchat/contextd/internal/embedding"
	"github.com/lumenchat/contextd/internal/timeparse"
	"github.com/lumenchat/contextd/internal/types"
	"github.com/lumenchat/contextd/internal/usage"
)

// SummarySearcher is the vector-search slice of the summary repository.
type SummarySearcher interface {
	SearchSimilar(ctx context.Context, conversationID string, embedding []float32, topK int, threshold float64, window *[2]time.Time, broaderTopics []string) ([]types.RetrievedSummary, error)
}

// TopicRef ties an accounted embedding to its origin.
type TopicRef struct {
	ConversationID string
	MessageID      string
	UserID         string
}

// SearchOptions tune one nearest-neighbor lookup.
type SearchOptions struct {
	Limit               int
	SimilarityThreshold float64
	// DateFilter is a natural-language time expression further narrowing
	// results by creation time.
	DateFilter    string
	IncludeHours  bool
	BroaderTopics []string
}

// Index embeds topics and queries and searches the summary corpus.
type Index struct {
	embedder  embedding.Embedder
	summaries SummarySearcher
	tracker   usage.Tracker
	model     string
	now       func() time.Time
}

// New returns an Index.
func New(embedder embedding.Embedder, summaries SummarySearcher, tracker usage.Tracker, model string) *Index {
	return &Index{
		embedder:  embedder,
		summaries: summaries,
		tracker:   tracker,
		model:     model,
		now:       time.Now,
	}
}

// EmbedQuery embeds a transient search query. No usage accounting: queries
// are not persisted and the cost is folded into the retrieval operation.
func (x *Index) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return x.embedder.EmbedQuery(ctx, text)
}

// EmbedTopic embeds text that will be persisted on a summary. The embedding
// is always cost-accounted, including on failure.
func (x *Index) EmbedTopic(ctx context.Context, text string, ref TopicRef) ([]float32, error) {
	started := x.now()
	vec, err := x.embedder.EmbedDocument(ctx, text)
	x.tracker.Track(ctx, usage.Record{
		ConversationID: ref.ConversationID,
		MessageID:      ref.MessageID,
		UserID:         ref.UserID,
		OperationType:  usage.OpEmbedding,
		Model:          x.model,
		InputTokens:    usage.EstimateTokens(text),
		Duration:       x.now().Sub(started),
		Success:        err == nil,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed topic: %w", err)
	}
	return vec, nil
}

// NearestNeighbors returns summaries ordered by cosine distance ascending,
// scoped to one conversation and optionally narrowed by a creation-time
// window and broader topic tags.
func (x *Index) NearestNeighbors(ctx context.Context, conversationID string, queryVec []float32, opts SearchOptions) ([]types.RetrievedSummary, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.7
	}

	var window *[2]time.Time
	if opts.DateFilter != "" {
		parsed := timeparse.ParseAt(opts.DateFilter, x.now())
		if !parsed.Valid {
			return nil, fmt.Errorf("invalid date filter %q: %s", opts.DateFilter, parsed.Err)
		}
		end := parsed.End
		if opts.IncludeHours {
			// Hour granularity: do not stretch the window past the clock.
			if now := x.now(); end.After(now) {
				end = now
			}
		}
		window = &[2]time.Time{parsed.Start, end}
	}

	return x.summaries.SearchSimilar(ctx, conversationID, queryVec, opts.Limit, opts.SimilarityThreshold, window, opts.BroaderTopics)
}
