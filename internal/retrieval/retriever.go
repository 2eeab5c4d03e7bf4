// Package retrieval executes the context retrieval strategy chosen by intent
// analysis and reports how well the retrieval went.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumenchat/contextd/internal/index"
	"github.com/lumenchat/contextd/internal/timeparse"
	"github.com/lumenchat/contextd/internal/types"
)

// QueryIndex is the embedding-search slice of the topic index.
type QueryIndex interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	NearestNeighbors(ctx context.Context, conversationID string, queryVec []float32, opts index.SearchOptions) ([]types.RetrievedSummary, error)
}

// SummaryReader is the scan slice of the summary repository.
type SummaryReader interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]types.TopicSummary, error)
	Count(ctx context.Context, conversationID string) (int, error)
	ByDateWindow(ctx context.Context, conversationID string, start, end time.Time, limit int) ([]types.TopicSummary, error)
	ByLevelAsc(ctx context.Context, conversationID string, limit int) ([]types.TopicSummary, error)
}

// Retriever dispatches on the analyzed strategy and degrades to cheaper
// strategies when the requested one cannot run.
type Retriever struct {
	index               QueryIndex
	summaries           SummaryReader
	topK                int
	similarityThreshold float64
	relatedThreshold    float64
	now                 func() time.Time
}

// NewRetriever returns a Retriever. relatedThreshold is the loosened second
// pass used when nothing clears the primary similarity threshold.
func NewRetriever(queryIndex QueryIndex, summaries SummaryReader, topK int, similarityThreshold, relatedThreshold float64) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if similarityThreshold <= 0 {
		similarityThreshold = 0.7
	}
	if relatedThreshold <= 0 {
		relatedThreshold = 0.3
	}
	return &Retriever{
		index:               queryIndex,
		summaries:           summaries,
		topK:                topK,
		similarityThreshold: similarityThreshold,
		relatedThreshold:    relatedThreshold,
		now:                 time.Now,
	}
}

// Retrieve executes the strategy recorded on the analysis. The Method on the
// result is the strategy that actually ran, which differs from the requested
// one on fallback paths.
func (r *Retriever) Retrieve(ctx context.Context, conversationID string, analysis *types.IntentAnalysis) (*types.RetrievalResult, error) {
	total, err := r.summaries.Count(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count available summaries: %w", err)
	}

	c := analysis.Classification
	limit := c.MaxItems
	if limit <= 0 {
		limit = r.topK
	}

	var result *types.RetrievalResult
	switch c.Strategy {
	case types.StrategyNone:
		result = &types.RetrievalResult{Method: "none"}
	case types.StrategyRecentOnly:
		result, err = r.recentOnly(ctx, conversationID, c.KeyTopics, limit, "recent_only")
	case types.StrategySemanticSearch:
		result, err = r.semantic(ctx, conversationID, c.SearchQueries, limit)
	case types.StrategyDateBasedSearch:
		result, err = r.dateBased(ctx, conversationID, c, limit)
	case types.StrategyAllAvailable:
		result, err = r.allAvailable(ctx, conversationID, limit)
	default:
		slog.Warn("unknown retrieval strategy, falling back to recent summaries",
			"conversation_id", conversationID, "strategy", string(c.Strategy))
		result, err = r.recentOnly(ctx, conversationID, nil, limit, "recent_fallback")
	}
	if err != nil {
		return nil, err
	}

	result.TotalAvailable = total
	result.Retrieved = len(result.Summaries)
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	return result, nil
}

// recentOnly loads the newest summaries. When topics are given the load is
// filtered by a case-insensitive OR match over topic, summary text, and
// related topics; an empty filter result falls back to the unfiltered load so
// the turn never comes back context-free when context exists.
func (r *Retriever) recentOnly(ctx context.Context, conversationID string, topics []string, limit int, method string) (*types.RetrievalResult, error) {
	recent, err := r.summaries.Recent(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent summaries: %w", err)
	}

	selected := recent
	if len(topics) > 0 {
		filtered := filterByTopics(recent, topics)
		if len(filtered) > 0 {
			selected = filtered
		}
	}

	confidence := types.RetrievalConfidence{Quality: 0.5, ResultCount: len(selected)}
	if len(selected) == 0 {
		confidence.Quality = 0.3
	}
	return &types.RetrievalResult{
		Summaries:  asRetrieved(selected),
		Method:     method,
		Confidence: confidence,
	}, nil
}

// dateBased retrieves by creation-time window. When the analysis also names
// topics, a semantic pass runs in parallel and supplements the window hits,
// date results first. An unparseable date query degrades to recent summaries.
func (r *Retriever) dateBased(ctx context.Context, conversationID string, c types.IntentClassification, limit int) (*types.RetrievalResult, error) {
	parsed := timeparse.ParseAt(c.DateQuery, r.now())
	if !parsed.Valid {
		slog.Warn("failed to parse date query, falling back to recent summaries",
			"conversation_id", conversationID, "date_query", c.DateQuery, "reason", parsed.Err)
		result, err := r.recentOnly(ctx, conversationID, c.KeyTopics, limit, "recent_fallback")
		if err != nil {
			return nil, err
		}
		result.Metadata = map[string]any{"dateQuery": c.DateQuery, "dateParse": parsed.Err}
		return result, nil
	}

	end := parsed.End
	if c.IncludeHours {
		if now := r.now(); end.After(now) {
			end = now
		}
	}

	queries := c.SearchQueries
	if len(queries) == 0 {
		queries = c.KeyTopics
	}

	var (
		windowHits   []types.TopicSummary
		semanticHits []types.RetrievedSummary
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		windowHits, err = r.summaries.ByDateWindow(groupCtx, conversationID, parsed.Start, end, limit)
		if err != nil {
			return fmt.Errorf("failed to load summaries in date window: %w", err)
		}
		return nil
	})
	if len(queries) > 0 {
		group.Go(func() error {
			hits, _, err := r.searchQueries(groupCtx, conversationID, queries, limit)
			if err != nil {
				// The date window is the primary signal; a failed
				// supplement is not fatal.
				slog.Warn("semantic supplement failed during date retrieval",
					"conversation_id", conversationID, "error", err.Error())
				return nil
			}
			semanticHits = hits
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	merged := mergeDateFirst(windowHits, semanticHits, limit)
	confidence := types.RetrievalConfidence{
		Quality:     dateQuality(len(windowHits), limit),
		ResultCount: len(merged),
	}
	return &types.RetrievalResult{
		Summaries:  merged,
		Method:     "date_based_search",
		Confidence: confidence,
		Metadata: map[string]any{
			"windowStart": parsed.Start,
			"windowEnd":   end,
			"windowHits":  len(windowHits),
		},
	}, nil
}

func (r *Retriever) allAvailable(ctx context.Context, conversationID string, limit int) (*types.RetrievalResult, error) {
	// A recap request reads more than the per-turn cap.
	if limit < 10 {
		limit = 10
	}
	summaries, err := r.summaries.ByLevelAsc(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary corpus: %w", err)
	}
	return &types.RetrievalResult{
		Summaries:  asRetrieved(summaries),
		Method:     "all_available",
		Confidence: types.RetrievalConfidence{Quality: 0.7, ResultCount: len(summaries)},
	}, nil
}

// mergeDateFirst keeps the window hits in order and appends semantic
// supplements that add new summaries, up to limit.
func mergeDateFirst(windowHits []types.TopicSummary, semanticHits []types.RetrievedSummary, limit int) []types.RetrievedSummary {
	merged := asRetrieved(windowHits)
	seen := make(map[string]bool, len(merged))
	for _, hit := range merged {
		seen[hit.ID] = true
	}
	for _, hit := range semanticHits {
		if len(merged) >= limit {
			break
		}
		if seen[hit.ID] {
			continue
		}
		seen[hit.ID] = true
		merged = append(merged, hit)
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func dateQuality(windowHits, limit int) float64 {
	if windowHits == 0 {
		return 0.3
	}
	quality := 0.5 + float64(windowHits)/float64(limit)*0.4
	if quality > 0.9 {
		quality = 0.9
	}
	return quality
}

// filterByTopics keeps summaries matching any topic term in their topic name,
// body, or related topic list.
func filterByTopics(summaries []types.TopicSummary, topics []string) []types.TopicSummary {
	terms := make([]string, 0, len(topics))
	for _, topic := range topics {
		if t := strings.ToLower(strings.TrimSpace(topic)); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return summaries
	}

	var out []types.TopicSummary
	for _, summary := range summaries {
		haystack := strings.ToLower(summary.Topic + " " + summary.Summary + " " + strings.Join(summary.RelatedTopics, " "))
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				out = append(out, summary)
				break
			}
		}
	}
	return out
}

func asRetrieved(summaries []types.TopicSummary) []types.RetrievedSummary {
	out := make([]types.RetrievedSummary, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, types.RetrievedSummary{TopicSummary: summary})
	}
	return out
}
