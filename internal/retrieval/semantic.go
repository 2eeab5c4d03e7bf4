package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lumenchat/contextd/internal/index"
	"github.com/lumenchat/contextd/internal/types"
)

// recencyBoundary decides the ordering mode of a semantic result set: spreads
// wider than this order newest-first, tight clusters order by relevance.
const recencyBoundary = time.Hour

// searchStats aggregates per-query outcomes across one semantic pass.
type searchStats struct {
	queries        int
	matchedQueries int
	strongMatches  int
}

// semantic runs every search query through the vector index, two passes per
// query: the primary similarity threshold first, then the loosened related
// threshold when the primary pass comes back empty.
func (r *Retriever) semantic(ctx context.Context, conversationID string, queries []string, limit int) (*types.RetrievalResult, error) {
	if len(queries) == 0 {
		slog.Warn("semantic search requested without queries, falling back to recent summaries",
			"conversation_id", conversationID)
		return r.recentOnly(ctx, conversationID, nil, limit, "recent_fallback")
	}

	hits, stats, err := r.searchQueries(ctx, conversationID, queries, limit)
	if err != nil {
		// Vector-search trouble must not take retrieval down with it; the
		// turn still gets recency-based context.
		slog.Warn("semantic search failed, falling back to recent summaries",
			"conversation_id", conversationID, "error", err.Error())
		return r.recentOnly(ctx, conversationID, nil, limit, "recent_fallback")
	}

	ordered := orderSemanticResults(hits, r.now())
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	hasExact := false
	for _, hit := range ordered {
		if hit.Similarity >= r.similarityThreshold {
			hasExact = true
			break
		}
	}

	return &types.RetrievalResult{
		Summaries:       ordered,
		Method:          "semantic_search",
		HasExactMatches: hasExact,
		Confidence:      r.searchConfidence(ordered, stats, limit),
		Metadata: map[string]any{
			"queries":        stats.queries,
			"matchedQueries": stats.matchedQueries,
		},
	}, nil
}

// searchQueries embeds and searches each query and merges the hits, deduped
// by topic name with the best similarity kept.
func (r *Retriever) searchQueries(ctx context.Context, conversationID string, queries []string, limit int) ([]types.RetrievedSummary, searchStats, error) {
	stats := searchStats{queries: len(queries)}
	best := make(map[string]types.RetrievedSummary)

	for _, query := range queries {
		vec, err := r.index.EmbedQuery(ctx, query)
		if err != nil {
			return nil, stats, fmt.Errorf("failed to embed search query: %w", err)
		}

		hits, err := r.index.NearestNeighbors(ctx, conversationID, vec, index.SearchOptions{
			Limit:               limit,
			SimilarityThreshold: r.similarityThreshold,
		})
		if err != nil {
			return nil, stats, fmt.Errorf("failed to search summaries: %w", err)
		}
		if len(hits) > 0 {
			stats.strongMatches += len(hits)
		} else {
			// Loosened second pass picks up related material.
			hits, err = r.index.NearestNeighbors(ctx, conversationID, vec, index.SearchOptions{
				Limit:               limit,
				SimilarityThreshold: r.relatedThreshold,
			})
			if err != nil {
				return nil, stats, fmt.Errorf("failed to search related summaries: %w", err)
			}
		}
		if len(hits) > 0 {
			stats.matchedQueries++
		}

		for _, hit := range hits {
			key := strings.ToLower(strings.TrimSpace(hit.Topic))
			if existing, ok := best[key]; !ok || hit.Similarity > existing.Similarity {
				best[key] = hit
			}
		}
	}

	merged := make([]types.RetrievedSummary, 0, len(best))
	for _, hit := range best {
		merged = append(merged, hit)
	}
	return merged, stats, nil
}

// orderSemanticResults picks the presentation order. Results created close
// together rank by similarity; once the creation times spread past the
// boundary, newer context beats a marginally better match.
func orderSemanticResults(hits []types.RetrievedSummary, now time.Time) []types.RetrievedSummary {
	if len(hits) < 2 {
		return hits
	}

	oldest, newest := hits[0].CreatedAt, hits[0].CreatedAt
	for _, hit := range hits[1:] {
		if hit.CreatedAt.Before(oldest) {
			oldest = hit.CreatedAt
		}
		if hit.CreatedAt.After(newest) {
			newest = hit.CreatedAt
		}
	}

	if newest.Sub(oldest) > recencyBoundary {
		sort.SliceStable(hits, func(i, j int) bool {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		})
	} else {
		sort.SliceStable(hits, func(i, j int) bool {
			return hits[i].Similarity > hits[j].Similarity
		})
	}
	return hits
}

// searchConfidence blends the retrieval signals into one quality score. The
// score never decreases when the strong-match count grows.
func (r *Retriever) searchConfidence(hits []types.RetrievedSummary, stats searchStats, limit int) types.RetrievalConfidence {
	var avg float64
	strong := false
	for _, hit := range hits {
		avg += hit.Similarity
		if hit.Similarity >= r.similarityThreshold {
			strong = true
		}
	}
	if len(hits) > 0 {
		avg /= float64(len(hits))
	}

	matchRate := 0.0
	if stats.queries > 0 {
		matchRate = float64(stats.matchedQueries) / float64(stats.queries)
	}
	countRatio := float64(len(hits)) / float64(limit)
	if countRatio > 1 {
		countRatio = 1
	}
	strongRatio := float64(stats.strongMatches) / float64(limit)
	if strongRatio > 1 {
		strongRatio = 1
	}

	quality := 0.35*avg + 0.25*matchRate + 0.15*countRatio + 0.25*strongRatio
	if quality > 1 {
		quality = 1
	}
	return types.RetrievalConfidence{
		Quality:        quality,
		AvgSimilarity:  avg,
		HasStrongMatch: strong,
		ResultCount:    len(hits),
		QueryMatchRate: matchRate,
	}
}
