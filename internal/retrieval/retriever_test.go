package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumenchat/contextd/internal/index"
	"github.com/lumenchat/contextd/internal/types"
)

func analysisWith(c types.IntentClassification) *types.IntentAnalysis {
	return &types.IntentAnalysis{ID: "an-1", Classification: c}
}

func summary(id, topic string, createdAt time.Time) types.TopicSummary {
	return types.TopicSummary{ID: id, Topic: topic, Summary: "about " + topic, CreatedAt: createdAt}
}

func hit(id, topic string, similarity float64, createdAt time.Time) types.RetrievedSummary {
	return types.RetrievedSummary{TopicSummary: summary(id, topic, createdAt), Similarity: similarity}
}

func newTestRetriever(idx *mockIndex, sums *mockSummaries) *Retriever {
	return NewRetriever(idx, sums, 5, 0.7, 0.3)
}

func TestRetrieveNoneReturnsEmptyWithTotal(t *testing.T) {
	sums := &mockSummaries{count: 7}
	r := newTestRetriever(&mockIndex{}, sums)

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy: types.StrategyNone,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Summaries) != 0 || result.Retrieved != 0 {
		t.Fatalf("expected an empty result, got %d summaries", len(result.Summaries))
	}
	if result.TotalAvailable != 7 {
		t.Fatalf("expected total availability to be reported, got %d", result.TotalAvailable)
	}
	if result.Method != "none" {
		t.Fatalf("unexpected method %q", result.Method)
	}
}

func TestRecentOnlyFiltersByTopics(t *testing.T) {
	now := time.Now()
	sums := &mockSummaries{recent: []types.TopicSummary{
		summary("s1", "kubernetes networking", now),
		summary("s2", "weekend plans", now),
		summary("s3", "cluster storage", now),
	}}
	r := newTestRetriever(&mockIndex{}, sums)

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy:  types.StrategyRecentOnly,
		KeyTopics: []string{"cluster", "networking"},
		MaxItems:  5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Summaries) != 2 {
		t.Fatalf("expected 2 topic matches, got %d", len(result.Summaries))
	}
	for _, s := range result.Summaries {
		if s.ID == "s2" {
			t.Fatal("unrelated summary survived the topic filter")
		}
	}
}

func TestRecentOnlyEmptyFilterFallsBackToUnfiltered(t *testing.T) {
	sums := &mockSummaries{recent: []types.TopicSummary{
		summary("s1", "weekend plans", time.Now()),
	}}
	r := newTestRetriever(&mockIndex{}, sums)

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy:  types.StrategyRecentOnly,
		KeyTopics: []string{"databases"},
		MaxItems:  5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Summaries) != 1 {
		t.Fatal("a fruitless topic filter must not drop available context")
	}
}

func TestSemanticRecencyWinsAcrossBoundary(t *testing.T) {
	// A stronger but 3-hour-old match versus a weaker 10-minute-old one:
	// the creation times spread past an hour, so the newer one leads.
	now := time.Now()
	idx := &mockIndex{responses: [][]types.RetrievedSummary{{
		hit("old", "database migration", 0.9, now.Add(-3*time.Hour)),
		hit("new", "migration rollback", 0.5, now.Add(-10*time.Minute)),
	}}}
	r := newTestRetriever(idx, &mockSummaries{})

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy:      types.StrategySemanticSearch,
		SearchQueries: []string{"migration"},
		MaxItems:      5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summaries[0].ID != "new" {
		t.Fatalf("expected the newer summary first, got %q", result.Summaries[0].ID)
	}
}

func TestSemanticRelevanceWinsInsideBoundary(t *testing.T) {
	now := time.Now()
	idx := &mockIndex{responses: [][]types.RetrievedSummary{{
		hit("weak", "migration rollback", 0.5, now.Add(-30*time.Minute)),
		hit("strong", "database migration", 0.9, now.Add(-50*time.Minute)),
	}}}
	r := newTestRetriever(idx, &mockSummaries{})

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy:      types.StrategySemanticSearch,
		SearchQueries: []string{"migration"},
		MaxItems:      5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summaries[0].ID != "strong" {
		t.Fatalf("expected the stronger match first inside the boundary, got %q", result.Summaries[0].ID)
	}
	if !result.HasExactMatches {
		t.Fatal("a 0.9 similarity hit must count as an exact match")
	}
}

func TestSemanticSecondPassLoosensThreshold(t *testing.T) {
	now := time.Now()
	idx := &mockIndex{responses: [][]types.RetrievedSummary{
		{}, // primary pass finds nothing
		{hit("rel", "adjacent topic", 0.45, now)},
	}}
	r := newTestRetriever(idx, &mockSummaries{})

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy:      types.StrategySemanticSearch,
		SearchQueries: []string{"something niche"},
		MaxItems:      5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.calls) != 2 {
		t.Fatalf("expected two search passes, got %d", len(idx.calls))
	}
	if idx.calls[0].SimilarityThreshold != 0.7 || idx.calls[1].SimilarityThreshold != 0.3 {
		t.Fatalf("unexpected thresholds: %v then %v", idx.calls[0].SimilarityThreshold, idx.calls[1].SimilarityThreshold)
	}
	if len(result.Summaries) != 1 || result.Summaries[0].ID != "rel" {
		t.Fatalf("expected the related hit, got %+v", result.Summaries)
	}
	if result.HasExactMatches {
		t.Fatal("a loosened-pass hit is not an exact match")
	}
}

func TestSemanticDedupKeepsBestSimilarity(t *testing.T) {
	now := time.Now()
	idx := &mockIndex{responses: [][]types.RetrievedSummary{
		{hit("s1", "Database Migration", 0.72, now)},
		{hit("s1", "database migration", 0.85, now)},
	}}
	r := newTestRetriever(idx, &mockSummaries{})

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy:      types.StrategySemanticSearch,
		SearchQueries: []string{"migration", "database"},
		MaxItems:      5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Summaries) != 1 {
		t.Fatalf("expected topic-name dedup, got %d results", len(result.Summaries))
	}
	if result.Summaries[0].Similarity != 0.85 {
		t.Fatalf("expected the best similarity to survive dedup, got %v", result.Summaries[0].Similarity)
	}
}

func TestSemanticIndexFailureFallsBackToRecent(t *testing.T) {
	cases := map[string]*mockIndex{
		"embed failure":  {embedErr: errors.New("embedding provider down")},
		"search failure": {searchErr: errors.New("vector search down")},
	}
	for name, idx := range cases {
		sums := &mockSummaries{recent: []types.TopicSummary{summary("s1", "recent context", time.Now())}}
		r := newTestRetriever(idx, sums)

		result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
			Strategy:      types.StrategySemanticSearch,
			SearchQueries: []string{"migration"},
			MaxItems:      5,
		}))
		if err != nil {
			t.Fatalf("%s: a vector failure must degrade, not fail the retrieval: %v", name, err)
		}
		if result.Method != "recent_fallback" {
			t.Fatalf("%s: expected recent fallback, got %q", name, result.Method)
		}
		if len(result.Summaries) != 1 || result.Summaries[0].ID != "s1" {
			t.Fatalf("%s: the fallback must surface recent context, got %+v", name, result.Summaries)
		}
	}
}

func TestSemanticWithoutQueriesFallsBack(t *testing.T) {
	sums := &mockSummaries{recent: []types.TopicSummary{summary("s1", "anything", time.Now())}}
	r := newTestRetriever(&mockIndex{}, sums)

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy: types.StrategySemanticSearch,
		MaxItems: 5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Method != "recent_fallback" {
		t.Fatalf("expected recent fallback, got %q", result.Method)
	}
}

func TestDateBasedMergesDateFirst(t *testing.T) {
	now := time.Now()
	sums := &mockSummaries{window: []types.TopicSummary{
		summary("d1", "standup notes", now.Add(-2*time.Hour)),
	}}
	idx := &mockIndex{responses: [][]types.RetrievedSummary{{
		hit("d1", "standup notes", 0.8, now.Add(-2*time.Hour)),
		hit("x1", "sprint retro", 0.75, now.Add(-26*time.Hour)),
	}}}
	r := newTestRetriever(idx, sums)

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy:      types.StrategyDateBasedSearch,
		DateQuery:     "today",
		SearchQueries: []string{"standup"},
		MaxItems:      5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Method != "date_based_search" {
		t.Fatalf("unexpected method %q", result.Method)
	}
	if len(result.Summaries) != 2 {
		t.Fatalf("expected window hit plus deduped supplement, got %d", len(result.Summaries))
	}
	if result.Summaries[0].ID != "d1" || result.Summaries[1].ID != "x1" {
		t.Fatalf("expected date-first ordering, got %q then %q", result.Summaries[0].ID, result.Summaries[1].ID)
	}
	if len(sums.windowCalls) != 1 {
		t.Fatalf("expected one window query, got %d", len(sums.windowCalls))
	}
}

func TestDateBasedInvalidQueryFallsBack(t *testing.T) {
	sums := &mockSummaries{recent: []types.TopicSummary{summary("s1", "anything", time.Now())}}
	r := newTestRetriever(&mockIndex{}, sums)

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy:  types.StrategyDateBasedSearch,
		DateQuery: "last 45 days",
		MaxItems:  5,
	}))
	if err != nil {
		t.Fatalf("a bad date query must degrade, not fail: %v", err)
	}
	if result.Method != "recent_fallback" {
		t.Fatalf("expected recent fallback, got %q", result.Method)
	}
	if len(result.Summaries) != 1 {
		t.Fatal("the fallback must still surface recent context")
	}
}

func TestAllAvailableReadsByLevel(t *testing.T) {
	sums := &mockSummaries{byLevel: []types.TopicSummary{
		summary("l1", "early days", time.Now().Add(-72*time.Hour)),
		summary("l2", "recent work", time.Now()),
	}}
	r := newTestRetriever(&mockIndex{}, sums)

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy: types.StrategyAllAvailable,
		MaxItems: 10,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Method != "all_available" || len(result.Summaries) != 2 {
		t.Fatalf("unexpected result: method %q, %d summaries", result.Method, len(result.Summaries))
	}
}

func TestUnknownStrategyFallsBackToRecent(t *testing.T) {
	sums := &mockSummaries{recent: []types.TopicSummary{summary("s1", "anything", time.Now())}}
	r := newTestRetriever(&mockIndex{}, sums)

	result, err := r.Retrieve(context.Background(), "conv-1", analysisWith(types.IntentClassification{
		Strategy: types.RetrievalStrategy("mystery"),
		MaxItems: 5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Method != "recent_fallback" {
		t.Fatalf("expected recent fallback, got %q", result.Method)
	}
}

func TestSearchConfidenceMonotoneInStrongMatches(t *testing.T) {
	r := newTestRetriever(&mockIndex{}, &mockSummaries{})
	hits := []types.RetrievedSummary{hit("s1", "topic", 0.8, time.Now())}

	prev := -1.0
	for strong := 0; strong <= 5; strong++ {
		conf := r.searchConfidence(hits, searchStats{queries: 1, matchedQueries: 1, strongMatches: strong}, 5)
		if conf.Quality < prev {
			t.Fatalf("quality dropped from %v to %v as strong matches rose to %d", prev, conf.Quality, strong)
		}
		prev = conf.Quality
	}
}

// --- mocks ---

// mockIndex replays nearest-neighbor responses in call order; calls past the
// scripted list return nothing.
type mockIndex struct {
	responses [][]types.RetrievedSummary
	calls     []index.SearchOptions
	embedErr  error
	searchErr error
}

func (m *mockIndex) EmbedQuery(context.Context, string) ([]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return []float32{0.1, 0.2}, nil
}

func (m *mockIndex) NearestNeighbors(_ context.Context, _ string, _ []float32, opts index.SearchOptions) ([]types.RetrievedSummary, error) {
	idx := len(m.calls)
	m.calls = append(m.calls, opts)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if idx >= len(m.responses) {
		return nil, nil
	}
	return m.responses[idx], nil
}

type mockSummaries struct {
	recent      []types.TopicSummary
	window      []types.TopicSummary
	byLevel     []types.TopicSummary
	count       int
	windowCalls [][2]time.Time
}

func (m *mockSummaries) Recent(_ context.Context, _ string, limit int) ([]types.TopicSummary, error) {
	if len(m.recent) > limit {
		return m.recent[:limit], nil
	}
	return m.recent, nil
}

func (m *mockSummaries) Count(context.Context, string) (int, error) {
	if m.count > 0 {
		return m.count, nil
	}
	return len(m.recent) + len(m.window) + len(m.byLevel), nil
}

func (m *mockSummaries) ByDateWindow(_ context.Context, _ string, start, end time.Time, _ int) ([]types.TopicSummary, error) {
	m.windowCalls = append(m.windowCalls, [2]time.Time{start, end})
	return m.window, nil
}

func (m *mockSummaries) ByLevelAsc(_ context.Context, _ string, _ int) ([]types.TopicSummary, error) {
	return m.byLevel, nil
}
