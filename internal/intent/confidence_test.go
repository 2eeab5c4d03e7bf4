package intent

import (
	"math"
	"testing"

	"github.com/lumenchat/contextd/internal/types"
)

func TestScoreFactorsWeights(t *testing.T) {
	f := types.ConfidenceFactors{
		SearchResultQuality: 1,
		ContextAvailability: 1,
		QuerySpecificity:    1,
		HistoricalMatch:     1,
	}
	if got := scoreFactors(f); got != 1 {
		t.Fatalf("all-ones factors must score 1, got %v", got)
	}
	f = types.ConfidenceFactors{SearchResultQuality: 1}
	if got := scoreFactors(f); math.Abs(got-weightSearchQuality) > 1e-9 {
		t.Fatalf("expected the search weight alone, got %v", got)
	}
}

func TestScoreMonotoneInSearchQuality(t *testing.T) {
	base := types.ConfidenceFactors{
		ContextAvailability: 0.5,
		QuerySpecificity:    0.5,
		HistoricalMatch:     0.5,
	}
	prev := -1.0
	for _, q := range []float64{0, 0.25, 0.5, 0.75, 1} {
		f := base
		f.SearchResultQuality = q
		score := scoreFactors(f)
		if score < prev {
			t.Fatalf("score must not drop as search quality rises: %v after %v", score, prev)
		}
		prev = score
	}
}

func TestLevelForThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  types.ConfidenceLevel
	}{
		{0.75, types.ConfidenceHigh},
		{0.74, types.ConfidenceMedium},
		{0.5, types.ConfidenceMedium},
		{0.49, types.ConfidenceLow},
		{0, types.ConfidenceLow},
	}
	for _, tc := range cases {
		if got := levelFor(tc.score, analysisThresholds); got != tc.want {
			t.Fatalf("score %v: expected %q, got %q", tc.score, tc.want, got)
		}
	}
	// The back-fill pair is looser at both cut points.
	if levelFor(0.7, updateThresholds) != types.ConfidenceHigh {
		t.Fatal("0.7 must be high under the back-fill thresholds")
	}
	if levelFor(0.45, updateThresholds) != types.ConfidenceMedium {
		t.Fatal("0.45 must be medium under the back-fill thresholds")
	}
}

func TestQuerySpecificityRecallIndicator(t *testing.T) {
	c := types.IntentClassification{}
	vague := querySpecificity(c, "hm ok")
	recall := querySpecificity(c, "remember when we set up the cluster")
	if recall <= vague {
		t.Fatalf("a recall phrasing must score higher: %v vs %v", recall, vague)
	}

	c.KeyTopics = []string{"cluster", "networking", "storage"}
	topical := querySpecificity(c, "remember when we set up the cluster")
	if topical <= recall {
		t.Fatalf("key topics must add specificity: %v vs %v", topical, recall)
	}
}

func TestContextAvailabilityGrowsAndClamps(t *testing.T) {
	empty := contextAvailability(ContextStats{})
	some := contextAvailability(ContextStats{Messages: 5, Summaries: 2})
	if empty != 0 {
		t.Fatalf("no context must score 0, got %v", empty)
	}
	if some <= empty {
		t.Fatalf("more context must score higher, got %v", some)
	}
	if full := contextAvailability(ContextStats{Messages: 100, Summaries: 50}); full != 1 {
		t.Fatalf("availability must clamp at 1, got %v", full)
	}
}

func TestHistoricalMatchOrdering(t *testing.T) {
	score := func(r types.HistoryRelation) float64 {
		return historicalMatch(types.IntentClassification{RelationToHistory: r})
	}
	if !(score(types.RelationRecall) > score(types.RelationClarification) &&
		score(types.RelationClarification) > score(types.RelationContinuation) &&
		score(types.RelationContinuation) > score(types.RelationNewTopic)) {
		t.Fatal("relation priors must rank recall > clarification > continuation > new_topic")
	}
}

func TestClampScoreHandlesNaN(t *testing.T) {
	if got := clampScore(math.NaN()); got != 0 {
		t.Fatalf("NaN must clamp to 0, got %v", got)
	}
	if got := clampScore(1.7); got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
	if got := clampScore(-0.2); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
}
