package intent

import (
	"strings"

	"github.com/lumenchat/contextd/internal/types"
)

// Factor weights for the combined confidence score.
const (
	weightSearchQuality       = 0.3
	weightContextAvailability = 0.2
	weightQuerySpecificity    = 0.3
	weightHistoricalMatch     = 0.2
)

// neutralSearchQuality is the prior used before retrieval has run; the
// back-fill replaces it with the measured result quality.
const neutralSearchQuality = 0.5

// Thresholds map a score to its three-tier label. The back-fill path uses a
// slightly looser pair; both are configuration, not hard law.
type Thresholds struct {
	High   float64
	Medium float64
}

var (
	analysisThresholds = Thresholds{High: 0.75, Medium: 0.5}
	updateThresholds   = Thresholds{High: 0.7, Medium: 0.45}
)

// ContextStats is what was available when the analysis ran.
type ContextStats struct {
	Messages  int
	Summaries int
}

var recallIndicators = []string{
	"we talked about",
	"we discussed",
	"what did we say",
	"what did you say",
	"you mentioned",
	"you told me",
	"remember when",
	"last time",
	"tell me about",
	"remind me",
}

var questionWords = []string{"what", "when", "where", "who", "why", "how", "did ", "do you"}

// computeFactors derives the deterministic confidence factors for one
// classification. Search quality starts at the neutral prior and is
// back-filled after retrieval.
func computeFactors(c types.IntentClassification, stats ContextStats, message string) types.ConfidenceFactors {
	return types.ConfidenceFactors{
		SearchResultQuality: neutralSearchQuality,
		ContextAvailability: contextAvailability(stats),
		QuerySpecificity:    querySpecificity(c, message),
		HistoricalMatch:     historicalMatch(c),
	}
}

// contextAvailability grows with the amount of loadable history. Summaries
// weigh more than raw messages since each one stands for many turns.
func contextAvailability(stats ContextStats) float64 {
	score := float64(stats.Messages)*0.04 + float64(stats.Summaries)*0.1
	return clampScore(score)
}

func querySpecificity(c types.IntentClassification, message string) float64 {
	score := 0.3
	lower := strings.ToLower(message)

	for _, indicator := range recallIndicators {
		if strings.Contains(lower, indicator) {
			score += 0.25
			break
		}
	}
	if len(c.KeyTopics) > 0 {
		score += 0.2
	}
	if len(c.KeyTopics) > 2 {
		score += 0.05
	}
	for _, w := range questionWords {
		if strings.Contains(lower, w) {
			score += 0.15
			break
		}
	}
	return clampScore(score)
}

// historicalMatch is a prior on how likely the history actually holds what
// the user is after.
func historicalMatch(c types.IntentClassification) float64 {
	switch c.RelationToHistory {
	case types.RelationRecall:
		return 0.8
	case types.RelationClarification:
		return 0.5
	case types.RelationContinuation:
		return 0.4
	default:
		return 0.3
	}
}

// scoreFactors folds the factors into one weighted confidence value.
func scoreFactors(f types.ConfidenceFactors) float64 {
	score := f.SearchResultQuality*weightSearchQuality +
		f.ContextAvailability*weightContextAvailability +
		f.QuerySpecificity*weightQuerySpecificity +
		f.HistoricalMatch*weightHistoricalMatch
	return clampScore(score)
}

func levelFor(score float64, t Thresholds) types.ConfidenceLevel {
	switch {
	case score >= t.High:
		return types.ConfidenceHigh
	case score >= t.Medium:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

func clampScore(score float64) float64 {
	if score != score || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
