package intent

import (
	"encoding/json"
	"fmt"

	"github.com/lumenchat/contextd/internal/types"
)

// parseClassification decodes a structured-output response and normalizes it
// against the strategy rules. Even in structured-output mode the semantic
// rules are enforced deterministically here rather than trusted to the model.
func parseClassification(raw string) (types.IntentClassification, error) {
	var c types.IntentClassification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return types.IntentClassification{}, fmt.Errorf("failed to decode classification: %w", err)
	}
	if err := validateClassification(&c); err != nil {
		return types.IntentClassification{}, err
	}
	normalizeClassification(&c)
	return c, nil
}

func validateClassification(c *types.IntentClassification) error {
	if !c.Strategy.Known() {
		return fmt.Errorf("unknown retrieval strategy %q", c.Strategy)
	}
	switch c.Relevance {
	case types.RelevanceHigh, types.RelevanceMedium, types.RelevanceLow:
	default:
		return fmt.Errorf("unknown relevance tier %q", c.Relevance)
	}
	switch c.RelationToHistory {
	case types.RelationContinuation, types.RelationNewTopic,
		types.RelationClarification, types.RelationRecall:
	default:
		return fmt.Errorf("unknown history relation %q", c.RelationToHistory)
	}
	if c.Strategy == types.StrategyDateBasedSearch && c.DateQuery == "" {
		return fmt.Errorf("date_based_search without a date query")
	}
	return nil
}

// normalizeClassification applies the deterministic strategy rules.
func normalizeClassification(c *types.IntentClassification) {
	// Temporal precedence: a date query promotes any strategy to
	// date-based search.
	if c.DateQuery != "" && c.Strategy != types.StrategyDateBasedSearch {
		c.Strategy = types.StrategyDateBasedSearch
	}

	// Recall never maps to none.
	if c.RelationToHistory == types.RelationRecall && c.Strategy == types.StrategyNone {
		c.Strategy = types.StrategySemanticSearch
	}

	// Semantic search needs at least one query.
	if c.Strategy == types.StrategySemanticSearch && len(c.SearchQueries) == 0 {
		if len(c.KeyTopics) > 0 {
			c.SearchQueries = append(c.SearchQueries, c.KeyTopics...)
		} else if c.CurrentIntent != "" {
			c.SearchQueries = []string{c.CurrentIntent}
		}
	}

	if c.MaxItems <= 0 {
		c.MaxItems = 5
	}
	if c.MaxItems > 10 {
		c.MaxItems = 10
	}
}

// fallbackClassification is returned when the model cannot be reached or its
// output cannot be used. Intent analysis always produces a decision.
func fallbackClassification() types.IntentClassification {
	return types.IntentClassification{
		CurrentIntent:     "Continue the current conversation",
		Relevance:         types.RelevanceMedium,
		RelationToHistory: types.RelationContinuation,
		Strategy:          types.StrategyRecentOnly,
		MaxItems:          5,
	}
}
