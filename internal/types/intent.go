package types

import (
	"encoding/json"
	"time"
)

// RetrievalStrategy selects how historical context is loaded for a turn.
type RetrievalStrategy string

const (
	StrategyNone            RetrievalStrategy = "none"
	StrategyRecentOnly      RetrievalStrategy = "recent_only"
	StrategySemanticSearch  RetrievalStrategy = "semantic_search"
	StrategyDateBasedSearch RetrievalStrategy = "date_based_search"
	StrategyAllAvailable    RetrievalStrategy = "all_available"
)

// Known reports whether s is one of the five defined strategies.
func (s RetrievalStrategy) Known() bool {
	switch s {
	case StrategyNone, StrategyRecentOnly, StrategySemanticSearch,
		StrategyDateBasedSearch, StrategyAllAvailable:
		return true
	}
	return false
}

// RelevanceTier grades how much the new message depends on history.
type RelevanceTier string

const (
	RelevanceHigh   RelevanceTier = "high"
	RelevanceMedium RelevanceTier = "medium"
	RelevanceLow    RelevanceTier = "low"
)

// HistoryRelation tags how the message relates to prior turns.
type HistoryRelation string

const (
	RelationContinuation  HistoryRelation = "continuation"
	RelationNewTopic      HistoryRelation = "new_topic"
	RelationClarification HistoryRelation = "clarification"
	RelationRecall        HistoryRelation = "recall"
)

// IntentClassification is the structured result of one classification pass.
type IntentClassification struct {
	CurrentIntent         string            `json:"currentIntent"`
	Relevance             RelevanceTier     `json:"contextualRelevance"`
	RelationToHistory     HistoryRelation   `json:"relationshipToHistory"`
	KeyTopics             []string          `json:"keyTopics"`
	PendingQuestions      []string          `json:"pendingQuestions"`
	LastAssistantQuestion string            `json:"lastAssistantQuestion"`
	Strategy              RetrievalStrategy `json:"contextRetrievalStrategy"`
	SearchQueries         []string          `json:"searchQueries"`
	DateQuery             string            `json:"dateQuery"`
	IncludeHours          bool              `json:"includeHours"`
	MaxItems              int               `json:"maxItems"`
}

// ConfidenceLevel is the three-tier label derived from the weighted score.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// ConfidenceFactors are the sub-scores combined into one confidence value.
type ConfidenceFactors struct {
	SearchResultQuality float64 `json:"searchResultQuality"`
	ContextAvailability float64 `json:"contextAvailability"`
	QuerySpecificity    float64 `json:"querySpecificity"`
	HistoricalMatch     float64 `json:"historicalMatch"`
}

// IntentAnalysis is the persisted record of one turn's analysis. It is
// append-only except for the single confidence back-fill after retrieval.
type IntentAnalysis struct {
	ID              string
	ConversationID  string
	MessageID       string
	Classification  IntentClassification
	Confidence      float64
	ConfidenceLevel ConfidenceLevel
	Factors         ConfidenceFactors
	Raw             json.RawMessage
	CreatedAt       time.Time
}
