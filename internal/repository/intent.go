package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenchat/contextd/internal/types"
)

// intentAnalysisModel maps to the intent_analyses table. Rows are append-only
// except for the one confidence back-fill after retrieval.
type intentAnalysisModel struct {
	ID                    string
	ConversationID        string
	MessageID             string
	CurrentIntent         string
	Relevance             string
	RelationToHistory     string
	KeyTopics             json.RawMessage `gorm:"type:jsonb"`
	PendingQuestions      json.RawMessage `gorm:"type:jsonb"`
	LastAssistantQuestion string
	Strategy              string
	SearchQueries         json.RawMessage `gorm:"type:jsonb"`
	DateQuery             string
	IncludeHours          bool
	MaxItems              int
	Confidence            float64
	ConfidenceLevel       string
	Factors               json.RawMessage `gorm:"type:jsonb"`
	Raw                   json.RawMessage `gorm:"type:jsonb"`
	CreatedAt             time.Time
}

func (intentAnalysisModel) TableName() string {
	return "intent_analyses"
}

// IntentRepo accesses intent analysis data.
type IntentRepo struct {
	db *gorm.DB
}

// NewIntentRepo returns an IntentRepo.
func NewIntentRepo(db *gorm.DB) *IntentRepo {
	return &IntentRepo{db: db}
}

// Insert persists an analysis, filling in its id and creation time.
func (r *IntentRepo) Insert(ctx context.Context, analysis *types.IntentAnalysis) error {
	keyTopics, err := marshalJSON(analysis.Classification.KeyTopics)
	if err != nil {
		return fmt.Errorf("failed to encode key topics: %w", err)
	}
	pending, err := marshalJSON(analysis.Classification.PendingQuestions)
	if err != nil {
		return fmt.Errorf("failed to encode pending questions: %w", err)
	}
	queries, err := marshalJSON(analysis.Classification.SearchQueries)
	if err != nil {
		return fmt.Errorf("failed to encode search queries: %w", err)
	}
	factors, err := marshalJSON(analysis.Factors)
	if err != nil {
		return fmt.Errorf("failed to encode confidence factors: %w", err)
	}

	record := intentAnalysisModel{
		ID:                    uuid.NewString(),
		ConversationID:        analysis.ConversationID,
		MessageID:             analysis.MessageID,
		CurrentIntent:         analysis.Classification.CurrentIntent,
		Relevance:             string(analysis.Classification.Relevance),
		RelationToHistory:     string(analysis.Classification.RelationToHistory),
		KeyTopics:             keyTopics,
		PendingQuestions:      pending,
		LastAssistantQuestion: analysis.Classification.LastAssistantQuestion,
		Strategy:              string(analysis.Classification.Strategy),
		SearchQueries:         queries,
		DateQuery:             analysis.Classification.DateQuery,
		IncludeHours:          analysis.Classification.IncludeHours,
		MaxItems:              analysis.Classification.MaxItems,
		Confidence:            analysis.Confidence,
		ConfidenceLevel:       string(analysis.ConfidenceLevel),
		Factors:               factors,
		Raw:                   analysis.Raw,
		CreatedAt:             time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert intent analysis: %w", err)
	}
	analysis.ID = record.ID
	analysis.CreatedAt = record.CreatedAt
	return nil
}

// Latest returns the most recent analysis of a conversation, or nil when none
// exists yet.
func (r *IntentRepo) Latest(ctx context.Context, conversationID string) (*types.IntentAnalysis, error) {
	var record intentAnalysisModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest intent analysis: %w", err)
	}
	analysis := intentFromModel(record)
	return &analysis, nil
}

// UpdateConfidence patches the confidence fields of an existing analysis.
// This is the single permitted mutation on the row.
func (r *IntentRepo) UpdateConfidence(ctx context.Context, id string, confidence float64, level types.ConfidenceLevel, factors types.ConfidenceFactors) error {
	encoded, err := marshalJSON(factors)
	if err != nil {
		return fmt.Errorf("failed to encode confidence factors: %w", err)
	}
	err = r.db.WithContext(ctx).
		Model(&intentAnalysisModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"confidence":       confidence,
			"confidence_level": string(level),
			"factors":          encoded,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update intent confidence: %w", err)
	}
	return nil
}

func intentFromModel(model intentAnalysisModel) types.IntentAnalysis {
	var keyTopics, pending, queries []string
	var factors types.ConfidenceFactors
	_ = unmarshalJSON(model.KeyTopics, &keyTopics)
	_ = unmarshalJSON(model.PendingQuestions, &pending)
	_ = unmarshalJSON(model.SearchQueries, &queries)
	_ = unmarshalJSON(model.Factors, &factors)

	return types.IntentAnalysis{
		ID:             model.ID,
		ConversationID: model.ConversationID,
		MessageID:      model.MessageID,
		Classification: types.IntentClassification{
			CurrentIntent:         model.CurrentIntent,
			Relevance:             types.RelevanceTier(model.Relevance),
			RelationToHistory:     types.HistoryRelation(model.RelationToHistory),
			KeyTopics:             keyTopics,
			PendingQuestions:      pending,
			LastAssistantQuestion: model.LastAssistantQuestion,
			Strategy:              types.RetrievalStrategy(model.Strategy),
			SearchQueries:         queries,
			DateQuery:             model.DateQuery,
			IncludeHours:          model.IncludeHours,
			MaxItems:              model.MaxItems,
		},
		Confidence:      model.Confidence,
		ConfidenceLevel: types.ConfidenceLevel(model.ConfidenceLevel),
		Factors:         factors,
		Raw:             model.Raw,
		CreatedAt:       model.CreatedAt,
	}
}
