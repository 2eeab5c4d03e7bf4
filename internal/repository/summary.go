package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/lumenchat/contextd/internal/types"
)

// topicSummaryModel maps to the topic_summaries table.
type topicSummaryModel struct {
	ID             string
	ConversationID string
	Topic          string
	Summary        string
	RelatedTopics  json.RawMessage `gorm:"type:jsonb"`
	StartMessageID string
	EndMessageID   string
	MessageCount   int
	Level          int     `gorm:"column:summary_level"`
	Relevance      float64 `gorm:"column:topic_relevance"`
	BroaderTopic   string
	// Embedding stores the vector representation for similarity search.
	Embedding *pgvector.Vector `gorm:"type:vector"`
	CreatedAt time.Time
}

func (topicSummaryModel) TableName() string {
	return "topic_summaries"
}

// SummaryRepo accesses topic summary data.
type SummaryRepo struct {
	db *gorm.DB
}

// NewSummaryRepo returns a SummaryRepo.
func NewSummaryRepo(db *gorm.DB) *SummaryRepo {
	return &SummaryRepo{db: db}
}

// Insert persists a summary, filling in its id and creation time.
func (r *SummaryRepo) Insert(ctx context.Context, summary *types.TopicSummary) error {
	var vector *pgvector.Vector
	if len(summary.Embedding) > 0 {
		v := pgvector.NewVector(summary.Embedding)
		vector = &v
	}
	related, err := marshalJSON(summary.RelatedTopics)
	if err != nil {
		return fmt.Errorf("failed to encode related topics: %w", err)
	}

	record := topicSummaryModel{
		ID:             uuid.NewString(),
		ConversationID: summary.ConversationID,
		Topic:          summary.Topic,
		Summary:        summary.Summary,
		RelatedTopics:  related,
		StartMessageID: summary.Range.StartMessageID,
		EndMessageID:   summary.Range.EndMessageID,
		MessageCount:   summary.Range.MessageCount,
		Level:          summary.Level,
		Relevance:      summary.Relevance,
		BroaderTopic:   summary.BroaderTopic,
		Embedding:      vector,
		CreatedAt:      time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert topic summary: %w", err)
	}
	summary.ID = record.ID
	summary.CreatedAt = record.CreatedAt
	return nil
}

// Latest returns the highest-level summary of a conversation, or nil when the
// conversation has none.
func (r *SummaryRepo) Latest(ctx context.Context, conversationID string) (*types.TopicSummary, error) {
	var record topicSummaryModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("summary_level DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest summary: %w", err)
	}
	summary := summaryFromModel(record)
	return &summary, nil
}

// Recent returns the newest summaries first.
func (r *SummaryRepo) Recent(ctx context.Context, conversationID string, limit int) ([]types.TopicSummary, error) {
	var records []topicSummaryModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent summaries: %w", err)
	}
	return summariesFromModels(records), nil
}

// Count reports how many summaries the conversation has.
func (r *SummaryRepo) Count(ctx context.Context, conversationID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&topicSummaryModel{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count summaries: %w", err)
	}
	return int(count), nil
}

// ByDateWindow returns summaries created inside [start, end], newest first.
func (r *SummaryRepo) ByDateWindow(ctx context.Context, conversationID string, start, end time.Time, limit int) ([]types.TopicSummary, error) {
	var records []topicSummaryModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND created_at >= ? AND created_at <= ?", conversationID, start, end).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries by date: %w", err)
	}
	return summariesFromModels(records), nil
}

// ByLevelAsc returns summaries ordered foundational-first: summary level
// ascending, then recency.
func (r *SummaryRepo) ByLevelAsc(ctx context.Context, conversationID string, limit int) ([]types.TopicSummary, error) {
	var records []topicSummaryModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("summary_level ASC, created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries by level: %w", err)
	}
	return summariesFromModels(records), nil
}

// SearchSimilar performs cosine nearest-neighbor search scoped to one
// conversation, closest first, with optional creation-time window and broader
// topic filters.
func (r *SummaryRepo) SearchSimilar(ctx context.Context, conversationID string, embedding []float32, topK int, threshold float64, window *[2]time.Time, broaderTopics []string) ([]types.RetrievedSummary, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	conditions := "conversation_id = $2 AND embedding IS NOT NULL AND 1 - (embedding <=> $1) > $3"
	args := []any{pgvector.NewVector(embedding), conversationID, threshold}
	argIndex := 4

	if window != nil {
		conditions += fmt.Sprintf(" AND created_at >= $%d AND created_at <= $%d", argIndex, argIndex+1)
		args = append(args, window[0], window[1])
		argIndex += 2
	}
	if len(broaderTopics) > 0 {
		conditions += fmt.Sprintf(" AND broader_topic = ANY($%d)", argIndex)
		args = append(args, broaderTopics)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT id, conversation_id, topic, summary, related_topics,
		       start_message_id, end_message_id, message_count,
		       summary_level, topic_relevance, broader_topic, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM topic_summaries
		WHERE %s
		ORDER BY embedding <=> $1 ASC
		LIMIT $%d`, conditions, argIndex)
	args = append(args, topK)

	type searchRow struct {
		topicSummaryModel
		Similarity float64
	}
	var rows []searchRow
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search similar summaries: %w", err)
	}

	results := make([]types.RetrievedSummary, 0, len(rows))
	for _, row := range rows {
		results = append(results, types.RetrievedSummary{
			TopicSummary: summaryFromModel(row.topicSummaryModel),
			Similarity:   row.Similarity,
		})
	}
	return results, nil
}

func summaryFromModel(model topicSummaryModel) types.TopicSummary {
	var related []string
	_ = unmarshalJSON(model.RelatedTopics, &related)
	return types.TopicSummary{
		ID:             model.ID,
		ConversationID: model.ConversationID,
		Topic:          model.Topic,
		Summary:        model.Summary,
		RelatedTopics:  related,
		Range: types.MessageRange{
			StartMessageID: model.StartMessageID,
			EndMessageID:   model.EndMessageID,
			MessageCount:   model.MessageCount,
		},
		Level:        model.Level,
		Relevance:    model.Relevance,
		BroaderTopic: model.BroaderTopic,
		CreatedAt:    model.CreatedAt,
	}
}

func summariesFromModels(records []topicSummaryModel) []types.TopicSummary {
	results := make([]types.TopicSummary, 0, len(records))
	for _, record := range records {
		results = append(results, summaryFromModel(record))
	}
	return results
}
