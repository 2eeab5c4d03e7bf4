package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenchat/contextd/internal/types"
)

// messageModel maps to the messages table. SummaryID stays NULL until the
// message is folded into a topic summary.
type messageModel struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	SummaryID      *string
	CreatedAt      time.Time
}

func (messageModel) TableName() string {
	return "messages"
}

// MessageRepo accesses message data.
type MessageRepo struct {
	db *gorm.DB
}

// NewMessageRepo returns a MessageRepo.
func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Add appends a message to a conversation.
func (r *MessageRepo) Add(ctx context.Context, conversationID, role, content string) (*types.Message, error) {
	record := messageModel{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	msg := messageFromModel(record)
	return &msg, nil
}

// Recent returns the newest still-active messages in chronological order.
// Summarized messages are excluded: once covered by a summary they drop out of
// the recency window.
func (r *MessageRepo) Recent(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	var records []messageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND summary_id IS NULL", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}

	results := make([]types.Message, 0, len(records))
	for _, record := range records {
		results = append(results, messageFromModel(record))
	}
	// Oldest -> newest
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// UserMessagesAfter returns unsummarized user messages created after the given
// message, in chronological order. An empty afterID means "since conversation
// start".
func (r *MessageRepo) UserMessagesAfter(ctx context.Context, conversationID, afterID string) ([]types.Message, error) {
	query := r.db.WithContext(ctx).
		Where("conversation_id = ? AND role = ? AND summary_id IS NULL", conversationID, types.RoleUser)
	if afterID != "" {
		cutoff, err := r.createdAt(ctx, afterID)
		if err != nil {
			return nil, err
		}
		query = query.Where("created_at > ?", cutoff)
	}

	var records []messageModel
	if err := query.Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query user messages: %w", err)
	}

	results := make([]types.Message, 0, len(records))
	for _, record := range records {
		results = append(results, messageFromModel(record))
	}
	return results, nil
}

// Range returns all messages of both roles between two messages inclusive, in
// chronological order.
func (r *MessageRepo) Range(ctx context.Context, conversationID, startID, endID string) ([]types.Message, error) {
	start, err := r.createdAt(ctx, startID)
	if err != nil {
		return nil, err
	}
	end, err := r.createdAt(ctx, endID)
	if err != nil {
		return nil, err
	}

	var records []messageModel
	err = r.db.WithContext(ctx).
		Where("conversation_id = ? AND created_at >= ? AND created_at <= ?", conversationID, start, end).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query message range: %w", err)
	}

	results := make([]types.Message, 0, len(records))
	for _, record := range records {
		results = append(results, messageFromModel(record))
	}
	return results, nil
}

// AssignSummary points every not-yet-summarized message in the range at the
// summary. The summary_id IS NULL filter keeps the operation idempotent, so a
// partially failed pass can be re-swept later.
func (r *MessageRepo) AssignSummary(ctx context.Context, conversationID, startID, endID, summaryID string) error {
	start, err := r.createdAt(ctx, startID)
	if err != nil {
		return err
	}
	end, err := r.createdAt(ctx, endID)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).
		Model(&messageModel{}).
		Where("conversation_id = ? AND created_at >= ? AND created_at <= ? AND summary_id IS NULL", conversationID, start, end).
		Update("summary_id", summaryID).Error
	if err != nil {
		return fmt.Errorf("failed to assign summary to messages: %w", err)
	}
	return nil
}

func (r *MessageRepo) createdAt(ctx context.Context, id string) (time.Time, error) {
	var record messageModel
	err := r.db.WithContext(ctx).Select("created_at").Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, fmt.Errorf("message %s not found", id)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve message timestamp: %w", err)
	}
	return record.CreatedAt, nil
}

func messageFromModel(model messageModel) types.Message {
	msg := types.Message{
		ID:             model.ID,
		ConversationID: model.ConversationID,
		Role:           model.Role,
		Content:        model.Content,
		CreatedAt:      model.CreatedAt,
	}
	if model.SummaryID != nil {
		msg.SummaryID = *model.SummaryID
	}
	return msg
}
