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

// conversationModel maps to the conversations table.
type conversationModel struct {
	ID        string
	UserID    string
	Behaviors json.RawMessage `gorm:"type:jsonb"`
	Memory    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (conversationModel) TableName() string {
	return "conversations"
}

// ConversationRepo accesses conversation data.
type ConversationRepo struct {
	db *gorm.DB
}

// NewConversationRepo returns a ConversationRepo.
func NewConversationRepo(db *gorm.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Create inserts a conversation for a user and returns it.
func (r *ConversationRepo) Create(ctx context.Context, userID string) (*types.Conversation, error) {
	record := conversationModel{
		ID:     uuid.NewString(),
		UserID: userID,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return conversationFromModel(record), nil
}

// Get loads one conversation, returning nil when it does not exist.
func (r *ConversationRepo) Get(ctx context.Context, id string) (*types.Conversation, error) {
	var record conversationModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return conversationFromModel(record), nil
}

// Touch bumps the conversation's updated_at after a service ran against it.
func (r *ConversationRepo) Touch(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).
		Model(&conversationModel{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// ActiveSince lists conversation ids updated after the cutoff. The periodic
// summarization sweep uses this to re-check recently busy conversations.
func (r *ConversationRepo) ActiveSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&conversationModel{}).
		Where("updated_at > ?", cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active conversations: %w", err)
	}
	return ids, nil
}

func conversationFromModel(model conversationModel) *types.Conversation {
	var behaviors map[string]string
	_ = unmarshalJSON(model.Behaviors, &behaviors)
	return &types.Conversation{
		ID:        model.ID,
		UserID:    model.UserID,
		Behaviors: behaviors,
		Memory:    model.Memory,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}
