package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenchat/contextd/internal/usage"
)

// usageRecordModel maps to the usage_records table.
type usageRecordModel struct {
	ID             string
	ConversationID string
	MessageID      string
	UserID         string
	OperationType  string
	Model          string
	InputTokens    int
	OutputTokens   int
	DurationMs     int64
	Success        bool
	Metadata       json.RawMessage `gorm:"type:jsonb"`
	CreatedAt      time.Time
}

func (usageRecordModel) TableName() string {
	return "usage_records"
}

// UsageRepo persists usage records.
type UsageRepo struct {
	db *gorm.DB
}

// NewUsageRepo returns a UsageRepo.
func NewUsageRepo(db *gorm.DB) *UsageRepo {
	return &UsageRepo{db: db}
}

// InsertUsage stores one accounted model call.
func (r *UsageRepo) InsertUsage(ctx context.Context, rec usage.Record) error {
	metadata, err := marshalJSON(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode usage metadata: %w", err)
	}
	record := usageRecordModel{
		ID:             uuid.NewString(),
		ConversationID: rec.ConversationID,
		MessageID:      rec.MessageID,
		UserID:         rec.UserID,
		OperationType:  rec.OperationType,
		Model:          rec.Model,
		InputTokens:    rec.InputTokens,
		OutputTokens:   rec.OutputTokens,
		DurationMs:     rec.Duration.Milliseconds(),
		Success:        rec.Success,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}
