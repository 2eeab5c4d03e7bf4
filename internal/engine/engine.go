// Package engine wires intent analysis, retrieval, and summarization into the
// per-turn pipeline a chat backend calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenchat/contextd/internal/types"
)

// ConversationStore is the conversation slice of the repository.
type ConversationStore interface {
	Create(ctx context.Context, userID string) (*types.Conversation, error)
	Get(ctx context.Context, id string) (*types.Conversation, error)
	Touch(ctx context.Context, id string) error
	ActiveSince(ctx context.Context, cutoff time.Time) ([]string, error)
}

// MessageStore is the message slice of the repository.
type MessageStore interface {
	Add(ctx context.Context, conversationID, role, content string) (*types.Message, error)
	Recent(ctx context.Context, conversationID string, limit int) ([]types.Message, error)
}

// IntentAnalyzer classifies a user turn and back-fills confidence once
// retrieval has run.
type IntentAnalyzer interface {
	Analyze(ctx context.Context, conversationID, messageID, message string) (*types.IntentAnalysis, error)
	UpdateConfidenceWithSearchResults(ctx context.Context, analysis *types.IntentAnalysis, retrieval types.RetrievalConfidence) error
}

// ContextRetriever executes the strategy an analysis decided.
type ContextRetriever interface {
	Retrieve(ctx context.Context, conversationID string, analysis *types.IntentAnalysis) (*types.RetrievalResult, error)
}

// Summarizer runs one summarization check for a conversation.
type Summarizer interface {
	CheckAndCreateSummary(ctx context.Context, conversationID string) (*types.TopicSummary, error)
}

// Scheduler gates background summarization runs per conversation.
type Scheduler interface {
	Start(conversationID string, task func(context.Context) error)
}

// TurnContext is everything the response generator needs for one user turn.
type TurnContext struct {
	Conversation *types.Conversation
	UserMessage  *types.Message
	Analysis     *types.IntentAnalysis
	Retrieved    *types.RetrievalResult
	Recent       []types.Message
}

// Engine is the turn pipeline.
type Engine struct {
	conversations ConversationStore
	messages      MessageStore
	analyzer      IntentAnalyzer
	retriever     ContextRetriever
	summarizer    Summarizer
	scheduler     Scheduler
	recentWindow  int
}

// New returns an Engine.
func New(conversations ConversationStore, messages MessageStore, analyzer IntentAnalyzer, retriever ContextRetriever, summarizer Summarizer, scheduler Scheduler, recentWindow int) *Engine {
	if recentWindow <= 0 {
		recentWindow = 10
	}
	return &Engine{
		conversations: conversations,
		messages:      messages,
		analyzer:      analyzer,
		retriever:     retriever,
		summarizer:    summarizer,
		scheduler:     scheduler,
		recentWindow:  recentWindow,
	}
}

// StartConversation creates a conversation for a user.
func (e *Engine) StartConversation(ctx context.Context, userID string) (*types.Conversation, error) {
	conversation, err := e.conversations.Create(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to start conversation: %w", err)
	}
	slog.Info("conversation started", "conversation_id", conversation.ID, "user_id", userID)
	return conversation, nil
}

// HandleTurn ingests one user message and assembles the context bundle for
// the reply: persist, analyze, retrieve, back-fill confidence. Retrieval
// trouble degrades to recent messages only; the turn itself never fails past
// persistence.
func (e *Engine) HandleTurn(ctx context.Context, conversationID, content string) (*TurnContext, error) {
	conversation, err := e.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conversation == nil {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}

	message, err := e.messages.Add(ctx, conversationID, types.RoleUser, content)
	if err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	analysis, err := e.analyzer.Analyze(ctx, conversationID, message.ID, content)
	if err != nil {
		// The analyzer degrades internally; an error here is unexpected but
		// still must not lose the turn.
		slog.Error("intent analysis failed", "conversation_id", conversationID, "error", err.Error())
		analysis = &types.IntentAnalysis{
			ConversationID: conversationID,
			MessageID:      message.ID,
			Classification: types.IntentClassification{
				Strategy: types.StrategyRecentOnly,
				MaxItems: 5,
			},
			ConfidenceLevel: types.ConfidenceLow,
		}
	}

	retrieved, err := e.retriever.Retrieve(ctx, conversationID, analysis)
	if err != nil {
		slog.Warn("context retrieval failed, serving recent messages only",
			"conversation_id", conversationID, "strategy", string(analysis.Classification.Strategy), "error", err.Error())
		retrieved = &types.RetrievalResult{Method: "unavailable"}
	} else if analysis.ID != "" {
		if err := e.analyzer.UpdateConfidenceWithSearchResults(ctx, analysis, retrieved.Confidence); err != nil {
			slog.Warn("confidence back-fill failed", "conversation_id", conversationID, "error", err.Error())
		}
	}

	recent, err := e.messages.Recent(ctx, conversationID, e.recentWindow)
	if err != nil {
		slog.Warn("failed to load recent messages", "conversation_id", conversationID, "error", err.Error())
	}

	slog.Debug("turn context assembled",
		"conversation_id", conversationID,
		"strategy", string(analysis.Classification.Strategy),
		"method", retrieved.Method,
		"retrieved", len(retrieved.Summaries),
		"confidence", analysis.Confidence)

	return &TurnContext{
		Conversation: conversation,
		UserMessage:  message,
		Analysis:     analysis,
		Retrieved:    retrieved,
		Recent:       recent,
	}, nil
}

// NotifyAssistantReply records the generated reply and kicks off a background
// summarization check for the conversation.
func (e *Engine) NotifyAssistantReply(ctx context.Context, conversationID, content string) (*types.Message, error) {
	message, err := e.messages.Add(ctx, conversationID, types.RoleAssistant, content)
	if err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}
	if err := e.conversations.Touch(ctx, conversationID); err != nil {
		slog.Warn("failed to touch conversation", "conversation_id", conversationID, "error", err.Error())
	}

	e.scheduler.Start(conversationID, func(taskCtx context.Context) error {
		_, err := e.summarizer.CheckAndCreateSummary(taskCtx, conversationID)
		return err
	})
	return message, nil
}

// Sweep re-checks recently active conversations for pending summarization
// work, catching ranges a failed background run left uncovered.
func (e *Engine) Sweep(ctx context.Context, activity time.Duration) error {
	ids, err := e.conversations.ActiveSince(ctx, time.Now().Add(-activity))
	if err != nil {
		return fmt.Errorf("failed to list active conversations: %w", err)
	}
	for _, id := range ids {
		conversationID := id
		e.scheduler.Start(conversationID, func(taskCtx context.Context) error {
			_, err := e.summarizer.CheckAndCreateSummary(taskCtx, conversationID)
			return err
		})
	}
	if len(ids) > 0 {
		slog.Debug("summarization sweep scheduled", "conversations", len(ids))
	}
	return nil
}
