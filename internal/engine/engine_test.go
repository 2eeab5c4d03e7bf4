package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lumenchat/contextd/internal/types"
)

func newTestEngine(conv *mockConversations, msgs *mockMessages, an *mockAnalyzer, ret *mockRetriever, sum *mockSummarizer, sched *syncScheduler) *Engine {
	return New(conv, msgs, an, ret, sum, sched, 10)
}

func TestHandleTurnAssemblesContext(t *testing.T) {
	conv := &mockConversations{conversation: &types.Conversation{ID: "conv-1", UserID: "u-1"}}
	msgs := &mockMessages{}
	an := &mockAnalyzer{analysis: &types.IntentAnalysis{
		ID:             "an-1",
		Classification: types.IntentClassification{Strategy: types.StrategySemanticSearch},
	}}
	ret := &mockRetriever{result: &types.RetrievalResult{
		Method:     "semantic_search",
		Summaries:  []types.RetrievedSummary{{TopicSummary: types.TopicSummary{ID: "s-1"}}},
		Confidence: types.RetrievalConfidence{Quality: 0.8},
	}}
	e := newTestEngine(conv, msgs, an, ret, &mockSummarizer{}, &syncScheduler{})

	turn, err := e.HandleTurn(context.Background(), "conv-1", "what did we decide about the schema?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.UserMessage == nil || turn.UserMessage.Role != types.RoleUser {
		t.Fatalf("expected the user message to be persisted, got %+v", turn.UserMessage)
	}
	if turn.Retrieved.Method != "semantic_search" || len(turn.Retrieved.Summaries) != 1 {
		t.Fatalf("unexpected retrieval result: %+v", turn.Retrieved)
	}
	if len(an.backfills) != 1 || an.backfills[0].Quality != 0.8 {
		t.Fatalf("expected one confidence back-fill with the retrieval quality, got %+v", an.backfills)
	}
}

func TestHandleTurnUnknownConversationFails(t *testing.T) {
	e := newTestEngine(&mockConversations{}, &mockMessages{}, &mockAnalyzer{}, &mockRetriever{}, &mockSummarizer{}, &syncScheduler{})
	if _, err := e.HandleTurn(context.Background(), "missing", "hi"); err == nil {
		t.Fatal("expected an error for an unknown conversation")
	}
}

func TestHandleTurnRetrievalFailureDegrades(t *testing.T) {
	conv := &mockConversations{conversation: &types.Conversation{ID: "conv-1"}}
	an := &mockAnalyzer{analysis: &types.IntentAnalysis{
		ID:             "an-1",
		Classification: types.IntentClassification{Strategy: types.StrategySemanticSearch},
	}}
	ret := &mockRetriever{err: errors.New("db down")}
	e := newTestEngine(conv, &mockMessages{}, an, ret, &mockSummarizer{}, &syncScheduler{})

	turn, err := e.HandleTurn(context.Background(), "conv-1", "hello")
	if err != nil {
		t.Fatalf("retrieval failure must not fail the turn: %v", err)
	}
	if turn.Retrieved == nil || turn.Retrieved.Method != "unavailable" {
		t.Fatalf("expected a degraded retrieval marker, got %+v", turn.Retrieved)
	}
	if len(an.backfills) != 0 {
		t.Fatal("no back-fill should run when retrieval failed")
	}
}

func TestHandleTurnSkipsBackfillForUnsavedAnalysis(t *testing.T) {
	conv := &mockConversations{conversation: &types.Conversation{ID: "conv-1"}}
	an := &mockAnalyzer{analysis: &types.IntentAnalysis{
		// No ID: the analysis never reached the store.
		Classification: types.IntentClassification{Strategy: types.StrategyRecentOnly},
	}}
	ret := &mockRetriever{result: &types.RetrievalResult{Method: "recent_only"}}
	e := newTestEngine(conv, &mockMessages{}, an, ret, &mockSummarizer{}, &syncScheduler{})

	if _, err := e.HandleTurn(context.Background(), "conv-1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(an.backfills) != 0 {
		t.Fatal("an unsaved analysis must not be back-filled")
	}
}

func TestNotifyAssistantReplySchedulesSummarization(t *testing.T) {
	conv := &mockConversations{conversation: &types.Conversation{ID: "conv-1"}}
	msgs := &mockMessages{}
	sum := &mockSummarizer{}
	sched := &syncScheduler{}
	e := newTestEngine(conv, msgs, &mockAnalyzer{}, &mockRetriever{}, sum, sched)

	message, err := e.NotifyAssistantReply(context.Background(), "conv-1", "here is the plan")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if message.Role != types.RoleAssistant {
		t.Fatalf("expected an assistant message, got %q", message.Role)
	}
	if conv.touched != 1 {
		t.Fatalf("expected the conversation to be touched once, got %d", conv.touched)
	}
	if sched.started != 1 || len(sum.checked) != 1 || sum.checked[0] != "conv-1" {
		t.Fatalf("expected one summarization check for conv-1, got %d/%v", sched.started, sum.checked)
	}
}

func TestSweepSchedulesActiveConversations(t *testing.T) {
	conv := &mockConversations{active: []string{"conv-1", "conv-2"}}
	sum := &mockSummarizer{}
	sched := &syncScheduler{}
	e := newTestEngine(conv, &mockMessages{}, &mockAnalyzer{}, &mockRetriever{}, sum, sched)

	if err := e.Sweep(context.Background(), time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sched.started != 2 || len(sum.checked) != 2 {
		t.Fatalf("expected both active conversations to be checked, got %d/%v", sched.started, sum.checked)
	}
}

// --- mocks ---

type mockConversations struct {
	conversation *types.Conversation
	active       []string
	touched      int
}

func (m *mockConversations) Create(_ context.Context, userID string) (*types.Conversation, error) {
	return &types.Conversation{ID: "conv-new", UserID: userID}, nil
}

func (m *mockConversations) Get(_ context.Context, id string) (*types.Conversation, error) {
	if m.conversation != nil && m.conversation.ID == id {
		return m.conversation, nil
	}
	return nil, nil
}

func (m *mockConversations) Touch(context.Context, string) error {
	m.touched++
	return nil
}

func (m *mockConversations) ActiveSince(context.Context, time.Time) ([]string, error) {
	return m.active, nil
}

type mockMessages struct {
	added []types.Message
}

func (m *mockMessages) Add(_ context.Context, conversationID, role, content string) (*types.Message, error) {
	msg := types.Message{
		ID:             fmt.Sprintf("msg-%d", len(m.added)+1),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	m.added = append(m.added, msg)
	return &msg, nil
}

func (m *mockMessages) Recent(context.Context, string, int) ([]types.Message, error) {
	return m.added, nil
}

type mockAnalyzer struct {
	analysis  *types.IntentAnalysis
	backfills []types.RetrievalConfidence
}

func (m *mockAnalyzer) Analyze(_ context.Context, conversationID, messageID, _ string) (*types.IntentAnalysis, error) {
	if m.analysis != nil {
		m.analysis.ConversationID = conversationID
		m.analysis.MessageID = messageID
		return m.analysis, nil
	}
	return &types.IntentAnalysis{
		ID:             "an-default",
		ConversationID: conversationID,
		MessageID:      messageID,
		Classification: types.IntentClassification{Strategy: types.StrategyRecentOnly},
	}, nil
}

func (m *mockAnalyzer) UpdateConfidenceWithSearchResults(_ context.Context, _ *types.IntentAnalysis, retrieval types.RetrievalConfidence) error {
	m.backfills = append(m.backfills, retrieval)
	return nil
}

type mockRetriever struct {
	result *types.RetrievalResult
	err    error
}

func (m *mockRetriever) Retrieve(context.Context, string, *types.IntentAnalysis) (*types.RetrievalResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &types.RetrievalResult{Method: "none"}, nil
}

type mockSummarizer struct {
	checked []string
}

func (m *mockSummarizer) CheckAndCreateSummary(_ context.Context, conversationID string) (*types.TopicSummary, error) {
	m.checked = append(m.checked, conversationID)
	return nil, nil
}

// syncScheduler runs scheduled tasks inline so tests stay deterministic.
type syncScheduler struct {
	started int
}

func (s *syncScheduler) Start(_ string, task func(context.Context) error) {
	s.started++
	_ = task(context.Background())
}
