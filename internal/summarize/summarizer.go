package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/lumenchat/contextd/internal/index"
	"github.com/lumenchat/contextd/internal/models"
	"github.com/lumenchat/contextd/internal/types"
	"github.com/lumenchat/contextd/internal/usage"
)

// DefaultTurnThreshold is the number of accumulated user turns that triggers
// a new summary.
const DefaultTurnThreshold = 10

const summaryInstruction = `You are a conversation summarizer.
Compress the conversation below into a topic summary, preserving decisions,
technical details, and conclusions while reducing length by 70-80%.

Return a JSON object with exactly these keys:
- "topic": a short topic name for this span of conversation
- "summary": the compressed summary text
- "keyTopics": array of the main topics discussed
- "relatedTopics": array of adjacent topics touched on
- "broaderTopic": one coarse category tag (e.g. "astronomy"), or ""
- "relevance": a 0-1 score for how substantive this span was

Return only the JSON object, no extra text.`

// MessageStore is the message slice of the repository the summarizer needs.
type MessageStore interface {
	UserMessagesAfter(ctx context.Context, conversationID, afterID string) ([]types.Message, error)
	Range(ctx context.Context, conversationID, startID, endID string) ([]types.Message, error)
	AssignSummary(ctx context.Context, conversationID, startID, endID, summaryID string) error
}

// SummaryStore is the summary slice of the repository the summarizer needs.
type SummaryStore interface {
	Latest(ctx context.Context, conversationID string) (*types.TopicSummary, error)
	Insert(ctx context.Context, summary *types.TopicSummary) error
}

// TopicEmbedder persists-side embedding with usage accounting.
type TopicEmbedder interface {
	EmbedTopic(ctx context.Context, text string, ref index.TopicRef) ([]float32, error)
}

// Summarizer turns accumulated turns into topic summaries.
type Summarizer struct {
	llm           model.LLM
	messages      MessageStore
	summaries     SummaryStore
	embedder      TopicEmbedder
	tracker       usage.Tracker
	turnThreshold int
	llmTimeout    time.Duration
}

// NewSummarizer returns a Summarizer.
func NewSummarizer(llm model.LLM, messages MessageStore, summaries SummaryStore, embedder TopicEmbedder, tracker usage.Tracker, turnThreshold int, llmTimeout time.Duration) *Summarizer {
	if turnThreshold <= 0 {
		turnThreshold = DefaultTurnThreshold
	}
	if llmTimeout <= 0 {
		llmTimeout = 30 * time.Second
	}
	return &Summarizer{
		llm:           llm,
		messages:      messages,
		summaries:     summaries,
		embedder:      embedder,
		tracker:       tracker,
		turnThreshold: turnThreshold,
		llmTimeout:    llmTimeout,
	}
}

// summaryPayload is the free-form JSON shape the model returns. It is parsed
// defensively; the structured-output guarantee only applies to schema-bound
// calls and summarization is not one of them.
type summaryPayload struct {
	Topic         string   `json:"topic"`
	Summary       string   `json:"summary"`
	KeyTopics     []string `json:"keyTopics"`
	RelatedTopics []string `json:"relatedTopics"`
	BroaderTopic  string   `json:"broaderTopic"`
	Relevance     float64  `json:"relevance"`
}

// CheckAndCreateSummary counts the user turns accumulated since the last
// summary and, at the turn threshold, compresses the covered range into a new
// TopicSummary. Below the threshold it is a side-effect-free check returning
// nil. Once triggered the range always ends up covered: an LLM or parse
// failure degrades to a placeholder summary instead of losing the range.
func (s *Summarizer) CheckAndCreateSummary(ctx context.Context, conversationID string) (*types.TopicSummary, error) {
	last, err := s.summaries.Latest(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	afterID := ""
	prevLevel := 0
	if last != nil {
		afterID = last.Range.EndMessageID
		prevLevel = last.Level
	}

	userTurns, err := s.messages.UserMessagesAfter(ctx, conversationID, afterID)
	if err != nil {
		return nil, err
	}
	if len(userTurns) < s.turnThreshold {
		return nil, nil
	}

	first := userTurns[0]
	lastTurn := userTurns[len(userTurns)-1]
	covered, err := s.messages.Range(ctx, conversationID, first.ID, lastTurn.ID)
	if err != nil {
		return nil, err
	}
	if len(covered) == 0 {
		return nil, fmt.Errorf("empty message range for conversation %s", conversationID)
	}

	payload := s.compress(ctx, conversationID, covered)

	summary := &types.TopicSummary{
		ConversationID: conversationID,
		Topic:          payload.Topic,
		Summary:        payload.Summary,
		RelatedTopics:  payload.RelatedTopics,
		Range: types.MessageRange{
			StartMessageID: first.ID,
			EndMessageID:   lastTurn.ID,
			MessageCount:   len(covered),
		},
		Level:        prevLevel + 1,
		Relevance:    payload.Relevance,
		BroaderTopic: payload.BroaderTopic,
	}

	embeddingText := buildEmbeddingText(payload.Topic, payload.Summary, payload.KeyTopics)
	vec, err := s.embedder.EmbedTopic(ctx, embeddingText, index.TopicRef{ConversationID: conversationID})
	if err != nil {
		// The summary is still worth keeping; it just won't be found by
		// semantic search.
		slog.Warn("failed to embed topic summary", "conversation_id", conversationID, "error", err.Error())
	} else {
		summary.Embedding = vec
	}

	if err := s.summaries.Insert(ctx, summary); err != nil {
		return nil, err
	}
	if err := s.messages.AssignSummary(ctx, conversationID, first.ID, lastTurn.ID, summary.ID); err != nil {
		// Partial failure is acceptable: unassigned messages still carry
		// summary_id NULL and get re-swept on the next pass.
		slog.Warn("failed to re-point summarized messages", "conversation_id", conversationID, "summary_id", summary.ID, "error", err.Error())
	}

	slog.Info("created topic summary",
		"conversation_id", conversationID,
		"summary_id", summary.ID,
		"level", summary.Level,
		"messages", summary.Range.MessageCount)
	return summary, nil
}

// compress asks the model to summarize the covered messages, falling back to
// a minimal placeholder when the call or parse fails.
func (s *Summarizer) compress(ctx context.Context, conversationID string, covered []types.Message) summaryPayload {
	started := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()

	temperature := float32(0.3)
	req := &model.LLMRequest{
		Contents: []*genai.Content{
			genai.NewContentFromText(summaryInstruction, "system"),
			genai.NewContentFromText(buildTranscript(covered), "user"),
		},
		Config: &genai.GenerateContentConfig{
			Temperature:     &temperature,
			MaxOutputTokens: 1024,
		},
	}

	raw, err := models.GenerateText(callCtx, s.llm, req)
	var payload summaryPayload
	if err == nil {
		payload, err = parseSummaryJSON(raw)
	}

	s.tracker.Track(ctx, usage.Record{
		ConversationID: conversationID,
		OperationType:  usage.OpSummarization,
		Model:          s.llm.Name(),
		InputTokens:    usage.EstimateTokens(buildTranscript(covered)),
		OutputTokens:   usage.EstimateTokens(raw),
		Duration:       time.Since(started),
		Success:        err == nil,
	})

	if err != nil {
		slog.Warn("summary generation failed, using placeholder", "conversation_id", conversationID, "error", err.Error())
		return placeholderPayload(covered)
	}
	if payload.Summary == "" {
		return placeholderPayload(covered)
	}
	if payload.Topic == "" {
		payload.Topic = "Conversation summary"
	}
	return payload
}

// parseSummaryJSON extracts the JSON object from model output and decodes it.
func parseSummaryJSON(raw string) (summaryPayload, error) {
	clean := strings.TrimSpace(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	var payload summaryPayload
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return summaryPayload{}, fmt.Errorf("failed to parse summary json: %w", err)
	}
	return payload, nil
}

// placeholderPayload is the degraded summary used when the model fails. The
// range must still end up covered.
func placeholderPayload(covered []types.Message) summaryPayload {
	var sb strings.Builder
	for _, msg := range covered {
		if msg.Role != types.RoleUser {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(truncate(msg.Content, 60))
		if sb.Len() > 400 {
			break
		}
	}
	return summaryPayload{
		Topic:     "Conversation summary",
		Summary:   fmt.Sprintf("Conversation summary (%d messages): %s", len(covered), sb.String()),
		Relevance: 0.3,
	}
}

func buildTranscript(messages []types.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildEmbeddingText concatenates the high-value fields for vector search.
func buildEmbeddingText(topic, summary string, keyTopics []string) string {
	var sb strings.Builder
	sb.WriteString(topic)
	sb.WriteString("\n")
	sb.WriteString(summary)
	if len(keyTopics) > 0 {
		sb.WriteString("\ntopics: ")
		sb.WriteString(strings.Join(keyTopics, " ; "))
	}
	return sb.String()
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
