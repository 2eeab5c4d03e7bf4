package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/lumenchat/contextd/internal/models"
	"github.com/lumenchat/contextd/internal/types"
	"github.com/lumenchat/contextd/internal/usage"
)

const (
	// stageTwoTurns is how many recent turns accompany the summary corpus in
	// the enriched re-analysis window.
	stageTwoTurns = 4
	// allSummariesLimit bounds the enriched context; conversations rarely
	// accumulate more summaries than this.
	allSummariesLimit = 50
	// fallbackConfidence is reported when the model could not be consulted.
	fallbackConfidence = 0.2
)

// MessageReader is the message slice of the repository the analyzer needs.
type MessageReader interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]types.Message, error)
}

// SummaryReader is the summary slice of the repository the analyzer needs.
type SummaryReader interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]types.TopicSummary, error)
	Count(ctx context.Context, conversationID string) (int, error)
}

// AnalysisStore persists intent analyses.
type AnalysisStore interface {
	Insert(ctx context.Context, analysis *types.IntentAnalysis) error
	Latest(ctx context.Context, conversationID string) (*types.IntentAnalysis, error)
	UpdateConfidence(ctx context.Context, id string, confidence float64, level types.ConfidenceLevel, factors types.ConfidenceFactors) error
}

// Analyzer classifies user turns in up to two stages. Stage one sees a
// minimal window; when the chosen strategy depends on the summary corpus the
// classification is re-run against an enriched window, since the richer
// signal may change the intent reading.
type Analyzer struct {
	llm          model.LLM
	messages     MessageReader
	summaries    SummaryReader
	analyses     AnalysisStore
	tracker      usage.Tracker
	recentWindow int
	llmTimeout   time.Duration
}

// NewAnalyzer returns an Analyzer.
func NewAnalyzer(llm model.LLM, messages MessageReader, summaries SummaryReader, analyses AnalysisStore, tracker usage.Tracker, recentWindow int, llmTimeout time.Duration) *Analyzer {
	if recentWindow <= 0 {
		recentWindow = 10
	}
	if llmTimeout <= 0 {
		llmTimeout = 15 * time.Second
	}
	return &Analyzer{
		llm:          llm,
		messages:     messages,
		summaries:    summaries,
		analyses:     analyses,
		tracker:      tracker,
		recentWindow: recentWindow,
		llmTimeout:   llmTimeout,
	}
}

// stageDecision is the explicit second step of the analysis state machine:
// Initial -> (Reuse | Reanalyze) -> Final.
type stageDecision int

const (
	decideReuse stageDecision = iota
	decideReanalyze
)

// stageTwoDecision is deterministic, not model-driven: strategies that will
// read the summary corpus re-classify against it first.
func stageTwoDecision(strategy types.RetrievalStrategy) stageDecision {
	switch strategy {
	case types.StrategySemanticSearch, types.StrategyDateBasedSearch, types.StrategyAllAvailable:
		return decideReanalyze
	default:
		return decideReuse
	}
}

// Analyze classifies one user turn and persists the result. It always
// produces a decision: model failure degrades to a recent_only fallback with
// low confidence instead of an error.
func (a *Analyzer) Analyze(ctx context.Context, conversationID, messageID, message string) (*types.IntentAnalysis, error) {
	recent, err := a.messages.Recent(ctx, conversationID, a.recentWindow)
	if err != nil {
		slog.Warn("failed to load recent messages for intent analysis", "conversation_id", conversationID, "error", err.Error())
	}
	prev, err := a.analyses.Latest(ctx, conversationID)
	if err != nil {
		slog.Warn("failed to load previous intent analysis", "conversation_id", conversationID, "error", err.Error())
	}
	summaryCount, err := a.summaries.Count(ctx, conversationID)
	if err != nil {
		slog.Warn("failed to count summaries", "conversation_id", conversationID, "error", err.Error())
	}
	stats := ContextStats{Messages: len(recent), Summaries: summaryCount}

	classification, raw, err := a.classify(ctx, conversationID, message, recent, prev, nil)
	if err != nil {
		slog.Warn("intent classification failed, using fallback decision", "conversation_id", conversationID, "error", err.Error())
		return a.persist(ctx, conversationID, messageID, fallbackAnalysis(conversationID, messageID)), nil
	}

	if stageTwoDecision(classification.Strategy) == decideReanalyze {
		classification, raw = a.reanalyze(ctx, conversationID, message, recent, prev, classification, raw)
	}

	factors := computeFactors(classification, stats, message)
	score := scoreFactors(factors)
	analysis := &types.IntentAnalysis{
		ConversationID:  conversationID,
		MessageID:       messageID,
		Classification:  classification,
		Confidence:      score,
		ConfidenceLevel: levelFor(score, analysisThresholds),
		Factors:         factors,
		Raw:             raw,
	}
	return a.persist(ctx, conversationID, messageID, analysis), nil
}

// reanalyze runs stage two against the enriched window. A stage-two failure
// keeps the stage-one result; the turn never loses its decision.
func (a *Analyzer) reanalyze(ctx context.Context, conversationID, message string, recent []types.Message, prev *types.IntentAnalysis, stageOne types.IntentClassification, stageOneRaw json.RawMessage) (types.IntentClassification, json.RawMessage) {
	corpus, err := a.summaries.Recent(ctx, conversationID, allSummariesLimit)
	if err != nil {
		slog.Warn("failed to load summary corpus for re-analysis", "conversation_id", conversationID, "error", err.Error())
		return stageOne, stageOneRaw
	}
	tail := recent
	if len(tail) > stageTwoTurns {
		tail = tail[len(tail)-stageTwoTurns:]
	}

	classification, raw, err := a.classify(ctx, conversationID, message, tail, prev, corpus)
	if err != nil {
		slog.Warn("re-analysis failed, keeping stage-one result", "conversation_id", conversationID, "error", err.Error())
		return stageOne, stageOneRaw
	}
	return classification, raw
}

func (a *Analyzer) persist(ctx context.Context, conversationID, messageID string, analysis *types.IntentAnalysis) *types.IntentAnalysis {
	if err := a.analyses.Insert(ctx, analysis); err != nil {
		// The decision is still usable; only its audit trail is lost.
		slog.Warn("failed to persist intent analysis", "conversation_id", conversationID, "message_id", messageID, "error", err.Error())
	}
	return analysis
}

// classify runs one structured-output classification pass.
func (a *Analyzer) classify(ctx context.Context, conversationID, message string, recent []types.Message, prev *types.IntentAnalysis, corpus []types.TopicSummary) (types.IntentClassification, json.RawMessage, error) {
	started := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, a.llmTimeout)
	defer cancel()

	temperature := float32(0.1)
	req := &model.LLMRequest{
		Contents: []*genai.Content{
			genai.NewContentFromText(classifyInstruction, "system"),
			genai.NewContentFromText(buildAnalysisPrompt(message, recent, prev, corpus), "user"),
		},
		Config: &genai.GenerateContentConfig{
			Temperature:        &temperature,
			MaxOutputTokens:    1024,
			ResponseJsonSchema: classificationSchema(),
		},
	}

	raw, err := models.GenerateText(callCtx, a.llm, req)

	a.tracker.Track(ctx, usage.Record{
		ConversationID: conversationID,
		OperationType:  usage.OpIntentAnalysis,
		Model:          a.llm.Name(),
		InputTokens:    usage.EstimateTokens(message),
		OutputTokens:   usage.EstimateTokens(raw),
		Duration:       time.Since(started),
		Success:        err == nil,
	})
	if err != nil {
		return types.IntentClassification{}, nil, err
	}

	classification, err := parseClassification(raw)
	if err != nil {
		return types.IntentClassification{}, nil, err
	}
	return classification, json.RawMessage(raw), nil
}

// UpdateConfidenceWithSearchResults back-fills the search-quality factor from
// an executed retrieval and patches the stored analysis. This is the one
// mutation an IntentAnalysis row sees after creation.
func (a *Analyzer) UpdateConfidenceWithSearchResults(ctx context.Context, analysis *types.IntentAnalysis, retrieval types.RetrievalConfidence) error {
	if analysis == nil || analysis.ID == "" {
		return fmt.Errorf("analysis has not been persisted")
	}

	factors := analysis.Factors
	factors.SearchResultQuality = clampScore(retrieval.Quality)
	score := scoreFactors(factors)
	level := levelFor(score, updateThresholds)

	if err := a.analyses.UpdateConfidence(ctx, analysis.ID, score, level, factors); err != nil {
		return err
	}
	analysis.Factors = factors
	analysis.Confidence = score
	analysis.ConfidenceLevel = level
	return nil
}

func fallbackAnalysis(conversationID, messageID string) *types.IntentAnalysis {
	return &types.IntentAnalysis{
		ConversationID:  conversationID,
		MessageID:       messageID,
		Classification:  fallbackClassification(),
		Confidence:      fallbackConfidence,
		ConfidenceLevel: types.ConfidenceLow,
		Factors: types.ConfidenceFactors{
			SearchResultQuality: fallbackConfidence,
			ContextAvailability: fallbackConfidence,
			QuerySpecificity:    fallbackConfidence,
			HistoricalMatch:     fallbackConfidence,
		},
	}
}

// buildAnalysisPrompt lays out the context window for one classification
// pass: recent turns, continuity from the previous analysis, and, in stage
// two, the summary corpus.
func buildAnalysisPrompt(message string, recent []types.Message, prev *types.IntentAnalysis, corpus []types.TopicSummary) string {
	var sb strings.Builder

	if len(recent) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, msg := range recent {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if prev != nil {
		sb.WriteString("Previous analysis:\n")
		sb.WriteString("- intent: ")
		sb.WriteString(prev.Classification.CurrentIntent)
		sb.WriteString("\n")
		if len(prev.Classification.KeyTopics) > 0 {
			sb.WriteString("- topics: ")
			sb.WriteString(strings.Join(prev.Classification.KeyTopics, ", "))
			sb.WriteString("\n")
		}
		if len(prev.Classification.PendingQuestions) > 0 {
			sb.WriteString("- pending questions: ")
			sb.WriteString(strings.Join(prev.Classification.PendingQuestions, "; "))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(corpus) > 0 {
		sb.WriteString("Stored topic summaries:\n")
		for _, summary := range corpus {
			sb.WriteString("- [")
			sb.WriteString(summary.CreatedAt.Format("2006-01-02"))
			sb.WriteString("] ")
			sb.WriteString(summary.Topic)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("New user message:\n")
	sb.WriteString(message)
	return sb.String()
}
