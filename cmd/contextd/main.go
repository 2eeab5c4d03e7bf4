// contextd runs the conversational context engine: it ingests chat turns,
// analyzes intent, retrieves relevant history, and compacts old turns into
// topic summaries in the background.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"google.golang.org/genai"

	"github.com/lumenchat/contextd/internal/config"
	"github.com/lumenchat/contextd/internal/embedding"
	"github.com/lumenchat/contextd/internal/engine"
	"github.com/lumenchat/contextd/internal/index"
	"github.com/lumenchat/contextd/internal/intent"
	"github.com/lumenchat/contextd/internal/models"
	"github.com/lumenchat/contextd/internal/repository"
	"github.com/lumenchat/contextd/internal/retrieval"
	"github.com/lumenchat/contextd/internal/summarize"
	"github.com/lumenchat/contextd/internal/usage"
)

// sweepActivity is how far back the periodic sweep looks for conversations
// that may still have unsummarized ranges.
const sweepActivity = time.Hour

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := repository.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	embedder, err := embedding.NewGenAIEmbedder(ctx, cfg.GoogleAPIKey, cfg.EmbeddingModel)
	if err != nil {
		log.Fatalf("failed to create embedder: %v", err)
	}

	intentLLM, err := models.NewGrokModel(ctx, cfg.IntentModel, &genai.ClientConfig{APIKey: cfg.XAIAPIKey})
	if err != nil {
		log.Fatalf("failed to create intent model: %v", err)
	}
	summaryLLM, err := models.NewGrokModel(ctx, cfg.SummaryModel, &genai.ClientConfig{APIKey: cfg.XAIAPIKey})
	if err != nil {
		log.Fatalf("failed to create summary model: %v", err)
	}

	tracker := usage.NewRepoTracker(store.Usage)
	topicIndex := index.New(embedder, store.Summaries, tracker, cfg.EmbeddingModel)
	queue := summarize.NewQueue()
	summarizer := summarize.NewSummarizer(summaryLLM, store.Messages, store.Summaries, topicIndex, tracker, cfg.TurnThreshold, cfg.LLMTimeout)
	analyzer := intent.NewAnalyzer(intentLLM, store.Messages, store.Summaries, store.Intents, tracker, cfg.RecentWindow, cfg.LLMTimeout)
	retriever := retrieval.NewRetriever(topicIndex, store.Summaries, cfg.TopK, cfg.SimilarityThreshold, cfg.RelatedThreshold)
	eng := engine.New(store.Conversations, store.Messages, analyzer, retriever, summarizer, queue, cfg.RecentWindow)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepInterval, func() {
		if err := eng.Sweep(context.Background(), sweepActivity); err != nil {
			slog.Warn("summarization sweep failed", "error", err.Error())
		}
	}); err != nil {
		log.Fatalf("failed to schedule summarization sweep: %v", err)
	}
	scheduler.Start()

	slog.Info("context engine started",
		"intent_model", cfg.IntentModel,
		"summary_model", cfg.SummaryModel,
		"embedding_model", cfg.EmbeddingModel,
		"sweep_interval", cfg.SweepInterval)

	<-ctx.Done()
	slog.Info("shutting down")
	<-scheduler.Stop().Done()
}
