// Package embedding converts text into fixed-dimension vectors for topic
// similarity search.
package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// Dimensions is the fixed embedding width stored in the vector column. Every
// provider response is normalized to this width before it reaches storage.
const Dimensions = 384

// outputDim is passed to the provider so it produces Dimensions-wide vectors
// directly instead of relying on truncation.
var outputDim = int32(Dimensions)

// Embedder turns text into vector representations. Queries and documents use
// different task types so the provider can optimize each side of the
// retrieval pair.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// GenAIEmbedder is the Gemini-backed Embedder implementation.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder creates the GenAI embedding client.
func NewGenAIEmbedder(ctx context.Context, apiKey, modelName string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google api key is required for embeddings")
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIEmbedder{
		client: client,
		model:  modelName,
	}, nil
}

func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "RETRIEVAL_QUERY")
}

func (e *GenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "RETRIEVAL_DOCUMENT")
}

func (e *GenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.EmbedDocument(ctx, text)
		if err != nil {
			return nil, err
		}
		results = append(results, vec)
	}
	return results, nil
}

func (e *GenAIEmbedder) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &outputDim,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("empty embedding response")
	}
	return e.fitDimensions(resp.Embeddings[0].Values)
}

// fitDimensions enforces the storage width. Some models ignore the requested
// dimensionality and return their native width; a wider vector is truncated
// (Matryoshka-style prefixes stay meaningful), a narrower one cannot be
// padded into anything searchable and is rejected.
func (e *GenAIEmbedder) fitDimensions(values []float32) ([]float32, error) {
	switch {
	case len(values) == Dimensions:
		return values, nil
	case len(values) > Dimensions:
		slog.Warn("embedding dimensions exceed target, truncating",
			"actual", len(values), "target", Dimensions, "model", e.model)
		return values[:Dimensions], nil
	default:
		return nil, fmt.Errorf("embedding dimensions mismatch: got %d want %d", len(values), Dimensions)
	}
}
