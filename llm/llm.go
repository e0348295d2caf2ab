// Package llm provides the text-generation and embedding capabilities the
// RAG pipeline depends on. Both are small interfaces so tests can substitute
// deterministic fakes for the hosted models.
package llm

import (
	"context"
	"errors"

	"policychat-backend/models"
)

// TextGenerator produces text from a system instruction plus an ordered
// conversation. Implementations must request deterministic output
// (temperature 0); the pipeline relies on it.
type TextGenerator interface {
	// Generate returns the full completion in one call.
	Generate(ctx context.Context, systemInstruction string, conversation []models.ChatMessage) (string, error)

	// GenerateStream calls emit for each fragment in generation order.
	// It stops and returns the first error emit returns, and checks ctx
	// between fragments so the caller can abort mid-stream.
	GenerateStream(ctx context.Context, systemInstruction string, conversation []models.ChatMessage, emit func(fragment string) error) error
}

// Task types passed to the embedding model. Documents and queries are
// embedded asymmetrically.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float64, error)
}

var (
	ErrGenerationFailed = errors.New("failed to generate content")
	ErrEmbeddingFailed  = errors.New("failed to generate embedding")
)
