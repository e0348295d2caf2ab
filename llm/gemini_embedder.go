package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"
)

const (
	defaultEmbeddingModel = "gemini-embedding-001"

	// EmbeddingDimensions is fixed across the whole system; the vector
	// collection is created with the same size.
	EmbeddingDimensions = 768
)

// GeminiEmbedder calls the Gemini embedContent REST API and returns
// L2-normalized 768-dimension vectors.
type GeminiEmbedder struct {
	apiKey string
	model  string
	client *http.Client
}

// NewGeminiEmbedder creates an embedder for the given model. An empty
// model selects the default embedding model.
func NewGeminiEmbedder(apiKey, model string) *GeminiEmbedder {
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &GeminiEmbedder{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// EmbeddingRequest represents an embedding API request
type EmbeddingRequest struct {
	Model                string       `json:"model"`
	Content              ContentInput `json:"content"`
	TaskType             string       `json:"task_type,omitempty"`
	OutputDimensionality int          `json:"output_dimensionality,omitempty"`
}

// ContentInput represents content for embedding
type ContentInput struct {
	Parts []PartInput `json:"parts"`
}

// PartInput represents a part of content
type PartInput struct {
	Text string `json:"text"`
}

// EmbeddingResponse represents an embedding API response
type EmbeddingResponse struct {
	Embedding EmbeddingData `json:"embedding"`
}

// EmbeddingData contains the embedding values
type EmbeddingData struct {
	Values []float64 `json:"values"`
}

// Embed implements Embedder.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float64, error) {
	reqBody := EmbeddingRequest{
		Model: "models/" + e.model,
		Content: ContentInput{
			Parts: []PartInput{{Text: text}},
		},
		TaskType:             taskType,
		OutputDimensionality: EmbeddingDimensions,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:embedContent", generativeLanguageBase, e.model)

	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", e.apiKey)

		resp, err := e.client.Do(req)
		if err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to send request after %d attempts: %w", maxRetries, err)
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var apiResp EmbeddingResponse
			if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
				resp.Body.Close()
				if attempt == maxRetries-1 {
					return nil, fmt.Errorf("failed to decode response: %w", err)
				}
				continue
			}
			resp.Body.Close()
			return normalize(apiResp.Embedding.Values), nil
		}

		resp.Body.Close()

		// Don't retry on 400 or 401 errors
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("API error: %d", resp.StatusCode)
		}

		if attempt == maxRetries-1 {
			return nil, fmt.Errorf("API error after %d attempts: %d", maxRetries, resp.StatusCode)
		}
	}

	return nil, ErrEmbeddingFailed
}

// normalize scales a vector to unit length. Zero vectors pass through.
func normalize(embedding []float64) []float64 {
	norm := 0.0
	for _, v := range embedding {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range embedding {
			embedding[i] /= norm
		}
	}
	return embedding
}
