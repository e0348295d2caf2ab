// Package vectorstore provides the nearest-neighbor index chunks are
// served from. The index embeds text internally, so callers only ever
// deal in chunk content and metadata.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"policychat-backend/llm"
	"policychat-backend/models"
)

const (
	// Collection geometry is fixed; see llm.EmbeddingDimensions.
	distanceMetric = "Cosine"

	// Payload key filtered on when a file is deleted.
	fileIDPayloadKey = "metadata.file_id"
)

// SearchResult is one retrieved chunk, most similar first.
type SearchResult struct {
	Content  string
	Metadata map[string]string
	Score    float64
}

// Index is the contract the ingestion and chat services consume.
type Index interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, chunks []models.Chunk) error
	DeleteByFileID(ctx context.Context, fileID string) error
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
}

// QdrantIndex talks to Qdrant over its REST API.
type QdrantIndex struct {
	baseURL    string
	collection string
	apiKey     string
	embedder   llm.Embedder
	client     *http.Client
}

// NewQdrantIndex creates an index client. The embedder is used for both
// document upserts and query searches.
func NewQdrantIndex(baseURL, collection, apiKey string, embedder llm.Embedder) *QdrantIndex {
	return &QdrantIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		apiKey:     apiKey,
		embedder:   embedder,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Result T            `json:"result"`
}

type qdrantStatus struct {
	State string
	Error string
}

// Qdrant encodes status as either the string "ok" or an object carrying
// an error message.
func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}

	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantPoint struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// EnsureCollection creates the collection if it does not exist, with the
// fixed vector size and cosine distance.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	path := fmt.Sprintf("/collections/%s", url.PathEscape(q.collection))

	var rsp qdrantEnvelope[json.RawMessage]
	err := q.do(ctx, http.MethodGet, path, nil, &rsp)
	if err == nil && strings.EqualFold(rsp.Status.State, "ok") {
		return nil
	}
	if err != nil && !strings.Contains(err.Error(), "404") {
		return err
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     llm.EmbeddingDimensions,
			"distance": distanceMetric,
		},
	}

	var createRsp qdrantEnvelope[json.RawMessage]
	if err := q.do(ctx, http.MethodPut, path, req, &createRsp); err != nil {
		return err
	}
	if !strings.EqualFold(createRsp.Status.State, "ok") && createRsp.Status.Error != "" {
		return errors.New(createRsp.Status.Error)
	}
	return nil
}

// Upsert embeds each chunk and writes it as one point. Payload layout is
// {content, metadata{...}} so deletion can filter on metadata.file_id.
func (q *QdrantIndex) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		vector, err := q.embedder.Embed(ctx, chunk.Content, llm.TaskRetrievalDocument)
		if err != nil {
			return fmt.Errorf("failed to embed chunk: %w", err)
		}
		points = append(points, map[string]any{
			"id":     uuid.New().String(),
			"vector": vector,
			"payload": map[string]any{
				"content":  chunk.Content,
				"metadata": chunk.Metadata,
			},
		})
	}

	req := map[string]any{"points": points}
	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(q.collection))

	var rsp qdrantEnvelope[json.RawMessage]
	if err := q.do(ctx, http.MethodPut, path, req, &rsp); err != nil {
		return err
	}
	if !strings.EqualFold(rsp.Status.State, "ok") && rsp.Status.Error != "" {
		return errors.New(rsp.Status.Error)
	}
	return nil
}

// DeleteByFileID removes every point whose payload metadata.file_id
// matches.
func (q *QdrantIndex) DeleteByFileID(ctx context.Context, fileID string) error {
	req := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   fileIDPayloadKey,
					"match": map[string]any{"value": fileID},
				},
			},
		},
	}

	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(q.collection))

	var rsp qdrantEnvelope[json.RawMessage]
	if err := q.do(ctx, http.MethodPost, path, req, &rsp); err != nil {
		return err
	}
	if !strings.EqualFold(rsp.Status.State, "ok") && rsp.Status.Error != "" {
		return errors.New(rsp.Status.Error)
	}
	return nil
}

// Search embeds the query and returns the k nearest chunks.
func (q *QdrantIndex) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if k < 1 {
		return nil, nil
	}

	vector, err := q.embedder.Embed(ctx, query, llm.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(q.collection))

	var rsp qdrantEnvelope[[]qdrantPoint]
	if err := q.do(ctx, http.MethodPost, path, req, &rsp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(rsp.Result))
	for _, point := range rsp.Result {
		content, _ := point.Payload["content"].(string)
		metadata := map[string]string{}
		if raw, ok := point.Payload["metadata"].(map[string]any); ok {
			for key, value := range raw {
				if s, ok := value.(string); ok {
					metadata[key] = s
				}
			}
		}
		results = append(results, SearchResult{
			Content:  content,
			Metadata: metadata,
			Score:    point.Score,
		})
	}

	return results, nil
}

func (q *QdrantIndex) do(ctx context.Context, method, path string, req any, rsp any) error {
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, body)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		request.Header.Set("api-key", q.apiKey)
	}

	response, err := q.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode >= 400 {
		return fmt.Errorf("qdrant http %d: %s", response.StatusCode, string(payload))
	}

	if rsp != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, rsp); err != nil {
			return err
		}
	}

	return nil
}
