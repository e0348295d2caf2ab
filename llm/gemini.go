package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"policychat-backend/models"
)

const (
	generativeLanguageBase = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultChatModel       = "gemini-2.0-flash"

	maxRetries     = 3
	initialBackoff = time.Second
)

// GeminiGenerator calls the Gemini generateContent REST API. Retries with
// backoff happen here, at the transport edge; callers never retry.
type GeminiGenerator struct {
	apiKey string
	model  string
	client *http.Client
}

// NewGeminiGenerator creates a generator for the given model. An empty
// model selects the default chat model.
func NewGeminiGenerator(apiKey, model string) *GeminiGenerator {
	if model == "" {
		model = defaultChatModel
	}
	return &GeminiGenerator{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Role  string         `json:"role,omitempty"`
	Parts []generatePart `json:"parts"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	SystemInstruction *generateContent `json:"systemInstruction,omitempty"`
	Contents          []generateContent `json:"contents"`
	GenerationConfig  generationConfig  `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []generatePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

// buildRequest maps conversation turns onto the Gemini wire format. The
// API names the assistant role "model"; anything else is sent as "user".
func buildRequest(systemInstruction string, conversation []models.ChatMessage) generateRequest {
	req := generateRequest{
		GenerationConfig: generationConfig{Temperature: 0},
	}
	if systemInstruction != "" {
		req.SystemInstruction = &generateContent{
			Parts: []generatePart{{Text: systemInstruction}},
		}
	}
	for _, msg := range conversation {
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, generateContent{
			Role:  role,
			Parts: []generatePart{{Text: msg.Content}},
		})
	}
	return req
}

// Generate implements TextGenerator.
func (g *GeminiGenerator) Generate(ctx context.Context, systemInstruction string, conversation []models.ChatMessage) (string, error) {
	jsonData, err := json.Marshal(buildRequest(systemInstruction, conversation))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent", generativeLanguageBase, g.model)

	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		content, retryable, err := g.callOnce(ctx, endpoint, jsonData)
		if err != nil {
			if !retryable || attempt == maxRetries-1 {
				return "", err
			}
			continue
		}
		if content != "" {
			return content, nil
		}
		if attempt == maxRetries-1 {
			return "", ErrGenerationFailed
		}
	}

	return "", ErrGenerationFailed
}

// callOnce performs one generateContent round trip. The second return
// value reports whether a failure is worth retrying.
func (g *GeminiGenerator) callOnce(ctx context.Context, endpoint string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized
		return "", retryable, fmt.Errorf("API error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp generateResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		log.Printf("Failed to decode response. Body: %s", string(bodyBytes))
		return "", true, fmt.Errorf("failed to decode response: %w", err)
	}

	if apiResp.Error.Message != "" {
		return "", true, fmt.Errorf("API error: %s (code: %d)", apiResp.Error.Message, apiResp.Error.Code)
	}
	if apiResp.PromptFeedback.BlockReason != "" {
		return "", false, fmt.Errorf("API blocked prompt: %s", apiResp.PromptFeedback.BlockReason)
	}
	if len(apiResp.Candidates) == 0 {
		return "", true, fmt.Errorf("API returned no candidates")
	}

	var responseText strings.Builder
	for i, candidate := range apiResp.Candidates {
		if candidate.FinishReason != "" && candidate.FinishReason != "STOP" {
			log.Printf("Warning: Candidate %d finished with reason: %s", i, candidate.FinishReason)
		}
		for _, part := range candidate.Content.Parts {
			responseText.WriteString(part.Text)
		}
	}

	return responseText.String(), true, nil
}

// GenerateStream implements TextGenerator using the SSE streaming variant
// of the API. Streaming is attempted once; retrying a partially consumed
// stream would duplicate fragments already forwarded to the caller.
func (g *GeminiGenerator) GenerateStream(ctx context.Context, systemInstruction string, conversation []models.ChatMessage, emit func(fragment string) error) error {
	jsonData, err := json.Marshal(buildRequest(systemInstruction, conversation))
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", generativeLanguageBase, g.model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	return consumeSSE(ctx, resp.Body, emit)
}

// consumeSSE reads "data:" events off an SSE body and forwards each text
// part to emit in arrival order. Context is checked between events.
func consumeSSE(ctx context.Context, body io.Reader, emit func(fragment string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var event generateResponse
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return fmt.Errorf("failed to decode stream event: %w", err)
		}
		if event.Error.Message != "" {
			return fmt.Errorf("API error: %s (code: %d)", event.Error.Message, event.Error.Code)
		}

		for _, candidate := range event.Candidates {
			for _, part := range candidate.Content.Parts {
				if part.Text == "" {
					continue
				}
				if err := emit(part.Text); err != nil {
					return err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}
