package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"policychat-backend/llm"
	"policychat-backend/models"
	"policychat-backend/vectorstore"
)

var (
	ErrQueryRewriteFailed = errors.New("failed to rewrite query")
	ErrRetrievalFailed    = errors.New("failed to retrieve context")
	ErrAnswerFailed       = errors.New("failed to compose answer")
)

const (
	// The history token estimate is chars/4; above this budget the
	// retrieval breadth narrows so the total prompt stays within the
	// model's context window.
	historyTokenBudget = 2000
	charsPerToken      = 4
	wideK              = 4
	narrowK            = 2
)

const rewritePrompt = `You are a Policy Search Query Optimizer. Given a chat history and the latest user question, perform the following:
1. Reformulate the question into a standalone version if it references previous turns.
2. Enrich the question with relevant policy terminology, keywords, and synonyms (e.g., if the user asks about 'leaving', include terms like 'resignation', 'notice period', 'termination').
3. Ensure the optimized query is designed to match formal policy documentation and section titles.
4. Keep the output as a single, concise search-optimized string. Do NOT answer the question.`

const answerPromptTemplate = `You are a knowledgeable and approachable Policy Specialist. Your goal is to provide clear, accurate guidance to employees based only on the provided policy context.

Operational Guidelines:

Conversational Authority: Speak naturally. Instead of "The policy states X," try "You're eligible for X" or "Our current guidelines for X are..."

No Meta-References: Never mention "the provided documents," "the context," or "the database." The user should feel they are talking to a person, not a file-reader.

The "I Don't Know" Protocol: If the context doesn't cover the query, say: "I don't have the specific details on [Topic] in my current records. It's best to reach out to the HR Operations team directly for clarification."

Conciseness: Provide the answer in 3 sentences or fewer unless the topic is a complex multi-step process.

Context:
%s`

// Lines starting with one of these words are treated as conversational
// prompt injection and stripped before history reaches the generator.
// Best-effort textual filter, not a guarantee.
var injectionKeywords = map[string]bool{
	"ignore":    true,
	"disregard": true,
	"forget":    true,
	"override":  true,
	"instead":   true,
	"system":    true,
}

const injectionPrefix = "instruction:"

// ChatService answers questions over the indexed corpus: it sanitizes the
// conversation, sizes the retrieval window, rewrites the question into a
// standalone search query, and composes a grounded answer.
type ChatService struct {
	generator llm.TextGenerator
	index     vectorstore.Index
}

// ChatServiceOption is a functional option for ChatService
type ChatServiceOption func(*ChatService)

// ChatWithGenerator sets the text generator
func ChatWithGenerator(generator llm.TextGenerator) ChatServiceOption {
	return func(s *ChatService) {
		s.generator = generator
	}
}

// ChatWithIndex sets the vector index
func ChatWithIndex(index vectorstore.Index) ChatServiceOption {
	return func(s *ChatService) {
		s.index = index
	}
}

// NewChatService creates a new chat service
func NewChatService(opts ...ChatServiceOption) *ChatService {
	s := &ChatService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lineIsInjection reports whether a line's first word (after leading
// whitespace, case-insensitive) is an instruction-override keyword.
func lineIsInjection(line string) bool {
	trimmed := strings.ToLower(strings.TrimLeft(line, " \t"))
	if strings.HasPrefix(trimmed, injectionPrefix) {
		return true
	}

	end := 0
	for _, r := range trimmed {
		if !unicode.IsLetter(r) {
			break
		}
		end += len(string(r))
	}
	return injectionKeywords[trimmed[:end]]
}

// sanitizeHistory strips injection lines from each turn and drops turns
// left empty. Order is preserved and the operation is idempotent.
func sanitizeHistory(history []models.ChatMessage) []models.ChatMessage {
	sanitized := make([]models.ChatMessage, 0, len(history))
	for _, turn := range history {
		var kept []string
		for _, line := range strings.Split(turn.Content, "\n") {
			if lineIsInjection(line) {
				continue
			}
			kept = append(kept, line)
		}

		content := strings.Join(kept, "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		sanitized = append(sanitized, models.ChatMessage{Role: turn.Role, Content: content})
	}
	return sanitized
}

// chooseK picks the retrieval breadth from the estimated history size.
// Two discrete tiers with a single threshold; the boundary is inclusive
// on the wide side.
func chooseK(history []models.ChatMessage) int {
	chars := 0
	for _, turn := range history {
		chars += len(turn.Content)
	}
	if chars/charsPerToken > historyTokenBudget {
		return narrowK
	}
	return wideK
}

// RewriteQuery turns a context-dependent question plus history into a
// standalone, vocabulary-enriched search query. The output is opaque and
// goes straight to the index.
func (s *ChatService) RewriteQuery(ctx context.Context, question string, history []models.ChatMessage) (string, error) {
	if s.generator == nil {
		return "", errors.New("text generator not set")
	}

	conversation := append(append([]models.ChatMessage{}, history...), models.ChatMessage{
		Role:    models.RoleUser,
		Content: question,
	})

	response, err := s.generator.Generate(ctx, rewritePrompt, conversation)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrQueryRewriteFailed, err)
	}

	query, _, _ := strings.Cut(strings.TrimSpace(response), "\n")
	if query == "" {
		return "", ErrQueryRewriteFailed
	}
	return query, nil
}

// retrieve runs the sanitize → choose k → rewrite → search stages and
// returns the sanitized history together with the grounding context.
func (s *ChatService) retrieve(ctx context.Context, question string, history []models.ChatMessage) ([]models.ChatMessage, string, error) {
	if s.index == nil {
		return nil, "", errors.New("vector index not set")
	}

	sanitized := sanitizeHistory(history)
	k := chooseK(sanitized)

	query, err := s.RewriteQuery(ctx, question, sanitized)
	if err != nil {
		return nil, "", err
	}

	results, err := s.index.Search(ctx, query, k)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}

	var contextText strings.Builder
	for i, result := range results {
		if i > 0 {
			contextText.WriteString("\n\n")
		}
		contextText.WriteString(result.Content)
	}

	return sanitized, contextText.String(), nil
}

// Answer runs the full pipeline and blocks until the answer is complete.
func (s *ChatService) Answer(ctx context.Context, question string, history []models.ChatMessage) (string, error) {
	sanitized, contextText, err := s.retrieve(ctx, question, history)
	if err != nil {
		return "", err
	}

	conversation := append(sanitized, models.ChatMessage{
		Role:    models.RoleUser,
		Content: question,
	})

	answer, err := s.generator.Generate(ctx, fmt.Sprintf(answerPromptTemplate, contextText), conversation)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnswerFailed, err)
	}
	return answer, nil
}

// AnswerStream runs the full pipeline and forwards answer fragments to
// emit in generation order. Cancellation is honored between fragments via
// ctx; no fragment is buffered beyond detecting the end of the stream.
func (s *ChatService) AnswerStream(ctx context.Context, question string, history []models.ChatMessage, emit func(fragment string) error) error {
	sanitized, contextText, err := s.retrieve(ctx, question, history)
	if err != nil {
		return err
	}

	conversation := append(sanitized, models.ChatMessage{
		Role:    models.RoleUser,
		Content: question,
	})

	if err := s.generator.GenerateStream(ctx, fmt.Sprintf(answerPromptTemplate, contextText), conversation, emit); err != nil {
		return fmt.Errorf("%w: %v", ErrAnswerFailed, err)
	}
	return nil
}
