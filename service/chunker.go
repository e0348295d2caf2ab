package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"policychat-backend/llm"
	"policychat-backend/models"
)

const (
	// Pre-split window geometry. The windows only keep each extraction
	// call within a safe input size; they carry no semantic meaning.
	defaultWindowSize    = 4000
	defaultWindowOverlap = 400

	// Character budget for the proposition body of one chunk. A single
	// proposition longer than this still forms its own chunk.
	defaultMaxGroupChars = 1800

	// Title generation looks at no more than this many propositions.
	titleSampleSize = 10

	fallbackTitle = "Untitled Section"
)

const extractionPrompt = "You are an expert at decomposing complex text into standalone propositions. " +
	"Decompose the given text into a list of independent, factual propositions. " +
	"Each proposition MUST be a complete, standalone sentence that is understandable without its original context. " +
	"Include relevant subjects and entities in every sentence. " +
	"Respond with a bulleted list of propositions ONLY."

const titlingPrompt = "You are an expert at summarizing content. Given a list of propositions, " +
	"provide a concise, descriptive title (3-7 words) that represents the main topic. " +
	"Respond with the title ONLY, no quotes or preamble."

// AgenticChunker decomposes documents into standalone propositions using a
// text generator and groups them into size-bounded, titled sections.
type AgenticChunker struct {
	generator     llm.TextGenerator
	windowSize    int
	windowOverlap int
	maxGroupChars int
}

// NewAgenticChunker creates a chunker with the standard window and group
// sizes.
func NewAgenticChunker(generator llm.TextGenerator) *AgenticChunker {
	return &AgenticChunker{
		generator:     generator,
		windowSize:    defaultWindowSize,
		windowOverlap: defaultWindowOverlap,
		maxGroupChars: defaultMaxGroupChars,
	}
}

// Split chunks every document. It never fails: extraction and titling
// errors degrade to fallbacks and are logged, so a non-empty document
// always yields at least one chunk. Empty documents yield none.
func (c *AgenticChunker) Split(ctx context.Context, documents []models.Document) []models.Chunk {
	log.Printf("Starting agentic chunking for %d document(s)", len(documents))

	var finalChunks []models.Chunk

	for _, doc := range documents {
		propositions := c.collectPropositions(ctx, doc.Content)

		unique := dedupPropositions(propositions)
		log.Printf("Reduced %d propositions to %d unique", len(propositions), len(unique))

		for _, group := range c.packGroups(unique) {
			title := c.generateTitle(ctx, group)

			metadata := doc.CopyMetadata()
			metadata["section_title"] = title

			finalChunks = append(finalChunks, models.Chunk{
				Content:  fmt.Sprintf("Section: %s\n%s", title, strings.Join(group, " ")),
				Metadata: metadata,
			})
		}
	}

	log.Printf("Agentic chunking complete. Produced %d final chunks", len(finalChunks))
	return finalChunks
}

// collectPropositions extracts propositions window by window, preserving
// window order.
func (c *AgenticChunker) collectPropositions(ctx context.Context, content string) []string {
	var all []string
	for _, window := range splitWindows(content, c.windowSize, c.windowOverlap) {
		all = append(all, c.extractPropositions(ctx, window)...)
	}
	return all
}

// extractPropositions asks the generator to decompose one window. On
// failure the raw window text stands in as a single proposition so no
// content is ever dropped.
func (c *AgenticChunker) extractPropositions(ctx context.Context, window string) []string {
	response, err := c.generator.Generate(ctx, extractionPrompt, []models.ChatMessage{
		{Role: models.RoleUser, Content: window},
	})
	if err != nil {
		log.Printf("Warning: Failed to extract propositions (window %d chars), using raw text: %v", len(window), err)
		return []string{window}
	}

	var propositions []string
	for _, line := range strings.Split(response, "\n") {
		prop := strings.TrimSpace(strings.Trim(line, "-* \t"))
		if prop != "" {
			propositions = append(propositions, prop)
		}
	}
	if len(propositions) == 0 {
		return []string{window}
	}
	return propositions
}

// generateTitle summarizes a group into a short title, falling back to a
// fixed placeholder when generation fails or returns nothing.
func (c *AgenticChunker) generateTitle(ctx context.Context, group []string) string {
	sample := group
	if len(sample) > titleSampleSize {
		sample = sample[:titleSampleSize]
	}

	response, err := c.generator.Generate(ctx, titlingPrompt, []models.ChatMessage{
		{Role: models.RoleUser, Content: strings.Join(sample, "\n")},
	})
	if err != nil {
		log.Printf("Warning: Failed to generate section title (%d propositions): %v", len(group), err)
		return fallbackTitle
	}

	firstLine, _, _ := strings.Cut(response, "\n")
	title := strings.Trim(firstLine, "\"' ")
	if title == "" {
		return fallbackTitle
	}
	return title
}

// splitWindows cuts text into fixed-size rune windows with the given
// overlap. Empty or whitespace-only text yields no windows.
func splitWindows(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	if step < 1 {
		step = 1
	}

	var windows []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return windows
}

// dedupPropositions drops exact duplicates under trim+casefold
// normalization, keeping the first occurrence.
func dedupPropositions(propositions []string) []string {
	seen := make(map[string]bool, len(propositions))
	var unique []string
	for _, prop := range propositions {
		key := strings.ToLower(strings.TrimSpace(prop))
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, prop)
	}
	return unique
}

// packGroups greedily bins propositions under the character budget. A
// proposition that alone exceeds the budget becomes its own group.
func (c *AgenticChunker) packGroups(propositions []string) [][]string {
	var groups [][]string
	var current []string
	currentLen := 0

	for _, prop := range propositions {
		if currentLen+len(prop) < c.maxGroupChars {
			current = append(current, prop)
			currentLen += len(prop)
			continue
		}
		if len(current) > 0 {
			groups = append(groups, current)
		}
		current = []string{prop}
		currentLen = len(prop)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
