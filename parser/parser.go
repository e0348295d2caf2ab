// Package parser converts uploaded files to plain text before chunking.
// Parsing is treated as an opaque capability: any failure here fails the
// whole ingestion request.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFormat is returned for file types the parser cannot read.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Parser extracts plain text from an uploaded file.
type Parser interface {
	Parse(ctx context.Context, r io.Reader, filename string) (string, error)
}

// TextParser reads text-born formats as-is. Binary formats (PDF, DOCX)
// are rejected; converting those is the job of an external converter in
// front of this service.
type TextParser struct {
	extensions map[string]bool
}

// NewTextParser creates a parser for plain-text document formats.
func NewTextParser() *TextParser {
	return &TextParser{
		extensions: map[string]bool{
			".txt":      true,
			".md":       true,
			".markdown": true,
			".csv":      true,
			".log":      true,
		},
	}
}

// Supported reports whether the filename's extension can be parsed.
func (p *TextParser) Supported(filename string) bool {
	return p.extensions[strings.ToLower(filepath.Ext(filename))]
}

// Parse implements Parser.
func (p *TextParser) Parse(ctx context.Context, r io.Reader, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !p.Supported(filename) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8 text", ErrUnsupportedFormat, filename)
	}

	return string(data), nil
}
