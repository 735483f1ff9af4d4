package ingest

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Separators are tried in order; the empty separator splits into runes.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into overlapping chunks no longer than the chunk size,
// measured in runes. Splitting is deterministic.
type Splitter struct {
	rc textsplitter.RecursiveCharacter
}

// NewSplitter returns a recursive splitter with the given size and overlap.
// Non-positive values fall back to the defaults.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(DefaultChunkOverlap, size/5)
	}
	return &Splitter{rc: textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(Separators),
		textsplitter.WithKeepSeparator(true),
	)}
}

// Split returns the non-blank chunks of text in document order.
func (s *Splitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	parts, err := s.rc.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
