// Package search retrieves the knowledge chunks most relevant to a question.
// Ranking is by embedding similarity from the vector index, optionally
// blended with a lexical overlap score:
//
//	score = (1-w)*similarity + w*|Q ∩ C| / |Q ∪ C|
//
// where Q and C are the token sets of the query and the chunk. With the
// default w=0 the vector order is kept as-is.
//
// The package does not log; callers decide what to record.
package search

import (
	"context"
	"sort"
	"strings"

	"github.com/tbourn/go-rag-backend/internal/vectorstore"
)

// DefaultK is the number of results returned when k <= 0.
const DefaultK = 5

// UnknownSource labels chunks stored without a source name.
const UnknownSource = "unknown"

// Result is a retrieved chunk with the name of the file it came from.
type Result struct {
	Content string
	Source  string
	Score   float64
}

// Option configures a Retriever.
type Option func(*config)

type config struct {
	defaultK      int
	lexicalWeight float64
	minScore      float64
	candidates    int
}

func defaultConfig() config {
	return config{defaultK: DefaultK}
}

// WithDefaultK sets the result count used when Retrieve is called with k <= 0.
func WithDefaultK(k int) Option {
	return func(c *config) {
		if k > 0 {
			c.defaultK = k
		}
	}
}

// WithLexicalWeight blends token overlap into the ranking. w is clamped to [0,1].
func WithLexicalWeight(w float64) Option {
	return func(c *config) {
		c.lexicalWeight = min(max(w, 0), 1)
	}
}

// WithMinScore drops results scoring below s after blending.
func WithMinScore(s float64) Option {
	return func(c *config) { c.minScore = s }
}

// WithCandidates sets how many hits to pull from the index before
// re-ranking. It only matters with a lexical weight; values below k are
// raised to k.
func WithCandidates(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.candidates = n
		}
	}
}

// Retriever queries a vector index. It is safe for concurrent use when the
// index is.
type Retriever struct {
	index vectorstore.Index
	cfg   config
}

// NewRetriever returns a Retriever over idx.
func NewRetriever(idx vectorstore.Index, opts ...Option) *Retriever {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Retriever{index: idx, cfg: cfg}
}

// Retrieve returns up to k chunks for query, best first. Empty chunks are
// skipped and a missing source label becomes UnknownSource.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = r.cfg.defaultK
	}
	n := k
	if r.cfg.lexicalWeight > 0 && r.cfg.candidates > n {
		n = r.cfg.candidates
	}

	matches, err := r.index.Query(ctx, query, n)
	if err != nil {
		return nil, err
	}

	var qTokens map[string]struct{}
	if r.cfg.lexicalWeight > 0 {
		qTokens = tokenize(query)
	}

	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		source := strings.TrimSpace(m.Metadata[vectorstore.MetaSource])
		if source == "" {
			source = UnknownSource
		}
		score := float64(m.Score)
		if w := r.cfg.lexicalWeight; w > 0 {
			score = (1-w)*score + w*jaccard(qTokens, tokenize(content))
		}
		if score < r.cfg.minScore {
			continue
		}
		out = append(out, Result{Content: m.Content, Source: source, Score: score})
	}

	if r.cfg.lexicalWeight > 0 {
		sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
