// Package vstest provides an in-process embedder for tests that need a real
// vector index without calling an embeddings vendor.
package vstest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
)

// Dim is the dimension of vectors produced by Embedder.
const Dim = 64

// Embedder hashes words into a fixed-size bag-of-words vector and
// L2-normalizes it. Texts sharing words land close together.
type Embedder struct {
	Calls atomic.Int64
	Err   error
}

// EmbedDocuments implements vectorstore.Embedder.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// EmbedQuery implements vectorstore.Embedder.
func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.Calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	v := make([]float32, Dim)
	v[0] = 0.01
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,;:!?\"'()")))
		v[h.Sum32()%Dim]++
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v, nil
}
