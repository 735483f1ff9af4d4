// Package vectorstore abstracts the vector index that holds embedded chunks.
// Two backends are provided: an embedded chromem-go database and a Qdrant
// REST client. Both embed text through the configured embedder.
package vectorstore

import (
	"context"
	"errors"
)

// Metadata keys written with every chunk.
const (
	MetaSource      = "source"
	MetaSourceID    = "source_id"
	MetaChunk       = "chunk"
	MetaContentHash = "content_hash"
)

// ErrEmptyEmbedding is returned when the embedder yields no vector.
var ErrEmptyEmbedding = errors.New("embedder returned an empty vector")

// Record is a chunk to be embedded and stored under ID.
type Record struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Match is a similarity search hit. Score is cosine similarity; higher is
// closer.
type Match struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float32
}

// Index is the contract the ingestion pipeline and retriever rely on.
type Index interface {
	// Existing reports which of ids are already stored.
	Existing(ctx context.Context, ids []string) (map[string]bool, error)
	// Upsert embeds and writes recs; an existing ID is overwritten.
	Upsert(ctx context.Context, recs []Record) error
	// Query returns up to k matches for text, best first.
	Query(ctx context.Context, text string, k int) ([]Match, error)
	// DeleteBySource removes every record whose source_id metadata equals sourceID.
	DeleteBySource(ctx context.Context, sourceID string) error
}

// Embedder is the subset of langchaingo's embeddings.Embedder used here.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
