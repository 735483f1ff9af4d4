package vectorstore

import (
	"context"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"
)

// Chromem is an Index backed by an embedded chromem-go collection.
type Chromem struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromem opens the chromem database at path, or an in-memory one when
// path is empty, and gets or creates the named collection. Documents and
// queries are embedded with embedder.
func NewChromem(path, collection string, embedder Embedder) (*Chromem, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	c, err := db.GetOrCreateCollection(collection, nil, embeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("get or create collection: %w", err)
	}
	return &Chromem{db: db, collection: c}, nil
}

func embeddingFunc(e Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		v, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(v) == 0 {
			return nil, ErrEmptyEmbedding
		}
		return v, nil
	}
}

// Existing implements Index.
func (c *Chromem) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// GetByID only fails for unknown ids.
		if _, err := c.collection.GetByID(ctx, id); err == nil {
			out[id] = true
		}
	}
	return out, nil
}

// Upsert implements Index.
func (c *Chromem) Upsert(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(recs))
	for _, r := range recs {
		docs = append(docs, chromem.Document{
			ID:       r.ID,
			Content:  r.Text,
			Metadata: r.Metadata,
		})
	}
	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Query implements Index.
func (c *Chromem) Query(ctx context.Context, text string, k int) ([]Match, error) {
	n := min(k, c.collection.Count())
	if n <= 0 {
		return nil, nil
	}
	res, err := c.collection.Query(ctx, text, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	out := make([]Match, 0, len(res))
	for _, r := range res {
		out = append(out, Match{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Similarity,
		})
	}
	return out, nil
}

// DeleteBySource implements Index.
func (c *Chromem) DeleteBySource(ctx context.Context, sourceID string) error {
	if c.collection.Count() == 0 {
		return nil
	}
	return c.collection.Delete(ctx, map[string]string{MetaSourceID: sourceID}, nil)
}

// Count returns the number of stored records.
func (c *Chromem) Count() int { return c.collection.Count() }
