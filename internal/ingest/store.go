package ingest

import (
	"context"
	"strconv"

	"github.com/tbourn/go-rag-backend/internal/vectorstore"
)

// FetchBatchSize bounds the number of ids per existence lookup.
const FetchBatchSize = 100

// SourceRef identifies the knowledge source chunks are attributed to.
type SourceRef struct {
	ID   string
	Name string
}

// Store writes chunks to the vector index, skipping any whose content hash
// is already present. The first writer of a hash keeps its metadata.
type Store struct {
	Index vectorstore.Index
}

// Ingest hashes chunks, looks them up in batches of FetchBatchSize and
// upserts the missing ones. Duplicate chunks inside one call are stored
// once, with the first ordinal. It returns the number of records written.
func (s *Store) Ingest(ctx context.Context, src SourceRef, chunks []string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool, len(chunks))
	ids := make([]string, 0, len(chunks))
	recs := make(map[string]vectorstore.Record, len(chunks))
	for i, text := range chunks {
		h := Hash(text)
		if seen[h] {
			continue
		}
		seen[h] = true
		ids = append(ids, h)
		recs[h] = vectorstore.Record{
			ID:   h,
			Text: text,
			Metadata: map[string]string{
				vectorstore.MetaSource:      src.Name,
				vectorstore.MetaSourceID:    src.ID,
				vectorstore.MetaChunk:       strconv.Itoa(i),
				vectorstore.MetaContentHash: h,
			},
		}
	}

	existing := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += FetchBatchSize {
		end := min(start+FetchBatchSize, len(ids))
		found, err := s.Index.Existing(ctx, ids[start:end])
		if err != nil {
			return 0, err
		}
		for id, ok := range found {
			if ok {
				existing[id] = true
			}
		}
	}

	fresh := make([]vectorstore.Record, 0, len(ids))
	for _, id := range ids {
		if !existing[id] {
			fresh = append(fresh, recs[id])
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.Index.Upsert(ctx, fresh); err != nil {
		return 0, err
	}
	return len(fresh), nil
}
