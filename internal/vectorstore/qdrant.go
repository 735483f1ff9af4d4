package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// errNoCollection marks a 404 from Qdrant for a collection not yet created.
var errNoCollection = errors.New("qdrant collection does not exist")

// chunkNamespace derives stable point ids from content hashes; Qdrant only
// accepts unsigned integers or UUIDs as ids.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("go-rag-backend/chunks"))

// QdrantConfig configures the Qdrant REST client.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Qdrant is an Index backed by the Qdrant REST API. It assumes cosine
// distance and creates the collection on first write, sized from the first
// embedding.
type Qdrant struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
	embedder   Embedder

	mu    sync.Mutex
	ready bool
}

// NewQdrant returns a client for cfg that embeds with embedder.
func NewQdrant(cfg QdrantConfig, embedder Embedder) *Qdrant {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		embedder:   embedder,
	}
}

// PointID maps a chunk id to its Qdrant point id.
func PointID(id string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(id)).String()
}

func (q *Qdrant) ensureCollection(ctx context.Context, dimension int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	err := q.do(ctx, http.MethodPut, q.collectionURL(""), body, nil)
	var se *statusError
	if err != nil && !(errors.As(err, &se) && se.code == http.StatusConflict) {
		return err
	}
	q.ready = true
	return nil
}

// Existing implements Index.
func (q *Qdrant) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	byPoint := make(map[string]string, len(ids))
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		p := PointID(id)
		byPoint[p] = id
		points = append(points, p)
	}
	var resp struct {
		Result []struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	req := map[string]any{"ids": points, "with_payload": false, "with_vector": false}
	if err := q.do(ctx, http.MethodPost, q.collectionURL("/points"), req, &resp); err != nil {
		if errors.Is(err, errNoCollection) {
			return out, nil
		}
		return nil, err
	}
	for _, r := range resp.Result {
		if id, ok := byPoint[r.ID]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// Upsert implements Index.
func (q *Qdrant) Upsert(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	texts := make([]string, len(recs))
	for i, r := range recs {
		texts[i] = r.Text
	}
	vectors, err := q.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(recs) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(recs))
	}
	if len(vectors[0]) == 0 {
		return ErrEmptyEmbedding
	}
	if err := q.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]map[string]any, len(recs))
	for i, r := range recs {
		payload := map[string]any{"text": r.Text}
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[MetaContentHash] = r.ID
		points[i] = map[string]any{
			"id":      PointID(r.ID),
			"vector":  vectors[i],
			"payload": payload,
		}
	}
	return q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil)
}

// Query implements Index.
func (q *Qdrant) Query(ctx context.Context, text string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vector, err := q.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), req, &resp); err != nil {
		if errors.Is(err, errNoCollection) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		m := Match{Score: r.Score, Metadata: map[string]string{}}
		for k, v := range r.Payload {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if k == "text" {
				m.Content = s
				continue
			}
			m.Metadata[k] = s
		}
		m.ID = m.Metadata[MetaContentHash]
		out = append(out, m)
	}
	return out, nil
}

// DeleteBySource implements Index.
func (q *Qdrant) DeleteBySource(ctx context.Context, sourceID string) error {
	req := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": MetaSourceID, "match": map[string]any{"value": sourceID}},
			},
		},
	}
	err := q.do(ctx, http.MethodPost, q.collectionURL("/points/delete?wait=true"), req, nil)
	if errors.Is(err, errNoCollection) {
		return nil
	}
	return err
}

func (q *Qdrant) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", q.url, q.collection, suffix)
}

type statusError struct {
	method string
	url    string
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s", e.method, e.url, e.status)
}

func (q *Qdrant) do(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNoCollection
	}
	if resp.StatusCode >= 300 {
		return &statusError{method: method, url: url, code: resp.StatusCode, status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
