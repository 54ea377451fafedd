package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/internal/tlsutil"
)

// QdrantConfig configures the Qdrant vector index.
//
// Qdrant point ids are UUIDs; a stable UUID is derived from CorpusItem.ID and
// the original id is kept in the payload.
type QdrantConfig struct {
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	BaseURL    string        `json:"base_url,omitempty"`
	APIKey     string        `json:"api_key,omitempty"`
	Collection string        `json:"collection"`
	Timeout    time.Duration `json:"timeout,omitempty"`

	AutoCreateCollection bool   `json:"auto_create_collection,omitempty"`
	Distance             string `json:"distance,omitempty"` // Cosine (default), Dot, Euclid
	Wait                 *bool  `json:"wait,omitempty"`     // wait for operation completion (default true)
}

// QdrantIndex implements VectorIndex on Qdrant's REST API. Filters are
// translated to payload "must" conditions on a lower-cased copy of the
// metadata, so matching ignores case like Filters.Matches does.
type QdrantIndex struct {
	cfg QdrantConfig

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantIndex creates a Qdrant-backed index.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) *QdrantIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	if cfg.Wait == nil {
		wait := true
		cfg.Wait = &wait
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &QdrantIndex{
		cfg:     cfg,
		baseURL: baseURL,
		client:  tlsutil.HTTPClient(baseURL, cfg.Timeout),
		logger:  logger.With(zap.String("component", "qdrant_index")),
	}
}

func (s *QdrantIndex) Name() string { return "qdrant" }

var qdrantNamespace = uuid.MustParse("6f1c2a8e-3b7d-4c59-9e21-0d4a7b5c8f13")

func qdrantPointID(itemID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(itemID)).String()
}

const (
	payloadItemID   = "item_id"
	payloadMetadata = "metadata"
	payloadFold     = "fold"
)

func (s *QdrantIndex) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.cfg.Collection) + suffix
}

func (s *QdrantIndex) ensureCollection(ctx context.Context, vectorSize int) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}

	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     vectorSize,
				"distance": s.cfg.Distance,
			},
		}
		err := s.doJSON(ctx, http.MethodPut, s.collectionPath(""), body, nil)
		// Qdrant answers 409 when the collection already exists.
		if err != nil && !strings.Contains(err.Error(), "status=409") {
			s.ensureErr = err
		}
	})
	return s.ensureErr
}

func (s *QdrantIndex) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantIndex) doJSON(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Upsert writes embedded items as points. All vectors must share one dimension.
func (s *QdrantIndex) Upsert(ctx context.Context, items []CorpusItem) error {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}

	points := make([]qdrantPoint, 0, len(items))
	size := 0
	for _, it := range items {
		if len(it.Embedding) == 0 {
			continue
		}
		if size == 0 {
			size = len(it.Embedding)
		}
		if len(it.Embedding) != size {
			return fmt.Errorf("item %s embedding dimension mismatch: got=%d want=%d", it.ID, len(it.Embedding), size)
		}
		points = append(points, qdrantPoint{
			ID:      qdrantPointID(it.ID),
			Vector:  it.Embedding,
			Payload: map[string]any{
				payloadItemID:   it.ID,
				payloadMetadata: it.Metadata,
				payloadFold:     foldMetadata(it.Metadata),
			},
		})
	}
	if len(points) == 0 {
		return nil
	}

	if err := s.ensureCollection(ctx, size); err != nil {
		return err
	}

	path := s.collectionPath("/points")
	if *s.cfg.Wait {
		path += "?wait=true"
	}
	req := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: points}
	if err := s.doJSON(ctx, http.MethodPut, path, req, nil); err != nil {
		return err
	}

	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(points)))
	return nil
}

// Query runs a nearest-neighbour search. Qdrant scores are returned as is.
func (s *QdrantIndex) Query(ctx context.Context, embedding []float32, topK int, filters Filters) ([]Hit, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if topK <= 0 || len(embedding) == 0 {
		return []Hit{}, nil
	}

	req := struct {
		Vector      []float32      `json:"vector"`
		Limit       int            `json:"limit"`
		WithPayload []string       `json:"with_payload"`
		Filter      map[string]any `json:"filter,omitempty"`
	}{
		Vector:      embedding,
		Limit:       topK,
		WithPayload: []string{payloadItemID},
		Filter:      qdrantFilter(filters),
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		id, _ := r.Payload[payloadItemID].(string)
		if id == "" {
			id = fmt.Sprint(r.ID)
		}
		hits = append(hits, Hit{ID: id, Score: r.Score})
	}
	return hits, nil
}

// qdrantFilter requires, for every filter key, one of the allowed values.
// Keys without values are ignored, as in Filters.Matches.
func qdrantFilter(filters Filters) map[string]any {
	must := make([]any, 0, len(filters))
	for _, key := range filters.Keys() {
		if len(filters[key]) == 0 {
			continue
		}
		allowed := make([]string, len(filters[key]))
		for i, v := range filters[key] {
			allowed[i] = foldValue(v)
		}
		must = append(must, map[string]any{
			"key":   payloadFold + "." + key,
			"match": map[string]any{"any": allowed},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

// foldMetadata renders every metadata value as lower-cased strings; list
// values become string lists, which Qdrant matches element-wise.
func foldMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, v := range metadata {
		switch t := v.(type) {
		case nil:
		case []any:
			vals := make([]string, 0, len(t))
			for _, e := range t {
				vals = append(vals, foldValue(fmt.Sprint(e)))
			}
			out[key] = vals
		case []string:
			vals := make([]string, 0, len(t))
			for _, e := range t {
				vals = append(vals, foldValue(e))
			}
			out[key] = vals
		default:
			out[key] = foldValue(fmt.Sprint(t))
		}
	}
	return out
}

func foldValue(v string) string { return strings.ToLower(strings.TrimSpace(v)) }

// Delete removes points by item id.
func (s *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			points = append(points, qdrantPointID(id))
		}
	}
	if len(points) == 0 {
		return nil
	}

	path := s.collectionPath("/points/delete")
	if *s.cfg.Wait {
		path += "?wait=true"
	}
	req := struct {
		Points []string `json:"points"`
	}{Points: points}
	return s.doJSON(ctx, http.MethodPost, path, req, nil)
}

func (s *QdrantIndex) Count(ctx context.Context) (int, error) {
	req := struct {
		Exact bool `json:"exact"`
	}{Exact: true}

	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/count"), req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}
