// Package storage holds the persistence layer: the Qdrant vector store the
// chatbot retrieves from, the relational page archive, and the mapping
// store that ties a website to its vector collection.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/priynshgupta/zentra-web-chatbot/internal/config"
	"github.com/priynshgupta/zentra-web-chatbot/internal/retrieval"
)

// QdrantStore indexes corpus chunks into one Qdrant collection per website
// and serves the similarity searches behind the retrieval cascade.
type QdrantStore struct {
	endpoint     string
	apiKey       string
	embeddingURL string
	workers      int

	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	collections map[string]int // collection -> vector dimension
}

// NewQdrantStore initialises a Qdrant-backed store from configuration.
func NewQdrantStore(cfg config.VectorConfig, logger *slog.Logger) (*QdrantStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("qdrant endpoint not configured")
	}
	embeddingURL := strings.TrimSpace(cfg.EmbeddingURL)
	if embeddingURL == "" {
		return nil, fmt.Errorf("embedding base url not configured")
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	workers := cfg.IndexWorkers
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QdrantStore{
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		embeddingURL: strings.TrimRight(embeddingURL, "/"),
		workers:      workers,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
		collections:  make(map[string]int),
	}, nil
}

// IndexCorpus splits every corpus page into chunks, embeds them, and
// upserts the points into the website's collection. Chunks are indexed
// concurrently; the first failure is reported after all workers drain.
func (s *QdrantStore) IndexCorpus(ctx context.Context, collection, sourceURL string, corpus []string) error {
	if collection == "" {
		return fmt.Errorf("missing collection name for index")
	}
	dimension, err := s.ensureCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	var chunks []string
	for _, page := range corpus {
		chunks = append(chunks, SplitText(page)...)
	}
	if len(chunks) == 0 {
		return nil
	}

	pool, err := newWorkerPool(ctx, s.workers, len(chunks))
	if err != nil {
		return err
	}

	var (
		errMu    sync.Mutex
		firstErr error
	)
	for i, chunk := range chunks {
		chunk := chunk
		ordinal := i
		submitErr := pool.submit(ctx, func(jobCtx context.Context) {
			if err := s.upsertChunk(jobCtx, collection, dimension, sourceURL, ordinal, chunk); err != nil {
				s.logger.Warn("chunk index failed", "collection", collection, "chunk", ordinal, "error", err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		})
		if submitErr != nil {
			errMu.Lock()
			if firstErr == nil {
				firstErr = submitErr
			}
			errMu.Unlock()
			break
		}
	}
	pool.wait()

	if firstErr != nil {
		return fmt.Errorf("index corpus: %w", firstErr)
	}
	s.logger.Info("corpus indexed", "collection", collection, "chunks", len(chunks))
	return nil
}

func (s *QdrantStore) upsertChunk(ctx context.Context, collection string, dimension int, sourceURL string, ordinal int, chunk string) error {
	embedding, err := s.fetchEmbedding(ctx, chunk)
	if err != nil {
		return fmt.Errorf("generate embedding: %w", err)
	}
	if dimension > 0 && len(embedding) != dimension {
		return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", dimension, len(embedding))
	}

	point := map[string]any{
		"id":     pointID(collection, chunk),
		"vector": embedding,
		"payload": map[string]any{
			"content": chunk,
			"source":  sourceURL,
			"chunk":   ordinal,
		},
	}
	body := map[string]any{"points": []any{point}}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal qdrant payload: %w", err)
	}

	resp, err := s.do(ctx, http.MethodPut, s.collectionPointsURL(collection), data)
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant upsert failed: status %d body %s", resp.StatusCode, string(msg))
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		Score   float64 `json:"score"`
		Payload struct {
			Content string `json:"content"`
			Source  string `json:"source"`
		} `json:"payload"`
	} `json:"result"`
}

// CollectionSearcher binds the store to one collection, satisfying the
// retrieval cascade's SimilaritySearch.
func (s *QdrantStore) CollectionSearcher(collection string) retrieval.SimilaritySearch {
	return &collectionSearcher{store: s, collection: collection}
}

type collectionSearcher struct {
	store      *QdrantStore
	collection string
}

func (c *collectionSearcher) Search(ctx context.Context, query string, k int) ([]retrieval.Snippet, error) {
	return c.store.search(ctx, c.collection, query, k)
}

func (s *QdrantStore) search(ctx context.Context, collection, query string, k int) ([]retrieval.Snippet, error) {
	embedding, err := s.fetchEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	body := map[string]any{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search payload: %w", err)
	}

	resp, err := s.do(ctx, http.MethodPost, s.collectionPointsURL(collection)+"/search", data)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant search failed: status %d body %s", resp.StatusCode, string(msg))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	snippets := make([]retrieval.Snippet, 0, len(parsed.Result))
	for _, hit := range parsed.Result {
		snippets = append(snippets, retrieval.Snippet{
			Content: hit.Payload.Content,
			Source:  hit.Payload.Source,
			Score:   hit.Score,
		})
	}
	return snippets, nil
}

// DropCollection removes a website's collection, used when a chatbot
// session is deleted.
func (s *QdrantStore) DropCollection(ctx context.Context, collection string) error {
	resp, err := s.do(ctx, http.MethodDelete, s.collectionURL(collection), nil)
	if err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("drop collection failed: status %d body %s", resp.StatusCode, string(msg))
	}
	s.mu.Lock()
	delete(s.collections, collection)
	s.mu.Unlock()
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, collection string) (int, error) {
	s.mu.Lock()
	if dim, ok := s.collections[collection]; ok {
		s.mu.Unlock()
		return dim, nil
	}
	s.mu.Unlock()

	dimension, err := s.fetchEmbeddingDimension(ctx)
	if err != nil {
		return 0, err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal collection payload: %w", err)
	}

	resp, err := s.do(ctx, http.MethodPut, s.collectionURL(collection), data)
	if err != nil {
		return 0, fmt.Errorf("create collection: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusConflict {
		msg, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("create collection failed: status %d body %s", resp.StatusCode, string(msg))
	}

	s.mu.Lock()
	s.collections[collection] = dimension
	s.mu.Unlock()
	return dimension, nil
}

type embeddingConfigResponse struct {
	ProviderInfo struct {
		Provider  string `json:"provider"`
		Model     string `json:"model"`
		Dimension int    `json:"dimension"`
		Available bool   `json:"available"`
	} `json:"provider_info"`
}

type embeddingQueryRequest struct {
	Text string `json:"text"`
}

type embeddingQueryResponse struct {
	Embedding []float64 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

func (s *QdrantStore) fetchEmbeddingDimension(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.embeddingURL+"/api/embedding/config-status", nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("embedding config status failed: status %d body %s", resp.StatusCode, string(msg))
	}
	var parsed embeddingConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode embedding config: %w", err)
	}
	if parsed.ProviderInfo.Dimension <= 0 {
		return 0, fmt.Errorf("embedding service returned invalid dimension %d", parsed.ProviderInfo.Dimension)
	}
	return parsed.ProviderInfo.Dimension, nil
}

func (s *QdrantStore) fetchEmbedding(ctx context.Context, text string) ([]float64, error) {
	data, err := json.Marshal(embeddingQueryRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.embeddingURL+"/api/embedding/query-embedding", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding query failed: status %d body %s", resp.StatusCode, string(msg))
	}
	var parsed embeddingQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	return parsed.Embedding, nil
}

func (s *QdrantStore) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	return s.httpClient.Do(req)
}

func (s *QdrantStore) collectionURL(collection string) string {
	return fmt.Sprintf("%s/collections/%s", s.endpoint, url.PathEscape(collection))
}

func (s *QdrantStore) collectionPointsURL(collection string) string {
	return fmt.Sprintf("%s/collections/%s/points", s.endpoint, url.PathEscape(collection))
}

// pointID produces a deterministic UUID-shaped identifier so re-indexing
// the same chunk overwrites its point instead of duplicating it.
func pointID(collection, chunk string) string {
	sum := sha256.Sum256([]byte(collection + "\x00" + chunk))
	b := make([]byte, 16)
	copy(b, sum[:])
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
