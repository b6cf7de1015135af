package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/metrics"
)

// Client is the embedding gateway: text in, fixed-length vector out. The
// gateway enforces an input size ceiling; callers pre-chunk anything larger.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ValidateServer(ctx context.Context) error
}

// HTTPClient talks to an embedding service over its /embed endpoint.
type HTTPClient struct {
	baseURL    string
	dimensions int
	httpClient *http.Client
	cache      Cache
	cacheTTL   time.Duration
}

type EmbedRequest struct {
	Inputs    []string `json:"inputs"`
	Normalize bool     `json:"normalize"`
}

type EmbedResponse [][]float32

type ModelInfo struct {
	ModelID    string `json:"model_id"`
	Dimensions int    `json:"dimensions"`
}

func NewHTTPClient(baseURL string, dimensions int, cacheConfig CacheConfig) (*HTTPClient, error) {
	cache, err := NewCache(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}

	ttl := cacheConfig.TTL
	if ttl == 0 {
		ttl = 1 * time.Hour
	}

	return &HTTPClient{
		baseURL:    baseURL,
		dimensions: dimensions,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:    cache,
		cacheTTL: ttl,
	}, nil
}

func (c *HTTPClient) Dimensions() int {
	return c.dimensions
}

func (c *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	uncachedIndices := []int{}
	uncachedTexts := []string{}

	for i, text := range texts {
		if cached, found := c.cache.Get(text); found {
			results[i] = cached
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	start := time.Now()

	reqBody := EmbedRequest{
		Inputs:    uncachedTexts,
		Normalize: true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d", resp.StatusCode)
	}

	var embeddings EmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddings); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(embeddings) != len(uncachedTexts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(embeddings), len(uncachedTexts))
	}

	for i, emb := range embeddings {
		if len(emb) != c.dimensions {
			return nil, fmt.Errorf("embedding service returned %d dimensions, expected %d", len(emb), c.dimensions)
		}
		results[uncachedIndices[i]] = emb
		c.cache.Set(uncachedTexts[i], emb, c.cacheTTL)
	}

	metrics.RecordEmbedding(time.Since(start).Seconds())
	return results, nil
}

func (c *HTTPClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// ValidateServer checks at startup that the gateway is reachable and serves
// vectors of the expected dimension.
func (c *HTTPClient) ValidateServer(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedding server not healthy: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding server not healthy: status %d", resp.StatusCode)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", nil)
	if err != nil {
		return fmt.Errorf("create info request: %w", err)
	}
	resp, err = c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get model info: %w", err)
	}
	defer resp.Body.Close()

	var info ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("decode model info: %w", err)
	}
	if info.Dimensions != 0 && info.Dimensions != c.dimensions {
		log.Warn().
			Str("model", info.ModelID).
			Int("reported", info.Dimensions).
			Int("configured", c.dimensions).
			Msg("Embedding server dimension mismatch")
	}

	embeddings, err := c.Embed(ctx, []string{"test"})
	if err != nil {
		return fmt.Errorf("test embedding failed: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) != c.dimensions {
		return fmt.Errorf("expected %d dimensions, got %d", c.dimensions, len(embeddings[0]))
	}

	return nil
}
