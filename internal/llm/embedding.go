package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// EmbeddingClient OpenAI-compatible embeddings client
type EmbeddingClient struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
}

// EmbeddingConfig embedding client configuration
type EmbeddingConfig struct {
	BaseURL    string
	Model      string
	Dimension  int // 0 = accept whatever the API returns
	TimeoutSec int
	MaxRetries int
}

// embeddingRequest embeddings API request
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// NewEmbeddingClient creates an embedding client
func NewEmbeddingClient(cfg EmbeddingConfig, apiKey string) *EmbeddingClient {
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 30
	}
	return &EmbeddingClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     apiKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Embed implements memory.Embedder
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedding API returned no vector")
	}
	return vectors[0], nil
}

// EmbedBatch embeds several texts in one request, retrying with exponential backoff
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for retry := 0; retry <= c.maxRetries; retry++ {
		vectors, err := c.doEmbed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if retry < c.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<retry) * c.retryDelay):
			}
		}
	}

	return nil, fmt.Errorf("embedding request failed after %d retries: %w", c.maxRetries, lastErr)
}

// Dimension returns the configured vector dimension, 0 if unchecked
func (c *EmbeddingClient) Dimension() int {
	return c.dimension
}

func (c *EmbeddingClient) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	jsonBody, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned error (status %d): %s", resp.StatusCode, string(body))
	}

	return c.parseEmbeddings(body, len(texts))
}

// parseEmbeddings reads data[].embedding ordered by data[].index
func (c *EmbeddingClient) parseEmbeddings(body []byte, n int) ([][]float32, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse response: invalid JSON")
	}

	parsed := gjson.ParseBytes(body)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return nil, fmt.Errorf("API error: %s", msg.String())
	}

	vectors := make([][]float32, n)
	for _, item := range parsed.Get("data").Array() {
		idx := int(item.Get("index").Int())
		if idx < 0 || idx >= n {
			continue
		}
		values := item.Get("embedding").Array()
		vec := make([]float32, len(values))
		for i, v := range values {
			vec[i] = float32(v.Float())
		}
		if c.dimension > 0 && len(vec) != c.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", c.dimension, len(vec))
		}
		vectors[idx] = vec
	}

	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding API returned no vector for input %d", i)
		}
	}
	return vectors, nil
}
