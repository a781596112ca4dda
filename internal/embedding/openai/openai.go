// Package openai calls an OpenAI-compatible embeddings endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// Config controls the embeddings client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1. Self-hosted
	// OpenAI-compatible servers work the same way.
	BaseURL string
	APIKey  string
	Model   string
	// Dimensions is the expected vector size; responses with a different
	// size are rejected.
	Dimensions int
	Timeout    time.Duration
}

// Embedder implements pipeline.Embedder against the /embeddings endpoint.
type Embedder struct {
	cfg    Config
	client *http.Client
}

// New builds an Embedder. client may be nil.
func New(cfg Config, client *http.Client) (*Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embeddings base url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embeddings model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embeddings dimensions must be positive")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Embedder{cfg: cfg, client: client}, nil
}

// Dimensions reports the configured vector size.
func (e *Embedder) Dimensions() int { return e.cfg.Dimensions }

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed requests one embedding. Transport and server-side failures wrap
// ErrEmbeddingUnavailable so callers can degrade per chunk.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", pipeline.ErrEmbeddingUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", pipeline.ErrEmbeddingUnavailable, resp.StatusCode, truncate(raw, 200))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", pipeline.ErrEmbeddingUnavailable, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrEmbeddingUnavailable, parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data", pipeline.ErrEmbeddingUnavailable)
	}
	vector := parsed.Data[0].Embedding
	if len(vector) != e.cfg.Dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vector), e.cfg.Dimensions)
	}
	return vector, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
