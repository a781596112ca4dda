// Package openai extracts scene attributes and sentiment from comment chunks
// using an OpenAI-compatible chat completions endpoint.
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

// Config controls the extraction client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// Temperature is passed through to the model; extraction wants it low.
	Temperature float64
}

// Extractor implements pipeline.Extractor against /chat/completions.
type Extractor struct {
	cfg    Config
	client *http.Client
}

// New builds an Extractor. client may be nil.
func New(cfg Config, client *http.Client) (*Extractor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("extraction base url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("extraction model is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Extractor{cfg: cfg, client: client}, nil
}

const systemPrompt = `You analyze a single fragment of a vehicle owner review.
Respond with a JSON object only, no prose, with these keys:
  "scene_actor": who is acting (driver, passenger, family...), or ""
  "scene_time_context": when it happens (commute, winter, night...), or ""
  "scene_location_context": where it happens (highway, city, parking...), or ""
  "scene_activity_or_task": what is being done, or ""
  "sentiment_label": one of "positive", "negative", "neutral", "mixed"
  "sentiment_confidence": a number from 0 to 1
  "summary": one sentence summarizing the fragment`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	ResponseFmt *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type extractionPayload struct {
	SceneActor           string  `json:"scene_actor"`
	SceneTimeContext     string  `json:"scene_time_context"`
	SceneLocationContext string  `json:"scene_location_context"`
	SceneActivityOrTask  string  `json:"scene_activity_or_task"`
	SentimentLabel       string  `json:"sentiment_label"`
	SentimentConfidence  float64 `json:"sentiment_confidence"`
	Summary              string  `json:"summary"`
}

// Extract asks the model for structured attributes of one chunk. The matched
// feature, when present, is passed as context to sharpen the summary. All
// failures wrap ErrExtractionFailed so the engine degrades per chunk.
func (e *Extractor) Extract(ctx context.Context, chunkText string, feature *pipeline.ProductFeature) (pipeline.Extraction, error) {
	user := "Fragment:\n" + chunkText
	if feature != nil {
		user += "\n\nThe fragment discusses the product feature: " + feature.Name
	}

	body, err := json.Marshal(chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: e.cfg.Temperature,
		ResponseFmt: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return pipeline.Extraction{}, fmt.Errorf("%w: marshal request: %v", pipeline.ErrExtractionFailed, err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return pipeline.Extraction{}, fmt.Errorf("%w: build request: %v", pipeline.ErrExtractionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return pipeline.Extraction{}, fmt.Errorf("%w: %v", pipeline.ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return pipeline.Extraction{}, fmt.Errorf("%w: read response: %v", pipeline.ErrExtractionFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return pipeline.Extraction{}, fmt.Errorf("%w: status %d", pipeline.ErrExtractionFailed, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return pipeline.Extraction{}, fmt.Errorf("%w: decode response: %v", pipeline.ErrExtractionFailed, err)
	}
	if parsed.Error != nil {
		return pipeline.Extraction{}, fmt.Errorf("%w: %s", pipeline.ErrExtractionFailed, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return pipeline.Extraction{}, fmt.Errorf("%w: no choices", pipeline.ErrExtractionFailed)
	}

	return parseExtraction(parsed.Choices[0].Message.Content)
}

// parseExtraction decodes the model's JSON answer, tolerating fenced code
// blocks some models wrap around it.
func parseExtraction(content string) (pipeline.Extraction, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var payload extractionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return pipeline.Extraction{}, fmt.Errorf("%w: parse model output: %v", pipeline.ErrExtractionFailed, err)
	}
	if !validLabel(payload.SentimentLabel) {
		return pipeline.Extraction{}, fmt.Errorf("%w: bad sentiment label %q", pipeline.ErrExtractionFailed, payload.SentimentLabel)
	}
	if payload.SentimentConfidence < 0 {
		payload.SentimentConfidence = 0
	}
	if payload.SentimentConfidence > 1 {
		payload.SentimentConfidence = 1
	}
	return pipeline.Extraction{
		Scene: pipeline.SceneFields{
			Actor:           payload.SceneActor,
			TimeContext:     payload.SceneTimeContext,
			LocationContext: payload.SceneLocationContext,
			ActivityOrTask:  payload.SceneActivityOrTask,
		},
		Sentiment: pipeline.SentimentFields{
			Label:      payload.SentimentLabel,
			Confidence: payload.SentimentConfidence,
		},
		Summary: payload.Summary,
	}, nil
}

func validLabel(label string) bool {
	switch label {
	case "positive", "negative", "neutral", "mixed":
		return true
	}
	return false
}
