package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrModelUnavailable is returned when the inference server does not list the
// configured model.
var ErrModelUnavailable = errors.New("model unavailable")

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAICompleter talks to an OpenAI-compatible /v1/completions endpoint, such
// as a llama.cpp server hosting a quantized model.
type OpenAICompleter struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAICompleter{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (c *OpenAICompleter) BaseURL() string { return c.baseURL }

func (c *OpenAICompleter) Model() string { return c.model }

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":       c.model,
		"prompt":      req.Prompt,
		"max_tokens":  req.MaxTokens,
		"stop":        req.Stop,
		"temperature": c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion payload: %w", err)
	}

	rawRespBody, status, err := c.do(ctx, http.MethodPost, "/v1/completions", body)
	if err != nil {
		return "", fmt.Errorf("request completion: %w", err)
	}
	if status >= 400 {
		return "", fmt.Errorf("completion failed status=%d body=%s", status, truncate(string(rawRespBody), 512))
	}

	var parsed struct {
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty completion choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Text), nil
}

// Probe checks that the server answers and lists the configured model. Servers
// that return no model list at all are accepted.
func (c *OpenAICompleter) Probe(ctx context.Context) error {
	rawRespBody, status, err := c.do(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("list models failed status=%d", status)
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return fmt.Errorf("decode model list: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil
	}
	for _, entry := range parsed.Data {
		if strings.Contains(entry.ID, c.model) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not served by %s", ErrModelUnavailable, c.model, c.baseURL)
}

func (c *OpenAICompleter) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
