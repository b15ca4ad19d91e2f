// Package provider implements the LLM gateway for roomdigest.
// Uses the OpenAI-compatible chat completions API format, which works with
// OpenAI, Anthropic proxies, and any compatible endpoint. Calls are retried
// a bounded number of times with linear backoff; callers receive an error
// only after the retry budget is exhausted and are expected to degrade to
// an empty extraction result rather than fail the whole analysis.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Endpoint identifies one LLM provider endpoint.
type Endpoint struct {
	// BaseURL is the API base URL (e.g. "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url"`

	// Model is the model identifier passed in the request.
	Model string `yaml:"model"`

	// APIKey is the bearer token. Resolved keyring -> env -> config
	// before the client is constructed.
	APIKey string `yaml:"api_key"`
}

// Config holds gateway configuration.
type Config struct {
	// Default is the endpoint used when no override key matches.
	Default Endpoint `yaml:"default"`

	// Overrides maps provider keys (e.g. "topics") to alternate endpoints,
	// letting each extraction category use its own provider.
	Overrides map[string]Endpoint `yaml:"overrides"`

	// MaxRetries is the number of additional attempts after the first
	// failed call. Default 2.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBaseSeconds scales the delay between attempts:
	// delay = base * attempt. Default 2.
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`

	// TimeoutSeconds is the per-request HTTP timeout. Default 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the text completion plus its token usage.
type Response struct {
	Text  string
	Usage Usage
}

// ErrExhausted is returned when all attempts failed.
var ErrExhausted = errors.New("provider: all attempts exhausted")

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a gateway client from config.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BackoffBaseSeconds <= 0 {
		cfg.BackoffBaseSeconds = 2
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cfg.Default.BaseURL = strings.TrimRight(cfg.Default.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "provider"),
	}
}

// endpoint resolves the endpoint for a provider key. Empty fields of an
// override fall back to the default endpoint.
func (c *Client) endpoint(providerKey string) Endpoint {
	ep := c.cfg.Default
	if providerKey == "" {
		return ep
	}
	override, ok := c.cfg.Overrides[providerKey]
	if !ok {
		return ep
	}
	if override.BaseURL != "" {
		ep.BaseURL = strings.TrimRight(override.BaseURL, "/")
	}
	if override.Model != "" {
		ep.Model = override.Model
	}
	if override.APIKey != "" {
		ep.APIKey = override.APIKey
	}
	return ep
}

// Generate sends a single-prompt chat completion and returns the text and
// token usage. Retries transient failures (transport errors, 429, 5xx) up
// to MaxRetries additional attempts with delay backoffBase * attempt.
// Returns ErrExhausted (wrapped) once the budget is spent.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64, providerKey string) (*Response, error) {
	ep := c.endpoint(providerKey)
	if ep.BaseURL == "" {
		return nil, fmt.Errorf("provider: no base URL configured")
	}

	attempts := c.cfg.MaxRetries + 1
	backoffBase := time.Duration(c.cfg.BackoffBaseSeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.completeOnce(ctx, ep, prompt, maxTokens, temperature)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apierr *apiError
		retryable := !errors.As(err, &apierr) || apierr.retryable()
		if !retryable || attempt == attempts {
			break
		}

		delay := backoffBase * time.Duration(attempt)
		c.logger.Warn("provider call failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay.String(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("provider: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	c.logger.Error("provider call failed permanently", "error", lastErr)
	return nil, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// ---------- Wire types (OpenAI-compatible) ----------

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// apiError captures an HTTP-level failure for retry classification.
type apiError struct {
	statusCode int
	body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("provider: status %d: %s", e.statusCode, truncate(e.body, 200))
}

// retryable reports whether the status warrants another attempt.
func (e *apiError) retryable() bool {
	if e.statusCode == http.StatusTooManyRequests {
		return true
	}
	return e.statusCode >= 500
}

// completeOnce performs a single chat completion request. Returns *apiError
// on HTTP errors so the caller can classify and decide on retry.
func (c *Client) completeOnce(ctx context.Context, ep Endpoint, prompt string, maxTokens int, temperature float64) (*Response, error) {
	reqBody := chatRequest{
		Model:       ep.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{statusCode: resp.StatusCode, body: string(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w (body: %s)", err, truncate(string(respBody), 200))
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("provider: API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider: empty choices in response")
	}

	c.logger.Debug("chat completion done",
		"model", ep.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", parsed.Usage.PromptTokens,
		"completion_tokens", parsed.Usage.CompletionTokens,
	)

	return &Response{
		Text:  parsed.Choices[0].Message.Content,
		Usage: parsed.Usage,
	}, nil
}

// truncate shortens a string for log output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
