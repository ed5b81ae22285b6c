// Package agent implements the generation and review capabilities on top of
// a rate-limited LLM HTTP client.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vampirenirmal/novelforge/internal/core"
)

// Client is a rate-limited LLM API client speaking either the Anthropic or
// the OpenAI wire format.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
	maxPrompt  int
	limiter    *rate.Limiter
	apiType    string // "anthropic" or "openai"
	logger     *slog.Logger
}

type Option func(*Client)

func WithRetry(maxRetries int) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
}

// WithPromptLimit caps the user prompt at n bytes; 0 disables the cap.
func WithPromptLimit(n int) Option {
	return func(c *Client) {
		c.maxPrompt = n
	}
}

func WithRateLimit(requestsPerMinute int, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithAPIConfig(baseURL, model string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
		c.model = model
		if strings.Contains(baseURL, "openai") {
			c.apiType = "openai"
		} else {
			c.apiType = "anthropic"
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		model:   "claude-3-5-sonnet-20241022",
		httpClient: &http.Client{
			Timeout:   120 * time.Second,
			Transport: transport,
		},
		maxRetries: 3,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		apiType:    "anthropic",
		logger:     slog.Default().With("component", "ai_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("AI client initialized",
		"api_type", c.apiType,
		"base_url", c.baseURL,
		"model", c.model,
		"max_retries", c.maxRetries,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))

	return c
}

// CompleteJSON sends a system+user prompt pair and returns the model's JSON
// response. Retries are bounded with linear backoff; rate-limit and server
// errors are retried, everything else fails immediately.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", core.ErrNoAPIKey
	}

	if clamped, ok := clampPrompt(userPrompt, c.maxPrompt); ok {
		c.logger.Warn("prompt exceeds configured size, truncating",
			"size", len(userPrompt),
			"limit", c.maxPrompt)
		userPrompt = clamped
	}

	requestID := fmt.Sprintf("api_%d", time.Now().UnixNano())
	startTime := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait failed: %w", err)
	}
	c.logger.Debug("rate limit passed",
		"request_id", requestID,
		"wait_duration_ms", time.Since(startTime).Milliseconds())

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		attemptStart := time.Now()
		response, err := c.doRequest(ctx, systemPrompt, userPrompt)
		if err == nil {
			c.logger.Info("API request successful",
				"request_id", requestID,
				"attempt", attempt,
				"duration_ms", time.Since(attemptStart).Milliseconds(),
				"response_length", len(response))
			return response, nil
		}

		lastErr = err
		if !core.IsRetryable(err) {
			c.logger.Error("API request failed",
				"request_id", requestID,
				"attempt", attempt,
				"error", err)
			return "", err
		}
		c.logger.Warn("API request failed, will retry",
			"request_id", requestID,
			"attempt", attempt,
			"error", err)
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

const jsonDirective = "\n\nIMPORTANT: Respond with valid JSON only. Your entire response must be a single JSON object with no additional text, markdown, or explanations."

func (c *Client) doRequest(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiType == "openai" {
		return c.doOpenAIRequest(ctx, systemPrompt, userPrompt)
	}
	return c.doAnthropicRequest(ctx, systemPrompt, userPrompt)
}

func (c *Client) doAnthropicRequest(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	requestBody := map[string]any{
		"model":  c.model,
		"system": systemPrompt + jsonDirective,
		"messages": []map[string]string{
			{"role": "user", "content": userPrompt},
		},
		"max_tokens": 8192,
	}

	respBody, err := c.post(ctx, "/messages", requestBody, func(req *http.Request) {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	})
	if err != nil {
		return "", err
	}

	var response struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(response.Content) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	c.logger.Debug("request completed",
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens)
	return response.Content[0].Text, nil
}

func (c *Client) doOpenAIRequest(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	requestBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt + jsonDirective},
			{"role": "user", "content": userPrompt},
		},
		"max_tokens":      8192,
		"response_format": map[string]string{"type": "json_object"},
	}

	respBody, err := c.post(ctx, "/chat/completions", requestBody, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	})
	if err != nil {
		return "", err
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	c.logger.Debug("request completed",
		"prompt_tokens", response.Usage.PromptTokens,
		"completion_tokens", response.Usage.CompletionTokens)
	return response.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, endpoint string, requestBody any, setAuth func(*http.Request)) ([]byte, error) {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return nil, fmt.Errorf("request to %s: %w", endpoint, core.ErrTimeout)
		}
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("API status %d: %w", resp.StatusCode, core.ErrRateLimited)
	case resp.StatusCode >= 500:
		// Server errors share the rate-limited retry path.
		return nil, fmt.Errorf("API status %d (%s): %w", resp.StatusCode, truncate(respBody, 200), core.ErrRateLimited)
	default:
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(respBody, 500))
	}
}

func clampPrompt(prompt string, limit int) (string, bool) {
	if limit <= 0 || len(prompt) <= limit {
		return prompt, false
	}
	return prompt[:limit], true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
