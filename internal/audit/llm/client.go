// Package llm wraps the OpenAI chat-completions API for the classifier and
// strategy generator.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"brandaudit/internal/audit/metrics"
	"brandaudit/internal/audit/upstream"
)

const (
	DefaultModel   = "gpt-4o"
	defaultTimeout = 60 * time.Second
)

// CompletionRequest is one chat completion. System may be empty.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Client sends chat completions and normalizes failures into upstream errors.
type Client struct {
	client  openai.Client
	model   string
	logger  *slog.Logger
	metrics *metrics.Metrics

	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the API endpoint. Used for proxies and tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New builds a client. An empty apiKey is a missing-credentials error.
func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, upstream.NewError(upstream.CategoryMissingCredentials, upstream.ProviderOpenAI,
			"OPENAI_API_KEY is not set", upstream.ErrMissingCredentials)
	}
	c := &Client{
		model:   DefaultModel,
		logger:  slog.Default(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(c.timeout),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(c.httpClient))
	}
	c.client = openai.NewClient(reqOpts...)
	return c, nil
}

// Complete returns the text content of the first choice.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (content string, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(upstream.CategoryOf(err))
		}
		c.metrics.ObserveUpstream(upstream.ProviderOpenAI, outcome, start)
	}()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", normalizeError(err)
	}
	if len(resp.Choices) == 0 {
		return "", upstream.NewError(upstream.CategoryBadData, upstream.ProviderOpenAI, "no choices returned", nil)
	}

	c.logger.DebugContext(ctx, "chat completion finished",
		"model", c.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

func normalizeError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := errorCode(apiErr)
		switch {
		case code == "insufficient_quota":
			return upstream.NewError(upstream.CategoryQuotaExceeded, upstream.ProviderOpenAI, "quota exceeded", errors.New(apiErr.Message))
		case code == "invalid_api_key",
			apiErr.StatusCode == http.StatusUnauthorized,
			apiErr.StatusCode == http.StatusForbidden:
			return upstream.NewError(upstream.CategoryAuthentication, upstream.ProviderOpenAI, "invalid api key", errors.New(apiErr.Message))
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return upstream.NewError(upstream.CategoryRateLimited, upstream.ProviderOpenAI, "rate limit exceeded", errors.New(apiErr.Message))
		default:
			return upstream.NewError(upstream.CategoryProviderOutage, upstream.ProviderOpenAI, "completion failed", errors.New(apiErr.Message))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return upstream.NewError(upstream.CategoryTimeout, upstream.ProviderOpenAI, "completion timed out", err)
	}
	return upstream.NewError(upstream.CategoryProviderOutage, upstream.ProviderOpenAI, "completion request failed", err)
}

// errorCode prefers the structured code, falling back to the type and the raw
// body for proxies that only forward part of the error object.
func errorCode(apiErr *openai.Error) string {
	if apiErr.Code != "" {
		return apiErr.Code
	}
	raw := apiErr.RawJSON()
	for _, known := range []string{"insufficient_quota", "invalid_api_key"} {
		if apiErr.Type == known || strings.Contains(raw, known) {
			return known
		}
	}
	return apiErr.Type
}

// StripCodeFence removes a surrounding markdown code fence (``` or ```json)
// from model output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
