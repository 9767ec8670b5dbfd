// Package search queries the Serper web-search API for brand mentions on a
// single publication domain.
package search

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

	"brandaudit/internal/audit/metrics"
	"brandaudit/internal/audit/models"
	"brandaudit/internal/audit/upstream"
)

const (
	DefaultBaseURL = "https://google.serper.dev"

	primaryResultCount       = 15
	supplementaryResultCount = 10
	// minPrimaryResults is the unique-link count below which the broader
	// unquoted query is issued.
	minPrimaryResults = 3

	defaultTimeout         = 15 * time.Second
	defaultCreditAllowance = 2500
	maxErrorBody           = 4 << 10
)

// Client is a Serper search client. It does not cache.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	credits    int
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithBaseURL points the client at another Serper-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
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

// WithCreditAllowance sets the value reported by Credits.
func WithCreditAllowance(n int) Option {
	return func(c *Client) {
		c.credits = n
	}
}

// New builds a search client. An empty apiKey is a missing-credentials error.
func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, upstream.NewError(upstream.CategoryMissingCredentials, upstream.ProviderSerper,
			"SERPER_API_KEY is not set", upstream.ErrMissingCredentials)
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
		credits:    defaultCreditAllowance,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type searchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
	GL  string `json:"gl"`
	HL  string `json:"hl"`
}

type searchResponse struct {
	Organic []organicResult `json:"organic"`
}

type organicResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Search returns candidates for brand on domain. The exact-phrase query runs
// first; when it yields fewer than three unique links the broader query is
// merged in, and its failure is ignored.
func (c *Client) Search(ctx context.Context, domain, brand string) ([]models.Candidate, error) {
	primary, err := c.query(ctx, fmt.Sprintf("site:%s \"%s\"", domain, brand), primaryResultCount)
	if err != nil {
		return nil, err
	}
	candidates := dedupeByLink(primary)
	if len(candidates) >= minPrimaryResults {
		return candidates, nil
	}

	broad, err := c.query(ctx, fmt.Sprintf("site:%s %s", domain, brand), supplementaryResultCount)
	if err != nil {
		c.logger.WarnContext(ctx, "supplementary search failed",
			"domain", domain,
			"error", err,
		)
		return candidates, nil
	}
	return dedupeByLink(append(candidates, broad...)), nil
}

// Credits reports the remaining search allowance.
func (c *Client) Credits(_ context.Context) (int, error) {
	return c.credits, nil
}

func (c *Client) query(ctx context.Context, q string, num int) (candidates []models.Candidate, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(upstream.CategoryOf(err))
		}
		c.metrics.ObserveUpstream(upstream.ProviderSerper, outcome, start)
	}()

	payload, err := json.Marshal(searchRequest{Q: q, Num: num, GL: "us", HL: "en"})
	if err != nil {
		return nil, upstream.NewError(upstream.CategoryInternal, upstream.ProviderSerper, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, upstream.NewError(upstream.CategoryInternal, upstream.ProviderSerper, "build request", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, upstream.NewError(upstream.CategoryTimeout, upstream.ProviderSerper, "search timed out", err)
		}
		return nil, upstream.NewError(upstream.CategoryProviderOutage, upstream.ProviderSerper, "search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(resp.StatusCode, body)
	}
	return parseSearchResponse(resp.Body)
}

func parseSearchResponse(r io.Reader) ([]models.Candidate, error) {
	var decoded searchResponse
	if err := json.NewDecoder(r).Decode(&decoded); err != nil {
		return nil, upstream.NewError(upstream.CategoryBadData, upstream.ProviderSerper, "decode response", err)
	}
	out := make([]models.Candidate, 0, len(decoded.Organic))
	for _, o := range decoded.Organic {
		if o.Link == "" {
			continue
		}
		out = append(out, models.Candidate{Title: o.Title, Snippet: o.Snippet, Link: o.Link})
	}
	return out, nil
}

func classifyStatus(status int, body []byte) error {
	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.Message
	if msg == "" {
		msg = parsed.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	lower := strings.ToLower(msg)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return upstream.NewError(upstream.CategoryAuthentication, upstream.ProviderSerper, "invalid search API key", errors.New(msg))
	case status == http.StatusTooManyRequests:
		return upstream.NewError(upstream.CategoryRateLimited, upstream.ProviderSerper, "search rate limit exceeded", errors.New(msg))
	case strings.Contains(lower, "credit") || strings.Contains(lower, "quota"):
		return upstream.NewError(upstream.CategoryQuotaExceeded, upstream.ProviderSerper, "search quota exhausted", errors.New(msg))
	default:
		return upstream.NewError(upstream.CategoryProviderOutage, upstream.ProviderSerper,
			fmt.Sprintf("search failed with status %d", status), errors.New(msg))
	}
}

func dedupeByLink(in []models.Candidate) []models.Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]models.Candidate, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c.Link]; ok {
			continue
		}
		seen[c.Link] = struct{}{}
		out = append(out, c)
	}
	return out
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
