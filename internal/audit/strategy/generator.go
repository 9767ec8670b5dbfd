// Package strategy asks a language model for PR recommendations based on an
// audit's results.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"brandaudit/internal/audit/llm"
	"brandaudit/internal/audit/models"
	strutil "brandaudit/pkg/platform/strings"
)

// Completer is the chat-completion dependency.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// Fallback is returned whenever the model answers with something unusable.
func Fallback() *models.Strategy {
	return &models.Strategy{
		Insights:        []string{"Unable to generate strategy analysis", "Focus on building brand awareness"},
		PriorityTargets: []string{"Industry-specific publications", "Local news outlets"},
		Actions:         []string{"Develop targeted content strategy", "Create thought leadership content", "Build media relationships"},
	}
}

type Generator struct {
	completer Completer
	logger    *slog.Logger
}

type Option func(*Generator)

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

func New(completer Completer, opts ...Option) *Generator {
	g := &Generator{
		completer: completer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a strategy for the audit. Unparseable output yields
// Fallback; upstream failures are returned unchanged so the caller can judge
// their fatality.
func (g *Generator) Generate(ctx context.Context, results []models.Result, brand, website string) (*models.Strategy, error) {
	content, err := g.completer.Complete(ctx, llm.CompletionRequest{
		User:        buildPrompt(results, brand, website),
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("generating strategy: %w", err)
	}

	strategy, err := parseStrategy(content)
	if err != nil {
		g.logger.WarnContext(ctx, "strategy response unusable, using fallback",
			"brand", brand,
			"error", err,
		)
		return Fallback(), nil
	}
	return strategy, nil
}

func buildPrompt(results []models.Result, brand, website string) string {
	var mentioned []string
	for _, r := range results {
		if r.BrandMentioned {
			mentioned = append(mentioned, r.Domain)
		}
	}
	publications := strings.Join(mentioned, ", ")
	if publications == "" {
		publications = "None"
	}

	return fmt.Sprintf(`Based on this brand audit for %q (%s), generate strategic recommendations.

Audit Summary:
- Total genuine mentions found: %d
- Publications with mentions: %s

Generate a strategy with these sections:
1. Key insights (2-3 strategic insights)
2. Priority targets (2-3 high-value publications to target)
3. Recommended actions (3-4 specific actionable steps)

Return a JSON object in this exact format:
{
  "insights": ["Strategic insight 1", "Strategic insight 2"],
  "priorityTargets": ["Target publication 1", "Target publication 2"],
  "actions": ["Action item 1", "Action item 2", "Action item 3"]
}`, brand, website, len(mentioned), publications)
}

type strategyResponse struct {
	Insights        []string `json:"insights"`
	PriorityTargets []string `json:"priorityTargets"`
	Actions         []string `json:"actions"`
}

func parseStrategy(content string) (*models.Strategy, error) {
	content = llm.StripCodeFence(content)
	if content == "" {
		return nil, fmt.Errorf("empty response")
	}
	var resp strategyResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	s := &models.Strategy{
		Insights:        strutil.DedupeAndTrim(resp.Insights),
		PriorityTargets: strutil.DedupeAndTrim(resp.PriorityTargets),
		Actions:         strutil.DedupeAndTrim(resp.Actions),
	}
	if len(s.Insights) == 0 || len(s.PriorityTargets) == 0 || len(s.Actions) == 0 {
		return nil, fmt.Errorf("response is missing insights, priorityTargets or actions")
	}
	return s, nil
}
