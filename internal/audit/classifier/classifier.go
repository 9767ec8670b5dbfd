// Package classifier decides which search candidates genuinely mention a
// brand. A deterministic pattern pass always runs; a language-model pass adds
// recall when available and degrades to nothing on any failure.
package classifier

import (
	"context"
	"log/slog"
	"strings"

	"brandaudit/internal/audit/llm"
	"brandaudit/internal/audit/metrics"
	"brandaudit/internal/audit/models"
	"brandaudit/internal/audit/tracing"
)

// maxCandidates caps how many candidates are classified per publication.
const maxCandidates = 10

// Completer is the chat-completion dependency of the model pass.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// Classifier merges the pattern and model passes.
type Classifier struct {
	completer Completer
	scorer    *Scorer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    *tracing.Tracer
}

// Option configures a Classifier.
type Option func(*Classifier)

func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Classifier) {
		c.metrics = m
	}
}

// New builds a classifier. A nil completer runs the pattern pass only.
func New(completer Completer, opts ...Option) *Classifier {
	c := &Classifier{
		completer: completer,
		scorer:    NewScorer(),
		logger:    slog.Default(),
		tracer:    tracing.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the validated mentions among candidates, pattern-pass
// entries first, deduplicated by URL. It only fails when ctx is done.
func (c *Classifier) Classify(ctx context.Context, candidates []models.Candidate, brand, domain string) ([]models.Mention, error) {
	cleaned := clean(candidates)
	if len(cleaned) == 0 {
		return []models.Mention{}, nil
	}

	ctx, span := c.tracer.ClassifySpan(ctx, domain, len(cleaned))
	defer span.End()

	pattern := c.scorer.Validate(cleaned, brand, domain)
	ai := c.modelPass(ctx, cleaned, brand, domain)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := Merge(pattern, ai)
	var fromPattern, fromAI int
	for _, m := range merged {
		if m.ValidationMethod == models.ValidationPattern {
			fromPattern++
		} else {
			fromAI++
		}
	}
	c.metrics.AddMentionsValidated(string(models.ValidationPattern), fromPattern)
	c.metrics.AddMentionsValidated(string(models.ValidationAI), fromAI)

	c.logger.DebugContext(ctx, "candidates classified",
		"domain", domain,
		"pattern", len(pattern),
		"ai", len(ai),
		"final", len(merged),
	)
	return merged, nil
}

func (c *Classifier) modelPass(ctx context.Context, candidates []models.Candidate, brand, domain string) []models.Mention {
	if c.completer == nil {
		return nil
	}
	content, err := c.completer.Complete(ctx, llm.CompletionRequest{
		System:      classifySystemPrompt,
		User:        buildClassifyPrompt(candidates, brand, domain),
		Temperature: 0.2,
		MaxTokens:   1500,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "model classification failed, using pattern pass only",
			"domain", domain,
			"error", err,
		)
		return nil
	}
	mentions, err := parseModelMentions(content)
	if err != nil {
		c.logger.WarnContext(ctx, "model classification unparseable, using pattern pass only",
			"domain", domain,
			"error", err,
		)
		return nil
	}
	return mentions
}

// Merge unions pattern and model mentions by URL. Pattern entries win on
// conflict and keep their order; model-only entries follow.
func Merge(pattern, ai []models.Mention) []models.Mention {
	seen := make(map[string]struct{}, len(pattern)+len(ai))
	out := make([]models.Mention, 0, len(pattern)+len(ai))
	add := func(m models.Mention, method models.ValidationMethod) {
		if _, ok := seen[m.URL]; ok {
			return
		}
		seen[m.URL] = struct{}{}
		m.ValidationMethod = method
		out = append(out, m)
	}
	for _, m := range pattern {
		add(m, models.ValidationPattern)
	}
	for _, m := range ai {
		add(m, models.ValidationAI)
	}
	return out
}

// clean keeps the first maxCandidates entries that have a title or snippet.
func clean(candidates []models.Candidate) []models.Candidate {
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if strings.TrimSpace(c.Title) == "" && strings.TrimSpace(c.Snippet) == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}
