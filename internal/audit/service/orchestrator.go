package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"brandaudit/internal/audit/events"
	"brandaudit/internal/audit/metrics"
	"brandaudit/internal/audit/models"
	"brandaudit/internal/audit/tracing"
	"brandaudit/internal/audit/upstream"
	"brandaudit/pkg/platform/sentinel"
)

const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = time.Second
	DefaultBaseURL    = "http://localhost:5000"
	// DefaultPublishTimeout bounds delivery of one lifecycle event.
	DefaultPublishTimeout = 5 * time.Second
)

// StrategyFailurePolicy decides what a non-fatal strategy generation error
// does to an audit whose batches all succeeded.
type StrategyFailurePolicy string

const (
	// StrategyFailureFail marks the audit failed and keeps its results.
	StrategyFailureFail StrategyFailurePolicy = "fail"
	// StrategyFailureComplete completes the audit with a null strategy.
	StrategyFailureComplete StrategyFailurePolicy = "complete"
)

// IsValid reports whether p is a known policy.
func (p StrategyFailurePolicy) IsValid() bool {
	return p == StrategyFailureFail || p == StrategyFailureComplete
}

const (
	outcomeMentioned   = "mentioned"
	outcomeUnmentioned = "unmentioned"
	outcomeDegraded    = "degraded"
)

// Orchestrator drives one audit from pending to a terminal status.
type Orchestrator struct {
	store        Store
	searcher     Searcher
	classifier   Classifier
	strategy     StrategyGenerator
	publisher    EventPublisher
	publishWait  time.Duration
	publications []models.Publication
	batchSize    int
	batchDelay   time.Duration
	baseURL      string
	policy       StrategyFailurePolicy
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       *tracing.Tracer
	now          func() time.Time
}

type OrchestratorOption func(*Orchestrator)

func WithPublications(pubs []models.Publication) OrchestratorOption {
	return func(o *Orchestrator) {
		if len(pubs) > 0 {
			o.publications = slices.Clone(pubs)
		}
	}
}

func WithBatchSize(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithBatchDelay sets the pause between batches. Zero disables it.
func WithBatchDelay(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.batchDelay = d
		}
	}
}

// WithBaseURL sets the prefix of shareable links.
func WithBaseURL(u string) OrchestratorOption {
	return func(o *Orchestrator) {
		if u != "" {
			o.baseURL = u
		}
	}
}

func WithStrategyFailurePolicy(p StrategyFailurePolicy) OrchestratorOption {
	return func(o *Orchestrator) {
		if p.IsValid() {
			o.policy = p
		}
	}
}

func WithEventPublisher(p EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithPublishTimeout bounds how long a terminal audit waits on its event.
func WithPublishTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.publishWait = d
		}
	}
}

func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithOrchestratorMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func NewOrchestrator(store Store, searcher Searcher, classifier Classifier, strategy StrategyGenerator, opts ...OrchestratorOption) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if strategy == nil {
		return nil, errors.New("strategy generator is required")
	}
	o := &Orchestrator{
		store:        store,
		searcher:     searcher,
		classifier:   classifier,
		strategy:     strategy,
		publisher:    events.NopPublisher{},
		publishWait:  DefaultPublishTimeout,
		publications: slices.Clone(models.DefaultPublications),
		batchSize:    DefaultBatchSize,
		batchDelay:   DefaultBatchDelay,
		baseURL:      DefaultBaseURL,
		policy:       StrategyFailureFail,
		logger:       slog.Default(),
		tracer:       tracing.New(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// PublicationCount is the totalPublications of every audit this orchestrator runs.
func (o *Orchestrator) PublicationCount() int {
	return len(o.publications)
}

// run carries the mutable state of a single audit run.
type run struct {
	audit   *models.Audit
	results []models.Result
}

// Run processes the audit with the given id. It always leaves the record in a
// terminal status unless the record is missing or already terminal. The
// returned error describes why the audit failed; it is nil for completed audits.
func (o *Orchestrator) Run(ctx context.Context, auditID string) (err error) {
	audit, err := o.store.Get(ctx, auditID)
	if err != nil {
		return fmt.Errorf("loading audit %s: %w", auditID, err)
	}
	if audit.Status.IsTerminal() {
		o.logger.WarnContext(ctx, "audit already finished, skipping",
			"audit_id", auditID,
			"status", audit.Status,
		)
		return nil
	}

	ctx, span := o.tracer.AuditSpan(ctx, auditID, audit.BrandName)
	defer func() { tracing.End(span, err) }()

	r := &run{audit: audit, results: make([]models.Result, 0, len(o.publications))}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("audit %s panicked: %v", auditID, rec)
			o.fail(ctx, r, err)
		}
	}()

	o.metrics.IncrementAuditsStarted()
	o.logger.InfoContext(ctx, "audit started",
		"audit_id", auditID,
		"brand", audit.BrandName,
		"publications", len(o.publications),
	)

	if _, err := o.store.Update(ctx, auditID, models.AuditPatch{
		Status:            models.Ptr(models.StatusProcessing),
		Results:           []models.Result{},
		MentionsFound:     models.Ptr(0),
		CoverageRate:      models.Ptr(0),
		TotalPublications: models.Ptr(len(o.publications)),
	}); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			o.fail(ctx, r, err)
			return fmt.Errorf("starting audit %s: %w", auditID, err)
		}
		o.logger.WarnContext(ctx, "audit disappeared before processing", "audit_id", auditID)
	}

	if err := o.processBatches(ctx, r); err != nil {
		o.fail(ctx, r, err)
		return err
	}

	strategy, err := o.generateStrategy(ctx, r)
	if err != nil {
		if upstream.IsFatal(err) || o.policy == StrategyFailureFail {
			o.fail(ctx, r, err)
			return err
		}
		o.logger.WarnContext(ctx, "completing audit without strategy",
			"audit_id", auditID,
			"error", err,
		)
		err = nil
	}

	if err := o.complete(ctx, r, strategy); err != nil {
		o.fail(ctx, r, err)
		return err
	}
	return nil
}

func (o *Orchestrator) processBatches(ctx context.Context, r *run) error {
	batches := models.Batches(o.publications, o.batchSize)
	for i, batch := range batches {
		results, err := o.processBatch(ctx, r.audit, i, batch)
		if err != nil {
			return err
		}
		r.results = append(r.results, results...)

		mentions := models.CountMentions(r.results)
		if _, err := o.store.Update(ctx, r.audit.ID, models.AuditPatch{
			Status:            models.Ptr(models.StatusProcessing),
			Results:           slices.Clone(r.results),
			MentionsFound:     models.Ptr(mentions),
			CoverageRate:      models.Ptr(models.CoverageRate(mentions, len(r.results))),
			TotalPublications: models.Ptr(len(o.publications)),
		}); err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) {
				return fmt.Errorf("persisting batch %d: %w", i+1, err)
			}
			o.logger.WarnContext(ctx, "audit missing while persisting batch",
				"audit_id", r.audit.ID,
				"batch", i+1,
			)
		}

		o.logger.InfoContext(ctx, "batch processed",
			"audit_id", r.audit.ID,
			"batch", i+1,
			"batches", len(batches),
			"processed", len(r.results),
			"mentions_found", mentions,
		)

		if i < len(batches)-1 {
			if err := o.pause(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// processBatch checks every publication of the batch concurrently. Results
// keep the batch's order regardless of completion order.
func (o *Orchestrator) processBatch(ctx context.Context, audit *models.Audit, index int, batch []models.Publication) ([]models.Result, error) {
	start := time.Now()
	defer o.metrics.ObserveBatch(start)

	ctx, span := o.tracer.BatchSpan(ctx, audit.ID, index+1, len(batch))
	results := make([]models.Result, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, pub := range batch {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("checking %s panicked: %v", pub.Domain, rec)
				}
			}()
			res, err := o.checkPublication(gctx, audit, pub)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// checkPublication searches one publication and classifies what it finds.
// Only fatal upstream errors and cancellation are returned; everything else
// degrades the publication to unmentioned.
func (o *Orchestrator) checkPublication(ctx context.Context, audit *models.Audit, pub models.Publication) (models.Result, error) {
	result := models.Result{Domain: pub.Domain, Logo: models.FaviconURL(pub.Domain)}

	sctx, span := o.tracer.SearchSpan(ctx, pub.Domain)
	candidates, err := o.searcher.Search(sctx, pub.Domain, audit.BrandName)
	tracing.End(span, err)
	if err != nil {
		if upstream.IsFatal(err) {
			return result, fmt.Errorf("searching %s: %w", pub.Domain, err)
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		o.degrade(ctx, audit.ID, pub.Domain, "search failed", err)
		return result, nil
	}
	if len(candidates) == 0 {
		o.metrics.IncrementPublicationOutcome(outcomeUnmentioned)
		return result, nil
	}

	cctx, span := o.tracer.ClassifySpan(ctx, pub.Domain, len(candidates))
	mentions, err := o.classifier.Classify(cctx, candidates, audit.BrandName, pub.Domain)
	tracing.End(span, err)
	if err != nil {
		if upstream.IsFatal(err) {
			return result, fmt.Errorf("classifying %s: %w", pub.Domain, err)
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		o.degrade(ctx, audit.ID, pub.Domain, "classification failed", err)
		return result, nil
	}
	if len(mentions) == 0 {
		o.metrics.IncrementPublicationOutcome(outcomeUnmentioned)
		return result, nil
	}

	first := mentions[0]
	result.BrandMentioned = true
	result.Title = first.Title
	result.Snippet = first.Snippet
	result.URL = first.URL
	o.metrics.IncrementPublicationOutcome(outcomeMentioned)
	return result, nil
}

func (o *Orchestrator) degrade(ctx context.Context, auditID, domain, msg string, err error) {
	o.metrics.IncrementPublicationOutcome(outcomeDegraded)
	o.logger.WarnContext(ctx, msg,
		"audit_id", auditID,
		"domain", domain,
		"category", upstream.CategoryOf(err),
		"error", err,
	)
}

func (o *Orchestrator) pause(ctx context.Context) error {
	if o.batchDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(o.batchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) generateStrategy(ctx context.Context, r *run) (*models.Strategy, error) {
	ctx, span := o.tracer.StrategySpan(ctx, r.audit.ID, models.CountMentions(r.results))
	strategy, err := o.strategy.Generate(ctx, slices.Clone(r.results), r.audit.BrandName, r.audit.WebsiteURL)
	tracing.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("generating strategy for audit %s: %w", r.audit.ID, err)
	}
	return strategy, nil
}

func (o *Orchestrator) complete(ctx context.Context, r *run, strategy *models.Strategy) error {
	mentions := models.CountMentions(r.results)
	now := o.now()
	patch := models.AuditPatch{
		Status:            models.Ptr(models.StatusCompleted),
		Results:           slices.Clone(r.results),
		MentionsFound:     models.Ptr(mentions),
		CoverageRate:      models.Ptr(models.CoverageRate(mentions, len(o.publications))),
		TotalPublications: models.Ptr(len(o.publications)),
		Strategy:          strategy,
		ShareableLink:     models.Ptr(o.baseURL + "/share/" + r.audit.ID),
		CompletedAt:       &now,
	}
	if top := o.topSource(r.results); top != "" {
		patch.TopSource = &top
	}

	updated, err := o.store.Update(context.WithoutCancel(ctx), r.audit.ID, patch)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			o.logger.WarnContext(ctx, "audit missing at completion", "audit_id", r.audit.ID)
			return nil
		}
		return fmt.Errorf("completing audit %s: %w", r.audit.ID, err)
	}

	o.metrics.IncrementAuditsFinished(string(models.StatusCompleted))
	o.logger.InfoContext(ctx, "audit completed",
		"audit_id", r.audit.ID,
		"mentions_found", mentions,
		"coverage_rate", updated.CoverageRate,
	)
	o.publish(ctx, updated)
	return nil
}

// fail persists the failed status with whatever was accumulated. It runs on
// a context detached from cancellation so aborted runs still reach a terminal
// status.
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) {
	mentions := models.CountMentions(r.results)
	now := o.now()
	updated, err := o.store.Update(context.WithoutCancel(ctx), r.audit.ID, models.AuditPatch{
		Status:        models.Ptr(models.StatusFailed),
		Results:       slices.Clone(r.results),
		MentionsFound: models.Ptr(mentions),
		CoverageRate:  models.Ptr(models.CoverageRate(mentions, len(r.results))),
		CompletedAt:   &now,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to mark audit as failed",
			"audit_id", r.audit.ID,
			"cause", cause,
			"error", err,
		)
		return
	}

	o.metrics.IncrementAuditsFinished(string(models.StatusFailed))
	o.logger.ErrorContext(ctx, "audit failed",
		"audit_id", r.audit.ID,
		"processed", len(r.results),
		"category", upstream.CategoryOf(cause),
		"error", cause,
	)
	o.publish(ctx, updated)
}

func (o *Orchestrator) publish(ctx context.Context, audit *models.Audit) {
	event, ok := events.FromAudit(audit, o.now())
	if !ok {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.publishWait)
	defer cancel()
	if err := o.publisher.Publish(pubCtx, event); err != nil {
		o.logger.WarnContext(ctx, "failed to publish audit event",
			"audit_id", audit.ID,
			"event_type", event.Type,
			"error", err,
		)
	}
}

// topSource names the first publication with a mention, or "" when none.
func (o *Orchestrator) topSource(results []models.Result) string {
	for _, res := range results {
		if !res.BrandMentioned {
			continue
		}
		for _, pub := range o.publications {
			if pub.Domain == res.Domain && pub.Name != "" {
				return pub.Name
			}
		}
		return res.Domain
	}
	return ""
}
