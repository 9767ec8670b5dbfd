package service

import (
	"context"
	"errors"
	"log/slog"

	"brandaudit/internal/audit/events"
	"brandaudit/internal/audit/metrics"
	"brandaudit/internal/audit/models"
	"brandaudit/internal/audit/worker"
	dErrors "brandaudit/pkg/domain-errors"
	"brandaudit/pkg/platform/sentinel"
	"brandaudit/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, fields models.AuditFields) (*models.Audit, error)
	Get(ctx context.Context, id string) (*models.Audit, error)
	Update(ctx context.Context, id string, patch models.AuditPatch) (*models.Audit, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Audit, error)
}

type Searcher interface {
	Search(ctx context.Context, domain, brand string) ([]models.Candidate, error)
}

type CreditChecker interface {
	Credits(ctx context.Context) (int, error)
}

type Classifier interface {
	Classify(ctx context.Context, candidates []models.Candidate, brand, domain string) ([]models.Mention, error)
}

type StrategyGenerator interface {
	Generate(ctx context.Context, results []models.Result, brand, website string) (*models.Strategy, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Dispatcher interface {
	Submit(auditID string) (*worker.Handle, error)
}

// Service accepts audit submissions and serves reads of audit state.
type Service struct {
	store        Store
	dispatcher   Dispatcher
	credits      CreditChecker
	publications int
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCreditChecker enables Credits. Without one Credits reports unavailable.
func WithCreditChecker(c CreditChecker) Option {
	return func(s *Service) {
		s.credits = c
	}
}

// WithPublicationCount sets totalPublications on new records. It must match
// the orchestrator's publication list.
func WithPublicationCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.publications = n
		}
	}
}

func New(store Store, dispatcher Dispatcher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	s := &Service{
		store:        store,
		dispatcher:   dispatcher,
		publications: len(models.DefaultPublications),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StartAudit validates the request, creates a pending record and hands the
// audit to the background runner. Nothing is created when validation fails.
func (s *Service) StartAudit(ctx context.Context, req models.CreateAuditRequest) (*models.CreateAuditResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, err.Error())
	}

	audit, err := s.store.Create(ctx, models.AuditFields{
		BrandName:         req.BrandName,
		WebsiteURL:        req.WebsiteURL,
		Status:            models.StatusPending,
		TotalPublications: s.publications,
	})
	if err != nil {
		return nil, storeError(err, "failed to create audit")
	}

	if _, err := s.dispatcher.Submit(audit.ID); err != nil {
		s.logger.ErrorContext(ctx, "audit submission rejected",
			"audit_id", audit.ID,
			"error", err,
		)
		s.abandon(ctx, audit.ID)
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrRunnerClosed) || errors.Is(err, worker.ErrNotStarted) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit queue is unavailable, try again later")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start audit")
	}

	s.logger.InfoContext(ctx, "audit accepted",
		"audit_id", audit.ID,
		"brand", audit.BrandName,
	)
	return &models.CreateAuditResponse{AuditID: audit.ID}, nil
}

// abandon marks a record that never reached the runner as failed so it is not
// left pending.
func (s *Service) abandon(ctx context.Context, id string) {
	now := requestcontext.Now(ctx)
	_, err := s.store.Update(context.WithoutCancel(ctx), id, models.AuditPatch{
		Status:      models.Ptr(models.StatusFailed),
		CompletedAt: &now,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark unsubmitted audit as failed",
			"audit_id", id,
			"error", err,
		)
		return
	}
	s.metrics.IncrementAuditsFinished(string(models.StatusFailed))
}

// GetAudit returns the current record for id.
func (s *Service) GetAudit(ctx context.Context, id string) (*models.Audit, error) {
	audit, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "audit not found")
		}
		return nil, storeError(err, "failed to load audit")
	}
	return audit, nil
}

// ListByStatus returns every audit currently in status, oldest first.
func (s *Service) ListByStatus(ctx context.Context, status string) ([]*models.Audit, error) {
	st := models.Status(status)
	if !st.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "status must be one of pending, processing, completed, failed")
	}
	audits, err := s.store.ListByStatus(ctx, st)
	if err != nil {
		return nil, storeError(err, "failed to list audits")
	}
	if audits == nil {
		audits = []*models.Audit{}
	}
	return audits, nil
}

// Credits reports the remaining search credits.
func (s *Service) Credits(ctx context.Context) (int, error) {
	if s.credits == nil {
		return 0, dErrors.New(dErrors.CodeUnavailable, "credit information is unavailable")
	}
	n, err := s.credits.Credits(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to fetch credits")
	}
	return n, nil
}

// storeError maps a store failure to a coded error. Outages of the backing
// store are reported as unavailable so clients know to retry.
func storeError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit store is unavailable, try again later")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
