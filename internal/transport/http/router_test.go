package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandaudit/internal/audit/classifier"
	"brandaudit/internal/audit/handler"
	"brandaudit/internal/audit/llm"
	auditmetrics "brandaudit/internal/audit/metrics"
	"brandaudit/internal/audit/models"
	"brandaudit/internal/audit/service"
	"brandaudit/internal/audit/store"
	"brandaudit/internal/audit/strategy"
	"brandaudit/internal/audit/worker"
	"brandaudit/internal/platform/metrics"
	"brandaudit/pkg/testutil"
)

// fakeSearch returns one strong candidate for the domains listed in hits.
type fakeSearch struct {
	hits map[string]bool
}

func (f fakeSearch) Search(_ context.Context, domain, brand string) ([]models.Candidate, error) {
	if !f.hits[domain] {
		return nil, nil
	}
	return []models.Candidate{{
		Title:   brand + " Inc launches a new savings product",
		Snippet: brand + " Inc said on Tuesday that its new savings product will roll out nationwide next month.",
		Link:    "https://" + domain + "/news/" + strings.ToLower(brand) + "-launch",
	}}, nil
}

func (fakeSearch) Credits(context.Context) (int, error) { return 2500, nil }

type fakeCompleter struct{}

func (fakeCompleter) Complete(context.Context, llm.CompletionRequest) (string, error) {
	return "```json\n{\"insights\":[\"Strong finance coverage\"],\"priorityTargets\":[\"Reuters\"],\"actions\":[\"Pitch earnings story\"]}\n```", nil
}

// capturingDispatcher hands audits to a real runner and keeps the handles so
// the test can wait for completion.
type capturingDispatcher struct {
	runner  *worker.Runner
	handles chan *worker.Handle
}

func (d *capturingDispatcher) Submit(id string) (*worker.Handle, error) {
	h, err := d.runner.Submit(id)
	if err == nil {
		d.handles <- h
	}
	return h, err
}

func newTestApp(t *testing.T) (http.Handler, *capturingDispatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	pubs := models.DefaultPublications[:4]
	st := store.NewInMemory()
	search := fakeSearch{hits: map[string]bool{pubs[2].Domain: true}}

	orch, err := service.NewOrchestrator(st, search, classifier.New(nil), strategy.New(fakeCompleter{}),
		service.WithPublications(pubs),
		service.WithBatchSize(2),
		service.WithBatchDelay(0),
		service.WithBaseURL("https://audit.example.com"),
		service.WithOrchestratorLogger(logger),
		service.WithOrchestratorMetrics(auditmetrics.New(reg)),
	)
	require.NoError(t, err)

	runner := worker.New(orch.Run, worker.WithWorkers(2), worker.WithLogger(logger))
	runner.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})

	dispatcher := &capturingDispatcher{runner: runner, handles: make(chan *worker.Handle, 8)}
	svc, err := service.New(st, dispatcher,
		service.WithLogger(logger),
		service.WithCreditChecker(search),
		service.WithPublicationCount(orch.PublicationCount()),
	)
	require.NoError(t, err)

	router := NewRouter(Deps{
		Logger:   logger,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
		Checks:   map[string]HealthCheck{"store": func(context.Context) error { return nil }},
	}, handler.New(svc, logger))
	return router, dispatcher
}

func TestAuditLifecycleOverHTTP(t *testing.T) {
	router, dispatcher := newTestApp(t)
	var auditID string

	testutil.Given(t, "a submitted audit", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/audit",
			map[string]string{"brandName": "Acme", "websiteUrl": "https://acme.com"}))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		auditID = testutil.DecodeJSON[models.CreateAuditResponse](t, rr).AuditID
		require.NotEmpty(t, auditID)
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	})

	testutil.When(t, "the background run finishes", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h := <-dispatcher.handles
		require.Equal(t, auditID, h.AuditID)
		require.NoError(t, h.Wait(ctx))
	})

	testutil.Then(t, "polling and the share link return the completed audit", func(t *testing.T) {
		for _, path := range []string{"/api/audit/" + auditID, "/api/share/" + auditID} {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, path, nil))
			require.Equal(t, http.StatusOK, rr.Code)

			got := testutil.DecodeJSON[models.Audit](t, rr)
			assert.Equal(t, models.StatusCompleted, got.Status)
			require.Len(t, got.Results, 4)
			assert.Equal(t, 4, got.TotalPublications)
			assert.Equal(t, 1, got.MentionsFound)
			assert.Equal(t, 25, got.CoverageRate)
			require.NotNil(t, got.TopSource)
			assert.Equal(t, models.DefaultPublications[2].Name, *got.TopSource)
			require.NotNil(t, got.Strategy)
			assert.Equal(t, []string{"Reuters"}, got.Strategy.PriorityTargets)
			require.NotNil(t, got.ShareableLink)
			assert.Equal(t, "https://audit.example.com/share/"+auditID, *got.ShareableLink)
			assert.True(t, got.Results[2].BrandMentioned)
			assert.NotEmpty(t, got.Results[2].URL)
		}
	})

	testutil.Then(t, "the audit is listed as completed", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/api/audits?status=completed", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		got := testutil.DecodeJSON[[]models.Audit](t, rr)
		require.Len(t, got, 1)
		assert.Equal(t, auditID, got[0].ID)
	})
}

func TestInvalidSubmissionCreatesNothing(t *testing.T) {
	router, dispatcher := newTestApp(t)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/audit",
		map[string]string{"brandName": "Acme", "websiteUrl": "not a url"}))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/api/audits?status=pending", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
	assert.Empty(t, dispatcher.handles)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestApp(t)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","dependencies":{"store":"ok"}}`, rr.Body.String())

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/api/credits", nil))
	assert.JSONEq(t, `{"credits_left":2500}`, rr.Body.String())

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "brandaudit_http_request_duration_seconds")
}

func TestHealthReportsFailingDependency(t *testing.T) {
	router := NewRouter(Deps{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Gatherer: prometheus.NewRegistry(),
		Checks:   map[string]HealthCheck{"redis": func(context.Context) error { return errors.New("connection refused") }},
	})

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "degraded")
}

func TestUnknownRoute(t *testing.T) {
	router, _ := newTestApp(t)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/api/nope", nil))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodDelete, "/api/audit/x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
