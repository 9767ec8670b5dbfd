package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"brandaudit/internal/audit/models"
	"brandaudit/internal/platform/middleware"
	dErrors "brandaudit/pkg/domain-errors"
	"brandaudit/pkg/platform/httputil"
)

const maxBodyBytes = 1 << 20

// Service defines the audit operations exposed over HTTP.
type Service interface {
	StartAudit(ctx context.Context, req models.CreateAuditRequest) (*models.CreateAuditResponse, error)
	GetAudit(ctx context.Context, id string) (*models.Audit, error)
	ListByStatus(ctx context.Context, status string) ([]*models.Audit, error)
	Credits(ctx context.Context) (int, error)
}

// CreditsResponse is the body of GET /api/credits.
type CreditsResponse struct {
	CreditsLeft int `json:"credits_left"`
}

// Handler serves the audit API.
type Handler struct {
	audits  Service
	logger  *slog.Logger
	timeout time.Duration
}

type Option func(*Handler)

// WithTimeout bounds each request. Audits themselves run in the background
// and are not affected.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New creates a new audit Handler.
func New(audits Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{audits: audits, logger: logger, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the audit routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(h.timeout))
		api.Use(middleware.ContentTypeJSON)
		api.Post("/audit", h.handleCreateAudit)
		api.Get("/audit/{id}", h.handleGetAudit)
		api.Get("/share/{id}", h.handleGetAudit)
		api.Get("/audits", h.handleListAudits)
		api.Get("/credits", h.handleCredits)
	})
}

func (h *Handler) handleCreateAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.CreateAuditRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid create audit request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	resp, err := h.audits.StartAudit(ctx, req)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to start audit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleGetAudit serves both the polling endpoint and the share link target.
func (h *Handler) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audit, err := h.audits.GetAudit(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to get audit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, audit)
}

func (h *Handler) handleListAudits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := r.URL.Query().Get("status")
	if status == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "status query parameter is required"))
		return
	}
	audits, err := h.audits.ListByStatus(ctx, status)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list audits", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, audits)
}

func (h *Handler) handleCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.audits.Credits(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to get credits", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CreditsResponse{CreditsLeft: n})
}

// writeServiceError logs server-side failures and writes the coded envelope.
// Errors without a code are treated as internal.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := dErrors.CodeOf(err)
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.WarnContext(ctx, msg+": request timed out", attrs...)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "request timed out"))
		return
	case code == dErrors.CodeInternal || code == dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, msg, attrs...)
	default:
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
