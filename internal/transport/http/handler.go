// Package httptransport is the worker's HTTP surface: liveness for
// process supervision, Prometheus metrics, and the read-only audit
// query API the UI and report job consume.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workforce/internal/audit/store"
	"workforce/pkg/audit"
)

// HealthChecker reports a named liveness signal.
type HealthChecker interface {
	Healthy() bool
}

// Publisher is the emit side surfaced on the dev endpoint.
type Publisher interface {
	Publish(ctx context.Context, eventType audit.EventType, data audit.Change) error
}

// Handler wires the audit query and health endpoints.
type Handler struct {
	store     store.Store
	publisher Publisher
	logger    *slog.Logger
	checks    map[string]HealthChecker
}

// Option configures the Handler.
type Option func(*Handler)

// WithPublisher mounts POST /internal/audit/emit, a development
// surface for driving events through the pipeline by hand. Business
// services embed the publisher directly and do not go through HTTP.
func WithPublisher(p Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

// New constructs the handler. Named health checks are reported
// individually under /health; any failing check makes the endpoint
// return 503.
func New(st store.Store, logger *slog.Logger, checks map[string]HealthChecker, opts ...Option) *Handler {
	h := &Handler{store: st, logger: logger, checks: checks}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the chi router for the process.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if h.store != nil {
		r.Get("/audit/summary", h.handleSummary)
		r.Get("/audit/{entityType}/{entityID}", h.handleQueryByEntity)
	}
	if h.publisher != nil {
		r.Post("/internal/audit/emit", h.handleEmit)
	}
	return r
}

// emitRequest mirrors the publisher contract for the dev endpoint.
type emitRequest struct {
	EventType string          `json:"eventType"`
	EntityID  string          `json:"entityId"`
	Actor     string          `json:"actor,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
}

func (h *Handler) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	err := h.publisher.Publish(r.Context(), audit.EventType(req.EventType), audit.Change{
		EntityID: req.EntityID,
		Actor:    req.Actor,
		Before:   req.Before,
		After:    req.After,
	})
	switch {
	case errors.Is(err, audit.ErrUnknownEventType):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, audit.ErrBrokerUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case err != nil:
		h.logger.ErrorContext(r.Context(), "emit failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "publish failed"})
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		if c.Healthy() {
			checks[name] = "healthy"
			continue
		}
		checks[name] = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": http.StatusText(status),
		"checks": checks,
	})
}

// handleQueryByEntity returns the ordered audit trail for one entity.
// An entity with no history is an empty list, never an error: the
// audit UI renders "no audit history available" on its own.
func (h *Handler) handleQueryByEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")

	records, err := h.store.QueryByEntity(r.Context(), entityType, entityID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit query failed",
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "audit history unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleSummary returns record counts grouped by entity type for the
// report aggregator.
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountByEntityType(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit summary failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "audit summary unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
