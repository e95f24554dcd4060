package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/easyash/trustedby/internal/core"
)

// MetricCounter is the slice of db.AnalyticsRepository the analytics
// endpoints need.
type MetricCounter interface {
	Increment(ctx context.Context, customerID, metric string, day time.Time) error
	Totals(ctx context.Context, customerID string) (map[string]int64, error)
}

// AnalyticsHandler serves widget analytics. Track is public: the embed
// script fires it from visitors' browsers on third-party sites, so the only
// protections are input validation and the per-IP rate limit.
type AnalyticsHandler struct {
	counter   MetricCounter
	validator *core.Validator
	logger    *slog.Logger

	now func() time.Time
}

func NewAnalyticsHandler(counter MetricCounter, validator *core.Validator, logger *slog.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsHandler{
		counter:   counter,
		validator: validator,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Post("/track", h.Track)
		r.Get("/summary", h.Summary)
	})
}

type trackRequest struct {
	CustomerID string `json:"customer_id" validate:"required,max=64"`
	Metric     string `json:"metric" validate:"required,oneof=widget_view widget_click"`
}

// Track increments a widget counter for today.
//
// POST /v1/analytics/track
func (h *AnalyticsHandler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.counter.Increment(r.Context(), req.CustomerID, req.Metric, h.now()); err != nil {
		// A counter miss must never break the embedding page. Log and ack.
		h.logger.WarnContext(r.Context(), "failed to record widget metric",
			"customer_id", req.CustomerID,
			"metric", req.Metric,
			"error", err,
		)
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: map[string]bool{"tracked": true}})
}

// Summary returns lifetime widget counter totals for the customer.
//
// GET /v1/analytics/summary
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	totals, err := h.counter.Totals(r.Context(), actor.CustomerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: totals})
}
