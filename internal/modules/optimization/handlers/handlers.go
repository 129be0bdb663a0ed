// Package handlers provides HTTP handlers for optimization runs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/esgfolio/internal/modules/optimization"
	"github.com/aristath/esgfolio/internal/modules/runs"
	"github.com/aristath/esgfolio/internal/modules/universe"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RunStore persists optimization reports.
type RunStore interface {
	Save(ctx context.Context, report *optimization.Report) error
	Get(ctx context.Context, id string) (*optimization.Report, error)
	List(ctx context.Context, limit int) ([]runs.Summary, error)
	Strategies(ctx context.Context, id string) ([]runs.StrategyRecord, error)
}

// Handler handles optimization HTTP requests
type Handler struct {
	provider *universe.Provider
	service  *optimization.Service
	store    RunStore
	defaults optimization.Coefficients
	log      zerolog.Logger
}

// NewHandler creates a new optimization handler
func NewHandler(
	provider *universe.Provider,
	service *optimization.Service,
	store RunStore,
	defaults optimization.Coefficients,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		provider: provider,
		service:  service,
		store:    store,
		defaults: defaults,
		log:      log.With().Str("handler", "optimization").Logger(),
	}
}

// PricesRequest carries closing prices on shared dates; null marks a missing close.
type PricesRequest struct {
	Dates  []string              `json:"dates"`
	Closes map[string][]*float64 `json:"closes"`
}

// RunRequest represents a request to run the three strategies
type RunRequest struct {
	Instruments  []universe.RawInstrument   `json:"instruments"`
	Prices       PricesRequest              `json:"prices"`
	Coefficients *optimization.Coefficients `json:"coefficients,omitempty"`
}

// toPriceHistory converts nullable closes into NaN-marked series.
func (p PricesRequest) toPriceHistory() optimization.PriceHistory {
	history := optimization.PriceHistory{
		Dates:  p.Dates,
		Closes: make(map[string][]float64, len(p.Closes)),
	}
	for id, closes := range p.Closes {
		series := make([]float64, len(closes))
		for i, c := range closes {
			if c == nil {
				series[i] = math.NaN()
			} else {
				series[i] = *c
			}
		}
		history.Closes[id] = series
	}
	return history
}

// HandleRun handles POST /api/optimizer/run
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	u, err := h.provider.Build(req.Instruments)
	if err != nil {
		h.writeError(w, err)
		return
	}

	coefs := h.defaults
	if req.Coefficients != nil {
		coefs = *req.Coefficients
	}

	report, err := h.service.Run(r.Context(), u, req.Prices.toPriceHistory(), coefs)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.store.Save(r.Context(), report); err != nil {
		h.log.Error().Err(err).Str("run_id", report.ID).Msg("Failed to persist run")
		http.Error(w, "Failed to persist run", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(report))
}

// HandleListRuns handles GET /api/optimizer/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := runs.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	summaries, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(summaries))
}

// HandleGetRun handles GET /api/optimizer/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(report))
}

// HandleGetRunStrategies handles GET /api/optimizer/runs/{id}/strategies.
// An optional strategy query parameter narrows the result to one strategy.
func (h *Handler) HandleGetRunStrategies(w http.ResponseWriter, r *http.Request) {
	var only optimization.Strategy
	if raw := r.URL.Query().Get("strategy"); raw != "" {
		s, err := optimization.ParseStrategy(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		only = s
	}

	records, err := h.store.Strategies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if only != "" {
		filtered := make([]runs.StrategyRecord, 0, 1)
		for _, rec := range records {
			if rec.Strategy == only {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	h.writeJSON(w, http.StatusOK, envelope(records))
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, runs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, universe.ErrEmptyUniverse),
		errors.Is(err, universe.ErrEmptyID),
		errors.Is(err, universe.ErrDuplicateInstrument),
		errors.Is(err, optimization.ErrNoInstruments),
		errors.Is(err, optimization.ErrMissingSeries),
		errors.Is(err, optimization.ErrNoOverlap),
		errors.Is(err, optimization.ErrInsufficientPeriods),
		errors.Is(err, optimization.ErrRankDeficient),
		errors.Is(err, optimization.ErrDimensionMismatch),
		errors.Is(err, optimization.ErrNonFinite),
		errors.Is(err, optimization.ErrInfeasibleBounds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	} else {
		h.log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	h.writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
