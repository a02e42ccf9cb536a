package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/churn-analytics/internal/api/middleware"
	"github.com/dvloznov/churn-analytics/internal/campaign"
	"github.com/dvloznov/churn-analytics/internal/churn"
	"github.com/dvloznov/churn-analytics/internal/store/sqlite"
)

const topStatesLimit = 10

// AnalyticsHandler serves dashboard aggregates and retention
// recommendations.
type AnalyticsHandler struct {
	store   FeatureReader
	planner *campaign.Planner
	log     zerolog.Logger
}

// NewAnalyticsHandler creates a new analytics handler. A nil planner serves
// the static playbook.
func NewAnalyticsHandler(store FeatureReader, planner *campaign.Planner, log zerolog.Logger) *AnalyticsHandler {
	if planner == nil {
		planner = campaign.NewPlanner(nil)
	}
	return &AnalyticsHandler{store: store, planner: planner, log: log}
}

// Summary handles GET /api/analytics/summary
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.store.Summary(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute summary")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute summary")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sum)
}

// Charts handles GET /api/analytics/charts?type=
func (h *AnalyticsHandler) Charts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chartType := r.URL.Query().Get("type")
	if chartType == "" {
		chartType = "churn_distribution"
	}

	var (
		series *sqlite.Series
		err    error
	)
	switch chartType {
	case "churn_distribution":
		series, err = h.store.ChurnDistribution(ctx)
	case "revenue_by_risk":
		series, err = h.store.RevenueByRisk(ctx)
	case "geographic_distribution":
		series, err = h.store.TopStates(ctx, topStatesLimit)
	default:
		middleware.WriteError(w, http.StatusBadRequest, "Invalid chart type")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("type", chartType).Msg("Failed to build chart")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to build chart")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, series)
}

// Recommendations handles GET /api/analytics/recommendations?risk_level=
func (h *AnalyticsHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	var levels []churn.RiskLevel
	if v := r.URL.Query().Get("risk_level"); v != "" {
		level, ok := churn.ParseRiskLevel(v)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid risk_level")
			return
		}
		levels = append(levels, level)
	}

	impact, err := h.store.Impact(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute impact")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute impact")
		return
	}

	recs := h.planner.Plan(r.Context(), impact, levels...)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"recommendations":     recs,
		"revenue_at_risk":     impact.RevenueAtRisk,
		"revenue_at_risk_pct": impact.RevenueAtRiskPct,
		"total_customers":     impact.TotalCustomers,
	})
}
