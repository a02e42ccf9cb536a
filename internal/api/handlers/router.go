package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/churn-analytics/internal/api/middleware"
	"github.com/dvloznov/churn-analytics/internal/campaign"
	"github.com/dvloznov/churn-analytics/internal/jobs"
)

// RouterDeps wires the handlers to their backends.
type RouterDeps struct {
	Features  FeatureReader
	Runs      RunReader
	Publisher jobs.Publisher
	Jobs      jobs.JobStore
	Planner   *campaign.Planner
	Campaigns CampaignStore
	Log       zerolog.Logger

	// Token guards every route that changes state; empty disables the check.
	Token string
	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string
}

// NewRouter builds the HTTP API.
func NewRouter(d RouterDeps) http.Handler {
	customers := NewCustomersHandler(d.Features, d.Log)
	analytics := NewAnalyticsHandler(d.Features, d.Planner, d.Log)
	runs := NewRunsHandler(d.Publisher, d.Jobs, d.Runs, d.Log)
	campaigns := NewCampaignsHandler(d.Campaigns, d.Log)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.AccessLog(d.Log),
		middleware.Recover,
		middleware.CORS(d.AllowedOrigins),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/customers", customers.ListCustomers)
		r.Get("/customers/{customerUniqueID}", customers.GetCustomer)

		r.Get("/analytics/summary", analytics.Summary)
		r.Get("/analytics/charts", analytics.Charts)
		r.Get("/analytics/recommendations", analytics.Recommendations)

		r.Get("/runs", runs.ListRuns)
		r.Get("/runs/{id}", runs.GetRun)

		r.Get("/campaigns", campaigns.ListCampaigns)
		r.Get("/campaigns/{id}", campaigns.GetCampaign)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(d.Token))
			r.Post("/runs", runs.CreateRun)
			r.Post("/campaigns", campaigns.CreateCampaign)
			r.Put("/campaigns/{id}", campaigns.UpdateCampaign)
			r.Delete("/campaigns/{id}", campaigns.DeleteCampaign)
		})
	})

	return r
}
