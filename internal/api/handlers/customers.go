package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/churn-analytics/internal/api/middleware"
	"github.com/dvloznov/churn-analytics/internal/churn"
	"github.com/dvloznov/churn-analytics/internal/store/sqlite"
)

const maxPerPage = 500

// CustomersHandler serves the per-customer feature records.
type CustomersHandler struct {
	store FeatureReader
	log   zerolog.Logger
}

// NewCustomersHandler creates a new customers handler.
func NewCustomersHandler(store FeatureReader, log zerolog.Logger) *CustomersHandler {
	return &CustomersHandler{store: store, log: log}
}

// ListCustomers handles GET /api/customers
func (h *CustomersHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := sqlite.CustomerFilter{Search: query.Get("search")}

	if level := query.Get("risk_level"); level != "" {
		if _, ok := churn.ParseRiskLevel(level); !ok {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid risk_level")
			return
		}
		filter.RiskLevel = level
	}

	var err error
	if filter.Page, err = intParam(query.Get("page"), 1); err != nil || filter.Page < 1 {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid page")
		return
	}
	if filter.PerPage, err = intParam(query.Get("per_page"), 50); err != nil || filter.PerPage < 1 || filter.PerPage > maxPerPage {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid per_page")
		return
	}

	page, err := h.store.ListCustomers(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list customers")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list customers")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"customers":    page.Customers,
		"total":        page.Total,
		"pages":        page.Pages,
		"current_page": page.Page,
		"per_page":     page.PerPage,
	})
}

// GetCustomer handles GET /api/customers/{customerUniqueID}
func (h *CustomersHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "customerUniqueID")

	customer, err := h.store.GetCustomer(r.Context(), id)
	if errors.Is(err, sqlite.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Customer not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("customer_unique_id", id).Msg("Failed to get customer")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get customer")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, customer)
}

// intParam parses an optional integer query parameter.
func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
