package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/churn-analytics/internal/api/middleware"
	"github.com/dvloznov/churn-analytics/internal/campaign"
	"github.com/dvloznov/churn-analytics/internal/churn"
	"github.com/dvloznov/churn-analytics/internal/store/sqlite"
)

// CampaignsHandler manages retention campaigns.
type CampaignsHandler struct {
	store CampaignStore
	log   zerolog.Logger
}

// NewCampaignsHandler creates a new campaigns handler.
func NewCampaignsHandler(store CampaignStore, log zerolog.Logger) *CampaignsHandler {
	return &CampaignsHandler{store: store, log: log}
}

// ListCampaigns handles GET /api/campaigns
func (h *CampaignsHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	var status campaign.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st, ok := campaign.ParseStatus(s)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		status = st
	}

	list, err := h.store.ListCampaigns(r.Context(), status)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list campaigns")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, list)
}

// GetCampaign handles GET /api/campaigns/{id}
func (h *CampaignsHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, id, "Failed to get campaign")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, c)
}

// CreateCampaign handles POST /api/campaigns
func (h *CampaignsHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             string           `json:"name"`
		TargetRiskLevel  churn.RiskLevel  `json:"target_risk_level"`
		Type             campaign.Channel `json:"campaign_type"`
		DiscountPct      float64          `json:"discount_percentage"`
		Message          string           `json:"message"`
		Status           campaign.Status  `json:"status"`
		TargetCustomers  int              `json:"target_customers"`
		EngagedCustomers int              `json:"engaged_customers"`
	}
	if err := middleware.DecodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c := &campaign.Campaign{
		Name:             req.Name,
		TargetRiskLevel:  req.TargetRiskLevel,
		Type:             req.Type,
		DiscountPct:      req.DiscountPct,
		Message:          req.Message,
		Status:           req.Status,
		TargetCustomers:  req.TargetCustomers,
		EngagedCustomers: req.EngagedCustomers,
	}
	if err := h.store.CreateCampaign(r.Context(), c); err != nil {
		h.writeStoreError(w, err, 0, "Failed to create campaign")
		return
	}

	h.log.Info().Int64("campaign_id", c.ID).Str("target_risk_level", string(c.TargetRiskLevel)).Msg("Campaign created")
	middleware.WriteJSON(w, http.StatusCreated, c)
}

// UpdateCampaign handles PUT /api/campaigns/{id}. Fields left out of the
// body keep their stored values.
func (h *CampaignsHandler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var patch campaign.Patch
	if err := middleware.DecodeJSON(r, &patch); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := h.store.UpdateCampaign(r.Context(), id, patch)
	if err != nil {
		h.writeStoreError(w, err, id, "Failed to update campaign")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, c)
}

// DeleteCampaign handles DELETE /api/campaigns/{id}
func (h *CampaignsHandler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteCampaign(r.Context(), id); err != nil {
		h.writeStoreError(w, err, id, "Failed to delete campaign")
		return
	}

	h.log.Info().Int64("campaign_id", id).Msg("Campaign deleted")
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func campaignID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid campaign id")
		return 0, false
	}
	return id, true
}

func (h *CampaignsHandler) writeStoreError(w http.ResponseWriter, err error, id int64, msg string) {
	switch {
	case errors.Is(err, campaign.ErrInvalidCampaign):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sqlite.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Campaign not found")
	default:
		h.log.Error().Err(err).Int64("campaign_id", id).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}
