package handlers

import (
	"context"

	"github.com/dvloznov/churn-analytics/internal/campaign"
	"github.com/dvloznov/churn-analytics/internal/churn"
	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/store/sqlite"
)

// FeatureReader reads the published feature table.
type FeatureReader interface {
	ListCustomers(ctx context.Context, f sqlite.CustomerFilter) (*sqlite.CustomerPage, error)
	GetCustomer(ctx context.Context, customerUniqueID string) (*features.CustomerFeatures, error)
	Summary(ctx context.Context) (*sqlite.Summary, error)
	Impact(ctx context.Context) (churn.ImpactReport, error)
	ChurnDistribution(ctx context.Context) (*sqlite.Series, error)
	RevenueByRisk(ctx context.Context) (*sqlite.Series, error)
	TopStates(ctx context.Context, limit int) (*sqlite.Series, error)
}

// RunReader reads the pipeline run history.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*sqlite.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*sqlite.Run, error)
}

// CampaignStore manages retention campaigns.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *campaign.Campaign) error
	GetCampaign(ctx context.Context, id int64) (*campaign.Campaign, error)
	ListCampaigns(ctx context.Context, status campaign.Status) ([]*campaign.Campaign, error)
	UpdateCampaign(ctx context.Context, id int64, p campaign.Patch) (*campaign.Campaign, error)
	DeleteCampaign(ctx context.Context, id int64) error
}

var (
	_ FeatureReader = (*sqlite.Store)(nil)
	_ RunReader     = (*sqlite.Store)(nil)
	_ CampaignStore = (*sqlite.Store)(nil)
)
