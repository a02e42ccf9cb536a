package campaign

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dvloznov/churn-analytics/internal/churn"
)

// Channel is how a campaign reaches customers.
type Channel string

const (
	ChannelEmail       Channel = "Email"
	ChannelSMS         Channel = "SMS"
	ChannelPush        Channel = "Push"
	ChannelRetargeting Channel = "Retargeting"
	ChannelLoyalty     Channel = "Loyalty"
)

// Channels lists the accepted campaign types.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelRetargeting, ChannelLoyalty}

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusActive    Status = "Active"
	StatusPaused    Status = "Paused"
	StatusCompleted Status = "Completed"
)

// Statuses lists the accepted campaign statuses.
var Statuses = []Status{StatusDraft, StatusActive, StatusPaused, StatusCompleted}

// ErrInvalidCampaign wraps every validation failure.
var ErrInvalidCampaign = errors.New("invalid campaign")

const maxNameLen = 100

// Campaign is a retention campaign aimed at one churn-risk level.
type Campaign struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	TargetRiskLevel churn.RiskLevel `json:"target_risk_level"`
	Type            Channel         `json:"campaign_type"`
	DiscountPct     float64         `json:"discount_percentage"`
	Message         string          `json:"message"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`

	// TargetCustomers is the audience size; EngagedCustomers the part of it
	// that responded.
	TargetCustomers  int `json:"target_customers"`
	EngagedCustomers int `json:"engaged_customers"`
}

// EngagementRate is engaged over targeted customers, in percent.
func (c *Campaign) EngagementRate() float64 {
	if c.TargetCustomers <= 0 {
		return 0
	}
	return float64(c.EngagedCustomers) / float64(c.TargetCustomers) * 100
}

// Normalize trims text fields and fills the default status.
func (c *Campaign) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Message = strings.TrimSpace(c.Message)
	if c.Status == "" {
		c.Status = StatusActive
	}
}

// Validate checks the campaign against the known labels and ranges.
func (c *Campaign) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidCampaign)
	case len(c.Name) > maxNameLen:
		return fmt.Errorf("%w: name is longer than %d characters", ErrInvalidCampaign, maxNameLen)
	}
	if _, ok := churn.ParseRiskLevel(string(c.TargetRiskLevel)); !ok {
		return fmt.Errorf("%w: unknown target_risk_level %q", ErrInvalidCampaign, c.TargetRiskLevel)
	}
	if !slices.Contains(Channels, c.Type) {
		return fmt.Errorf("%w: unknown campaign_type %q", ErrInvalidCampaign, c.Type)
	}
	if !slices.Contains(Statuses, c.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCampaign, c.Status)
	}
	if c.DiscountPct < 0 || c.DiscountPct > 100 {
		return fmt.Errorf("%w: discount_percentage must be between 0 and 100", ErrInvalidCampaign)
	}
	if c.TargetCustomers < 0 || c.EngagedCustomers < 0 {
		return fmt.Errorf("%w: customer counts must not be negative", ErrInvalidCampaign)
	}
	return nil
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Name             *string          `json:"name"`
	TargetRiskLevel  *churn.RiskLevel `json:"target_risk_level"`
	Type             *Channel         `json:"campaign_type"`
	DiscountPct      *float64         `json:"discount_percentage"`
	Message          *string          `json:"message"`
	Status           *Status          `json:"status"`
	TargetCustomers  *int             `json:"target_customers"`
	EngagedCustomers *int             `json:"engaged_customers"`
}

// Apply copies the set fields onto c and normalizes it. The caller
// validates the result.
func (p Patch) Apply(c *Campaign) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.TargetRiskLevel != nil {
		c.TargetRiskLevel = *p.TargetRiskLevel
	}
	if p.Type != nil {
		c.Type = *p.Type
	}
	if p.DiscountPct != nil {
		c.DiscountPct = *p.DiscountPct
	}
	if p.Message != nil {
		c.Message = *p.Message
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.TargetCustomers != nil {
		c.TargetCustomers = *p.TargetCustomers
	}
	if p.EngagedCustomers != nil {
		c.EngagedCustomers = *p.EngagedCustomers
	}
	c.Normalize()
}

// ParseStatus matches s against the known statuses.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, slices.Contains(Statuses, st)
}
