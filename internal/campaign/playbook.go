// Package campaign turns churn-risk labels into retention recommendations:
// a static playbook per label, optionally with a model-drafted message.
package campaign

import (
	"context"
	"fmt"

	"github.com/dvloznov/churn-analytics/internal/churn"
	"github.com/dvloznov/churn-analytics/internal/logger"
)

// Recommendation is the retention plan for one risk level.
type Recommendation struct {
	RiskLevel      churn.RiskLevel `json:"risk_level"`
	Priority       string          `json:"priority"`
	Actions        []string        `json:"actions"`
	BudgetSharePct float64         `json:"budget_share_pct"`

	Customers  int     `json:"customer_count"`
	AvgRevenue float64 `json:"avg_revenue"`

	Message string `json:"message"`
	// Drafted is true when Message was written by the model.
	Drafted bool `json:"drafted"`
}

type play struct {
	priority string
	budget   float64
	actions  []string
}

var playbook = map[churn.RiskLevel]play{
	churn.HighRisk: {
		priority: "Immediate action required",
		budget:   60,
		actions: []string{
			"Send personalized win-back campaigns with 20-30% discounts",
			"Offer free shipping on the next order",
			"Run exit surveys to understand inactivity",
			"Give exclusive access to new products",
			"Start urgent email and SMS re-engagement",
		},
	},
	churn.MediumRisk: {
		priority: "Proactive intervention",
		budget:   25,
		actions: []string{
			"Send targeted product recommendations",
			"Offer loyalty program enrollment with immediate benefits",
			"Provide moderate discounts (10-15%)",
			"Send educational content about purchased products",
			"Run retargeting campaigns",
		},
	},
	churn.LowRisk: {
		priority: "Maintain engagement",
		budget:   10,
		actions: []string{
			"Send regular newsletters with new arrivals",
			"Provide cross-selling recommendations",
			"Offer seasonal promotions",
			"Encourage product reviews and social sharing",
		},
	},
	churn.Stable: {
		priority: "Nurture and grow",
		budget:   5,
		actions: []string{
			"Upsell premium products",
			"Invite to VIP loyalty tiers",
			"Request referrals with incentives",
			"Give early access to new collections",
			"Gather feedback for product development",
		},
	},
}

// Playbook returns the static recommendation for level, with its counts
// taken from impact.
func Playbook(level churn.RiskLevel, impact churn.ImpactReport) Recommendation {
	p := playbook[level]
	li := impact.Level(level)
	return Recommendation{
		RiskLevel:      level,
		Priority:       p.priority,
		Actions:        append([]string(nil), p.actions...),
		BudgetSharePct: p.budget,
		Customers:      li.Customers,
		AvgRevenue:     li.AvgRevenue,
		Message:        defaultMessage(level, li),
	}
}

func defaultMessage(level churn.RiskLevel, li churn.LevelImpact) string {
	return fmt.Sprintf("%s: %d customers averaging %.2f in revenue. %s.",
		level, li.Customers, li.AvgRevenue, playbook[level].actions[0])
}

// Drafter writes a campaign message for a recommendation.
type Drafter interface {
	Draft(ctx context.Context, rec Recommendation, li churn.LevelImpact) (string, error)
}

// Planner builds recommendations, asking its drafter for messages when one
// is configured.
type Planner struct {
	drafter Drafter
}

// NewPlanner returns a planner; drafter may be nil for the static playbook
// only.
func NewPlanner(drafter Drafter) *Planner {
	return &Planner{drafter: drafter}
}

// Plan returns one recommendation per level, in the order given; with no
// levels it covers every label. A failed draft falls back to the static
// message and is only logged.
func (p *Planner) Plan(ctx context.Context, impact churn.ImpactReport, levels ...churn.RiskLevel) []Recommendation {
	if len(levels) == 0 {
		levels = churn.Levels
	}
	log := logger.FromContext(ctx)

	recs := make([]Recommendation, 0, len(levels))
	for _, level := range levels {
		rec := Playbook(level, impact)
		if p.drafter != nil && rec.Customers > 0 {
			msg, err := p.drafter.Draft(ctx, rec, impact.Level(level))
			if err != nil {
				log.Warn().Err(err).Str("risk_level", string(level)).Msg("Campaign draft failed, using playbook message")
			} else if msg != "" {
				rec.Message = msg
				rec.Drafted = true
			}
		}
		recs = append(recs, rec)
	}
	return recs
}
