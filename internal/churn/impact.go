package churn

import (
	"github.com/dvloznov/churn-analytics/internal/features"
)

// MediumRiskRevenueWeight is the share of Medium Risk revenue counted as at
// risk.
const MediumRiskRevenueWeight = 0.5

// LevelImpact summarizes the customers carrying one label.
type LevelImpact struct {
	Level          RiskLevel `json:"risk_level"`
	Customers      int       `json:"customer_count"`
	SharePct       float64   `json:"percentage"`
	TotalRevenue   float64   `json:"total_revenue"`
	AvgRevenue     float64   `json:"avg_revenue"`
	AvgFrequency   float64   `json:"avg_frequency"`
	AvgRecencyDays float64   `json:"avg_recency_days"`
	AvgReviewScore float64   `json:"avg_review_score"`
}

// ImpactReport is the business impact of a labeled feature table.
type ImpactReport struct {
	TotalCustomers   int           `json:"total_customers"`
	TotalRevenue     float64       `json:"total_revenue"`
	RevenueAtRisk    float64       `json:"revenue_at_risk"`
	RevenueAtRiskPct float64       `json:"revenue_at_risk_percentage"`
	Levels           []LevelImpact `json:"levels"`
}

// Level returns the entry for l. Every label is always present.
func (r ImpactReport) Level(l RiskLevel) LevelImpact {
	for _, li := range r.Levels {
		if li.Level == l {
			return li
		}
	}
	return LevelImpact{Level: l}
}

// Impact aggregates revenue and engagement per label of records.
func Impact(records []*features.CustomerFeatures) ImpactReport {
	type acc struct {
		n                            int
		revenue, freq, recency, revw float64
	}
	byLevel := make(map[RiskLevel]*acc, len(Levels))
	for _, l := range Levels {
		byLevel[l] = &acc{}
	}
	for _, r := range records {
		a, ok := byLevel[RiskLevel(r.ChurnRisk)]
		if !ok {
			continue
		}
		a.n++
		a.revenue += r.Monetary
		a.freq += float64(r.Frequency)
		a.recency += float64(r.RecencyDays)
		a.revw += r.AvgReviewScore
	}

	levels := make([]LevelImpact, 0, len(Levels))
	for _, l := range Levels {
		a := byLevel[l]
		li := LevelImpact{Level: l, Customers: a.n, TotalRevenue: a.revenue}
		if a.n > 0 {
			n := float64(a.n)
			li.AvgRevenue = a.revenue / n
			li.AvgFrequency = a.freq / n
			li.AvgRecencyDays = a.recency / n
			li.AvgReviewScore = a.revw / n
		}
		levels = append(levels, li)
	}
	return NewImpactReport(levels)
}

// NewImpactReport completes per-level figures into a report: it orders the
// levels, adds missing ones, and fills shares, totals and revenue at risk.
// Revenue at risk counts all High Risk revenue and half of Medium Risk
// revenue. Unknown levels are ignored.
func NewImpactReport(levels []LevelImpact) ImpactReport {
	byLevel := make(map[RiskLevel]LevelImpact, len(levels))
	for _, li := range levels {
		byLevel[li.Level] = li
	}

	var report ImpactReport
	for _, l := range Levels {
		li := byLevel[l]
		li.Level = l
		report.TotalCustomers += li.Customers
		report.TotalRevenue += li.TotalRevenue
		report.Levels = append(report.Levels, li)
	}
	for i := range report.Levels {
		if report.TotalCustomers > 0 {
			report.Levels[i].SharePct = float64(report.Levels[i].Customers) / float64(report.TotalCustomers) * 100
		}
	}

	report.RevenueAtRisk = byLevel[HighRisk].TotalRevenue + MediumRiskRevenueWeight*byLevel[MediumRisk].TotalRevenue
	if report.TotalRevenue > 0 {
		report.RevenueAtRiskPct = report.RevenueAtRisk / report.TotalRevenue * 100
	}
	return report
}
