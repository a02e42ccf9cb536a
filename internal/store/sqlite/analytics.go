package sqlite

import (
	"context"
	"fmt"

	"github.com/dvloznov/churn-analytics/internal/churn"
)

// Summary is the dashboard headline of the current feature table.
type Summary struct {
	TotalCustomers    int                `json:"total_customers"`
	TotalRevenue      float64            `json:"total_revenue"`
	AvgOrderValue     float64            `json:"avg_order_value"`
	ChurnDistribution map[string]int     `json:"churn_distribution"`
	Impact            churn.ImpactReport `json:"impact"`
}

// Impact computes the per-label business impact in SQL.
func (s *Store) Impact(ctx context.Context) (churn.ImpactReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT churn_risk,
		       COUNT(*),
		       COALESCE(SUM(monetary), 0),
		       COALESCE(AVG(monetary), 0),
		       COALESCE(AVG(frequency), 0),
		       COALESCE(AVG(recency_days), 0),
		       COALESCE(AVG(avg_review_score), 0)
		FROM customers
		GROUP BY churn_risk`)
	if err != nil {
		return churn.ImpactReport{}, fmt.Errorf("Impact: query: %w", err)
	}
	defer rows.Close()

	var levels []churn.LevelImpact
	for rows.Next() {
		var li churn.LevelImpact
		var level string
		if err := rows.Scan(&level, &li.Customers, &li.TotalRevenue, &li.AvgRevenue,
			&li.AvgFrequency, &li.AvgRecencyDays, &li.AvgReviewScore); err != nil {
			return churn.ImpactReport{}, fmt.Errorf("Impact: scan: %w", err)
		}
		li.Level = churn.RiskLevel(level)
		levels = append(levels, li)
	}
	if err := rows.Err(); err != nil {
		return churn.ImpactReport{}, fmt.Errorf("Impact: rows: %w", err)
	}
	return churn.NewImpactReport(levels), nil
}

// Summary returns totals, the label distribution and the impact report.
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{ChurnDistribution: make(map[string]int)}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_payment), 0), COALESCE(AVG(avg_order_value), 0)
		FROM customers`).Scan(&sum.TotalCustomers, &sum.TotalRevenue, &sum.AvgOrderValue)
	if err != nil {
		return nil, fmt.Errorf("Summary: totals: %w", err)
	}

	impact, err := s.Impact(ctx)
	if err != nil {
		return nil, err
	}
	sum.Impact = impact
	for _, li := range impact.Levels {
		if li.Customers > 0 {
			sum.ChurnDistribution[string(li.Level)] = li.Customers
		}
	}
	return sum, nil
}

// Series is labelled chart data.
type Series struct {
	Labels []string             `json:"labels"`
	Data   map[string][]float64 `json:"data"`
}

// ChurnDistribution counts customers per label, in label order.
func (s *Store) ChurnDistribution(ctx context.Context) (*Series, error) {
	impact, err := s.Impact(ctx)
	if err != nil {
		return nil, err
	}
	series := &Series{Labels: []string{}, Data: map[string][]float64{"count": {}}}
	for _, li := range impact.Levels {
		if li.Customers == 0 {
			continue
		}
		series.Labels = append(series.Labels, string(li.Level))
		series.Data["count"] = append(series.Data["count"], float64(li.Customers))
	}
	return series, nil
}

// RevenueByRisk sums and averages total_payment per label.
func (s *Store) RevenueByRisk(ctx context.Context) (*Series, error) {
	impact, err := s.Impact(ctx)
	if err != nil {
		return nil, err
	}
	series := &Series{Labels: []string{}, Data: map[string][]float64{"total_revenue": {}, "avg_revenue": {}}}
	for _, li := range impact.Levels {
		if li.Customers == 0 {
			continue
		}
		series.Labels = append(series.Labels, string(li.Level))
		series.Data["total_revenue"] = append(series.Data["total_revenue"], li.TotalRevenue)
		series.Data["avg_revenue"] = append(series.Data["avg_revenue"], li.AvgRevenue)
	}
	return series, nil
}

// TopStates counts customers for the limit most common states.
func (s *Store) TopStates(ctx context.Context, limit int) (*Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_state, COUNT(*) AS n
		FROM customers
		GROUP BY customer_state
		ORDER BY n DESC, customer_state
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("TopStates: query: %w", err)
	}
	defer rows.Close()

	series := &Series{Labels: []string{}, Data: map[string][]float64{"count": {}}}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("TopStates: scan: %w", err)
		}
		series.Labels = append(series.Labels, state)
		series.Data["count"] = append(series.Data["count"], float64(n))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("TopStates: rows: %w", err)
	}
	return series, nil
}
