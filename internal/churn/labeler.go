// Package churn assigns rule-based churn-risk labels from population
// quantiles of recency, frequency and monetary value.
package churn

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/logger"
)

// RiskLevel is one of the four churn-risk labels.
type RiskLevel string

const (
	HighRisk   RiskLevel = "High Risk"
	MediumRisk RiskLevel = "Medium Risk"
	LowRisk    RiskLevel = "Low Risk"
	Stable     RiskLevel = "Stable"
)

// Levels lists every label from most to least at risk.
var Levels = []RiskLevel{HighRisk, MediumRisk, LowRisk, Stable}

// ParseRiskLevel matches s against the known labels.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	for _, l := range Levels {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

// Thresholds are the population quantiles the decision list compares to.
type Thresholds struct {
	RecencyP25   float64 `json:"recency_p25"`
	RecencyP50   float64 `json:"recency_p50"`
	RecencyP75   float64 `json:"recency_p75"`
	FrequencyP25 float64 `json:"frequency_p25"`
	FrequencyP50 float64 `json:"frequency_p50"`
	MonetaryP25  float64 `json:"monetary_p25"`
	MonetaryP50  float64 `json:"monetary_p50"`
}

// EmptyPopulationError is returned when there are no customers to derive
// thresholds from.
type EmptyPopulationError struct{}

func (e *EmptyPopulationError) Error() string {
	return "no customers to compute churn thresholds from"
}

// Quantile returns the p-quantile of sorted (ascending) values, interpolating
// linearly between the two closest ranks at position (n-1)*p.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	pos := float64(n-1) * p
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// ComputeThresholds derives the six thresholds from the whole population.
func ComputeThresholds(records []*features.CustomerFeatures) (Thresholds, error) {
	if len(records) == 0 {
		return Thresholds{}, &EmptyPopulationError{}
	}
	recency := make([]float64, len(records))
	frequency := make([]float64, len(records))
	monetary := make([]float64, len(records))
	for i, r := range records {
		recency[i] = float64(r.RecencyDays)
		frequency[i] = float64(r.Frequency)
		monetary[i] = r.Monetary
	}
	sort.Float64s(recency)
	sort.Float64s(frequency)
	sort.Float64s(monetary)

	return Thresholds{
		RecencyP25:   Quantile(recency, 0.25),
		RecencyP50:   Quantile(recency, 0.50),
		RecencyP75:   Quantile(recency, 0.75),
		FrequencyP25: Quantile(frequency, 0.25),
		FrequencyP50: Quantile(frequency, 0.50),
		MonetaryP25:  Quantile(monetary, 0.25),
		MonetaryP50:  Quantile(monetary, 0.50),
	}, nil
}

// Classify applies the decision list; the first matching rule wins.
func Classify(recency, frequency, monetary float64, th Thresholds) RiskLevel {
	lowEngagement := frequency <= th.FrequencyP25 || monetary <= th.MonetaryP25

	switch {
	case recency > th.RecencyP75 && lowEngagement:
		return HighRisk
	case recency <= th.RecencyP25 && frequency >= th.FrequencyP50 && monetary >= th.MonetaryP50:
		return Stable
	case recency > th.RecencyP50 && recency <= th.RecencyP75:
		if lowEngagement {
			return MediumRisk
		}
		return LowRisk
	default:
		return LowRisk
	}
}

// Label computes thresholds once over records and then sets ChurnRisk on
// every record, split across workers goroutines over disjoint ranges.
func Label(ctx context.Context, records []*features.CustomerFeatures, workers int) (Thresholds, error) {
	th, err := ComputeThresholds(records)
	if err != nil {
		return Thresholds{}, err
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(records) {
		workers = len(records)
	}

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(records) + workers - 1) / workers
	for start := 0; start < len(records); start += chunk {
		part := records[start:min(start+chunk, len(records))]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, r := range part {
				r.ChurnRisk = string(Classify(float64(r.RecencyDays), float64(r.Frequency), r.Monetary, th))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Thresholds{}, fmt.Errorf("Label: %w", err)
	}

	counts := Distribution(records)
	log := logger.FromContext(ctx)
	log.Info().
		Int("customers", len(records)).
		Int("high_risk", counts[HighRisk]).
		Int("medium_risk", counts[MediumRisk]).
		Int("low_risk", counts[LowRisk]).
		Int("stable", counts[Stable]).
		Float64("recency_p75", th.RecencyP75).
		Msg("Labeled customers")

	return th, nil
}

// Distribution counts records per label.
func Distribution(records []*features.CustomerFeatures) map[RiskLevel]int {
	counts := make(map[RiskLevel]int, len(Levels))
	for _, r := range records {
		counts[RiskLevel(r.ChurnRisk)]++
	}
	return counts
}
