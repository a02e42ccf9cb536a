package features

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/dvloznov/churn-analytics/internal/logger"
)

// AggregateOptions tunes Aggregate.
type AggregateOptions struct {
	// Cutoff is the analysis date recency is measured from. Zero means the
	// latest purchase timestamp among the fact rows.
	Cutoff time.Time
	// Workers is the number of goroutines reducing customer groups.
	Workers int
}

// partial is a reduced group before the population-wide review imputation.
type partial struct {
	features    *CustomerFeatures
	reviewScore *float64
}

// Aggregate collapses fact rows into one CustomerFeatures per
// customer_unique_id, sorted by that id. Rows of a group are ordered by
// (purchase timestamp, order id, item id) before reduction, so every "first"
// and every floating-point sum is independent of input order.
func Aggregate(ctx context.Context, facts []FactRow, opts AggregateOptions) ([]*CustomerFeatures, error) {
	log := logger.FromContext(ctx)
	if len(facts) == 0 {
		return []*CustomerFeatures{}, nil
	}

	groups := make(map[string][]*FactRow)
	cutoff := opts.Cutoff
	useMax := cutoff.IsZero()
	for i := range facts {
		f := &facts[i]
		groups[f.CustomerUniqueID] = append(groups[f.CustomerUniqueID], f)
		if useMax && f.PurchaseTimestamp.After(cutoff) {
			cutoff = f.PurchaseTimestamp
		}
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	partials := make([]partial, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(ids) + workers - 1) / workers
	for start := 0; start < len(ids); start += chunk {
		lo, hi := start, min(start+chunk, len(ids))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%4096 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				p, err := reduceGroup(ids[i], groups[ids[i]], cutoff)
				if err != nil {
					return err
				}
				partials[i] = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Aggregate: %w", err)
	}

	// Population-wide imputation value, computed once over the customers
	// that have a review score, in id order.
	var scored []float64
	for _, p := range partials {
		if p.reviewScore != nil {
			scored = append(scored, *p.reviewScore)
		}
	}
	globalReview := 0.0
	if len(scored) > 0 {
		globalReview = stat.Mean(scored, nil)
	}

	out := make([]*CustomerFeatures, len(partials))
	imputed := 0
	for i, p := range partials {
		if p.reviewScore != nil {
			p.features.AvgReviewScore = *p.reviewScore
		} else {
			p.features.AvgReviewScore = globalReview
			imputed++
		}
		out[i] = p.features
	}

	log.Info().
		Int("customers", len(out)).
		Int("fact_rows", len(facts)).
		Int("review_imputed", imputed).
		Float64("global_review_mean", globalReview).
		Time("cutoff", cutoff).
		Msg("Aggregated customer features")

	return out, nil
}

// reduceGroup computes every per-customer feature except the imputed review
// score.
func reduceGroup(id string, rows []*FactRow, cutoff time.Time) (partial, error) {
	if len(rows) == 0 {
		return partial{}, &DegenerateGroupError{CustomerUniqueID: id}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.PurchaseTimestamp.Equal(b.PurchaseTimestamp) {
			return a.PurchaseTimestamp.Before(b.PurchaseTimestamp)
		}
		if a.OrderID != b.OrderID {
			return a.OrderID < b.OrderID
		}
		return itemID(a) < itemID(b)
	})

	var (
		prices, freights, payments []float64
		reviewScores, methods      []float64
		maxInstallments            int
		comments                   int
		products                   = make(map[string]struct{})
		categories                 = make(map[string]struct{})
	)
	cf := &CustomerFeatures{
		CustomerUniqueID: id,
		TotalOrders:      len(rows),
		FirstOrderDate:   rows[0].PurchaseTimestamp,
		LastOrderDate:    rows[0].PurchaseTimestamp,
	}

	for _, r := range rows {
		if r.PurchaseTimestamp.Before(cf.FirstOrderDate) {
			cf.FirstOrderDate = r.PurchaseTimestamp
		}
		if r.PurchaseTimestamp.After(cf.LastOrderDate) {
			cf.LastOrderDate = r.PurchaseTimestamp
		}
		if r.Price != nil {
			prices = append(prices, *r.Price)
		}
		if r.FreightValue != nil {
			freights = append(freights, *r.FreightValue)
		}
		if r.TotalPaymentValue != nil {
			payments = append(payments, *r.TotalPaymentValue)
		}
		if r.AvgReviewScore != nil {
			reviewScores = append(reviewScores, *r.AvgReviewScore)
		}
		if r.ReviewCommentsCount != nil {
			comments += *r.ReviewCommentsCount
		}
		if r.PaymentMethodsCount != nil {
			methods = append(methods, float64(*r.PaymentMethodsCount))
		}
		if r.MaxInstallments != nil && *r.MaxInstallments > maxInstallments {
			maxInstallments = *r.MaxInstallments
		}
		if r.ProductID != "" {
			products[r.ProductID] = struct{}{}
		}
		if r.ProductCategory != "" {
			categories[r.ProductCategory] = struct{}{}
		}
		if cf.CustomerCity == "" {
			cf.CustomerCity = r.CustomerCity
		}
		if cf.CustomerState == "" {
			cf.CustomerState = r.CustomerState
		}
		if cf.CustomerZipCodePrefix == "" {
			cf.CustomerZipCodePrefix = r.CustomerZipCodePrefix
		}
	}

	cf.TotalPrice, cf.AvgPrice, cf.StdPrice = sumMeanStd(prices)
	cf.TotalFreight, cf.AvgFreight, _ = sumMeanStd(freights)
	cf.TotalPayment, cf.AvgPayment, cf.StdPayment = sumMeanStd(payments)
	cf.AvgPaymentMethods = mean(methods)
	cf.MaxInstallments = maxInstallments
	cf.TotalReviewComments = comments
	cf.UniqueProducts = len(products)
	cf.UniqueCategories = len(categories)

	cf.Frequency = cf.TotalOrders
	cf.Monetary = cf.TotalPayment
	cf.RecencyDays = wholeDays(cutoff.Sub(cf.LastOrderDate))
	cf.CustomerLifetimeDays = wholeDays(cf.LastOrderDate.Sub(cf.FirstOrderDate))
	if cf.Frequency > 1 {
		cf.AvgDaysBetweenOrders = float64(cf.CustomerLifetimeDays) / float64(cf.Frequency-1)
	}
	freq := float64(cf.Frequency)
	cf.AvgOrderValue = cf.Monetary / freq
	cf.ProductDiversityRatio = float64(cf.UniqueProducts) / freq
	cf.CategoryDiversityRatio = float64(cf.UniqueCategories) / freq

	p := partial{features: cf}
	if len(reviewScores) > 0 {
		m := stat.Mean(reviewScores, nil)
		p.reviewScore = &m
	}
	return p, nil
}

func itemID(r *FactRow) int {
	if r.OrderItemID == nil {
		return -1
	}
	return *r.OrderItemID
}

// sumMeanStd returns the sum, mean and sample standard deviation of xs.
// Mean is 0 for no observations and std is 0 below two.
func sumMeanStd(xs []float64) (sum, avg, std float64) {
	if len(xs) == 0 {
		return 0, 0, 0
	}
	sum = floats.Sum(xs)
	avg = stat.Mean(xs, nil)
	if len(xs) > 1 {
		std = stat.StdDev(xs, nil)
	}
	return sum, avg, std
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// wholeDays truncates d to whole days, clamping negatives to 0.
func wholeDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
