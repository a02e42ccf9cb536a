// Package segment clusters customers with k-means over standardized
// behavioural features.
package segment

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/logger"
)

const (
	DefaultK       = 5
	DefaultMaxIter = 300
	DefaultSeed    = 42
)

// FeatureNames are the clustering inputs, in vector order.
var FeatureNames = []string{
	"recency_days",
	"frequency",
	"monetary",
	"avg_order_value",
	"unique_products",
	"unique_categories",
	"avg_review_score",
	"customer_lifetime_days",
	"product_diversity_ratio",
}

// Options configures Assign. Zero values take the defaults.
type Options struct {
	K       int
	MaxIter int
	Seed    int64
}

// Result describes a finished clustering.
type Result struct {
	K          int
	Iterations int
	Sizes      []int
	// Profiles holds, per cluster, the mean of each feature in original units.
	Profiles [][]float64
}

// Vector extracts the clustering features of a record.
func Vector(c *features.CustomerFeatures) []float64 {
	return []float64{
		float64(c.RecencyDays),
		float64(c.Frequency),
		c.Monetary,
		c.AvgOrderValue,
		float64(c.UniqueProducts),
		float64(c.UniqueCategories),
		c.AvgReviewScore,
		float64(c.CustomerLifetimeDays),
		c.ProductDiversityRatio,
	}
}

// Assign runs k-means over records and sets Cluster on each. Initialization
// is k-means++ from a fixed seed, so equal input gives equal clusters.
func Assign(ctx context.Context, records []*features.CustomerFeatures, opts Options) (Result, error) {
	if opts.K == 0 {
		opts.K = DefaultK
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultMaxIter
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.K < 1 {
		return Result{}, fmt.Errorf("Assign: k must be >= 1, got %d", opts.K)
	}
	if len(records) == 0 {
		return Result{K: 0}, nil
	}
	k := min(opts.K, len(records))

	raw := make([][]float64, len(records))
	for i, r := range records {
		raw[i] = Vector(r)
	}
	points := standardize(raw)

	centroids := initCentroids(points, k, rand.New(rand.NewSource(opts.Seed)))
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}

	iter := 0
	for iter < opts.MaxIter {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("Assign: %w", err)
		}
		iter++
		changed := 0
		for i, p := range points {
			c := nearest(p, centroids)
			if c != assign[i] {
				assign[i] = c
				changed++
			}
		}
		if changed == 0 {
			break
		}
		updateCentroids(points, assign, centroids)
	}

	res := Result{
		K:          k,
		Iterations: iter,
		Sizes:      make([]int, k),
		Profiles:   make([][]float64, k),
	}
	for c := range res.Profiles {
		res.Profiles[c] = make([]float64, len(FeatureNames))
	}
	for i, r := range records {
		c := assign[i]
		r.Cluster = &c
		res.Sizes[c]++
		floats.Add(res.Profiles[c], raw[i])
	}
	for c, n := range res.Sizes {
		if n > 0 {
			floats.Scale(1/float64(n), res.Profiles[c])
		}
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("k", k).
		Int("iterations", iter).
		Ints("sizes", res.Sizes).
		Msg("Segmented customers")

	return res, nil
}

// standardize scales every column to zero mean and unit population
// variance. Constant columns are only centred.
func standardize(raw [][]float64) [][]float64 {
	dims := len(raw[0])
	out := make([][]float64, len(raw))
	for i := range out {
		out[i] = make([]float64, dims)
	}
	col := make([]float64, len(raw))
	for d := 0; d < dims; d++ {
		for i, v := range raw {
			col[i] = v[d]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		for i := range raw {
			out[i][d] = (raw[i][d] - mean) / std
		}
	}
	return out
}

// initCentroids picks k starting centroids with k-means++ seeding.
func initCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := rng.Intn(len(points))
	centroids = append(centroids, append([]float64(nil), points[first]...))

	dist := make([]float64, len(points))
	for len(centroids) < k {
		for i, p := range points {
			d := floats.Distance(p, centroids[nearest(p, centroids)], 2)
			dist[i] = d * d
		}
		total := floats.Sum(dist)
		next := 0
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 {
					next = i
					break
				}
				next = i
			}
		} else {
			next = len(centroids) % len(points)
		}
		centroids = append(centroids, append([]float64(nil), points[next]...))
	}
	return centroids
}

// nearest returns the index of the closest centroid; ties go to the lower
// index.
func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(p, centroid, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// updateCentroids moves every centroid to the mean of its points. A cluster
// that lost all its points keeps its previous centroid.
func updateCentroids(points [][]float64, assign []int, centroids [][]float64) {
	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, len(points[0]))
	}
	for i, p := range points {
		floats.Add(sums[assign[i]], p)
		counts[assign[i]]++
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		floats.Scale(1/float64(counts[c]), sums[c])
		copy(centroids[c], sums[c])
	}
}
