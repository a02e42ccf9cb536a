package features

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// DateLayout is how order dates are written to every sink.
const DateLayout = "2006-01-02 15:04:05"

// CustomerFeatures is the canonical per-customer record of the feature table.
type CustomerFeatures struct {
	CustomerUniqueID string `json:"customer_unique_id"`

	TotalOrders    int       `json:"total_orders"`
	FirstOrderDate time.Time `json:"first_order_date"`
	LastOrderDate  time.Time `json:"last_order_date"`

	TotalPrice   float64 `json:"total_price"`
	AvgPrice     float64 `json:"avg_price"`
	StdPrice     float64 `json:"std_price"`
	TotalFreight float64 `json:"total_freight"`
	AvgFreight   float64 `json:"avg_freight"`
	TotalPayment float64 `json:"total_payment"`
	AvgPayment   float64 `json:"avg_payment"`
	StdPayment   float64 `json:"std_payment"`

	UniqueProducts      int     `json:"unique_products"`
	UniqueCategories    int     `json:"unique_categories"`
	AvgReviewScore      float64 `json:"avg_review_score"`
	TotalReviewComments int     `json:"total_review_comments"`
	AvgPaymentMethods   float64 `json:"avg_payment_methods"`
	MaxInstallments     int     `json:"max_installments"`

	CustomerCity          string `json:"customer_city"`
	CustomerState         string `json:"customer_state"`
	CustomerZipCodePrefix string `json:"customer_zip_code_prefix"`

	RecencyDays            int     `json:"recency_days"`
	Frequency              int     `json:"frequency"`
	Monetary               float64 `json:"monetary"`
	CustomerLifetimeDays   int     `json:"customer_lifetime_days"`
	AvgDaysBetweenOrders   float64 `json:"avg_days_between_orders"`
	AvgOrderValue          float64 `json:"avg_order_value"`
	ProductDiversityRatio  float64 `json:"product_diversity_ratio"`
	CategoryDiversityRatio float64 `json:"category_diversity_ratio"`

	ChurnRisk string `json:"churn_risk"`
	Cluster   *int   `json:"cluster,omitempty"`
}

// Columns is the fixed column set of the feature table, in output order.
var Columns = []string{
	"customer_unique_id",
	"total_orders",
	"first_order_date",
	"last_order_date",
	"total_price",
	"avg_price",
	"std_price",
	"total_freight",
	"avg_freight",
	"total_payment",
	"avg_payment",
	"std_payment",
	"unique_products",
	"unique_categories",
	"avg_review_score",
	"total_review_comments",
	"avg_payment_methods",
	"max_installments",
	"customer_city",
	"customer_state",
	"customer_zip_code_prefix",
	"recency_days",
	"frequency",
	"monetary",
	"customer_lifetime_days",
	"avg_days_between_orders",
	"avg_order_value",
	"product_diversity_ratio",
	"category_diversity_ratio",
	"churn_risk",
	"cluster",
}

// Record renders the record as strings in Columns order.
func (c *CustomerFeatures) Record() []string {
	cluster := ""
	if c.Cluster != nil {
		cluster = strconv.Itoa(*c.Cluster)
	}
	return []string{
		c.CustomerUniqueID,
		strconv.Itoa(c.TotalOrders),
		c.FirstOrderDate.Format(DateLayout),
		c.LastOrderDate.Format(DateLayout),
		formatFloat(c.TotalPrice),
		formatFloat(c.AvgPrice),
		formatFloat(c.StdPrice),
		formatFloat(c.TotalFreight),
		formatFloat(c.AvgFreight),
		formatFloat(c.TotalPayment),
		formatFloat(c.AvgPayment),
		formatFloat(c.StdPayment),
		strconv.Itoa(c.UniqueProducts),
		strconv.Itoa(c.UniqueCategories),
		formatFloat(c.AvgReviewScore),
		strconv.Itoa(c.TotalReviewComments),
		formatFloat(c.AvgPaymentMethods),
		strconv.Itoa(c.MaxInstallments),
		c.CustomerCity,
		c.CustomerState,
		c.CustomerZipCodePrefix,
		strconv.Itoa(c.RecencyDays),
		strconv.Itoa(c.Frequency),
		formatFloat(c.Monetary),
		strconv.Itoa(c.CustomerLifetimeDays),
		formatFloat(c.AvgDaysBetweenOrders),
		formatFloat(c.AvgOrderValue),
		formatFloat(c.ProductDiversityRatio),
		formatFloat(c.CategoryDiversityRatio),
		c.ChurnRisk,
		cluster,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes a header row followed by one row per record.
func WriteCSV(w io.Writer, records []*CustomerFeatures) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("WriteCSV: header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.Record()); err != nil {
			return fmt.Errorf("WriteCSV: customer %s: %w", r.CustomerUniqueID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("WriteCSV: flush: %w", err)
	}
	return nil
}
