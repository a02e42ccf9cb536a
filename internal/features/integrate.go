package features

import (
	"time"

	"github.com/dvloznov/churn-analytics/internal/dataset"
)

// FactRow is one (order, line item) row of the integrated view. An order
// without items yields a single row whose item fields are nil or empty.
// Payment and review aggregates are per order and repeat across the
// order's item rows; they are nil when the order has no payment or review.
type FactRow struct {
	CustomerUniqueID      string
	CustomerCity          string
	CustomerState         string
	CustomerZipCodePrefix string

	OrderID               string
	OrderStatus           string
	PurchaseTimestamp     time.Time
	DeliveredCustomerDate *time.Time

	OrderItemID     *int
	ProductID       string
	ProductCategory string
	Price           *float64
	FreightValue    *float64

	PaymentMethodsCount *int
	MaxInstallments     *int
	TotalPaymentValue   *float64

	AvgReviewScore      *float64
	ReviewCommentsCount *int
}

// IntegrationStats counts what the integrator saw and what it had to drop.
type IntegrationStats struct {
	Orders              int
	FactRows            int
	OrdersWithoutItems  int
	UnresolvedCustomers int // orders dropped: customer_id not in customers
	MissingTimestamp    int // orders dropped: no purchase timestamp
	UnknownProducts     int // item rows whose product is not in products

	// LatestPurchase is the latest purchase timestamp over every order,
	// including orders dropped above. It is the default analysis cutoff.
	LatestPurchase time.Time
}

type orderPayments struct {
	count           int
	maxInstallments *int
	total           float64
}

type orderReviews struct {
	scoreSum   float64
	scoreCount int
	comments   int
}

// Integrate joins the raw tables into one FactRow per order item. Payments
// and reviews are reduced per order before the join so an order with several
// items does not multiply its payment total. Rows come out in order-table
// order, items in item-table order within an order.
func Integrate(tables *dataset.Tables) ([]FactRow, IntegrationStats, error) {
	var stats IntegrationStats
	if missing := tables.Missing(); len(missing) > 0 {
		return nil, stats, &dataset.MissingInputError{Table: missing[0]}
	}

	customers := make(map[string]dataset.Customer, len(tables.Customers))
	for _, c := range tables.Customers {
		if _, seen := customers[c.CustomerID]; !seen {
			customers[c.CustomerID] = c
		}
	}

	items := make(map[string][]dataset.OrderItem, len(tables.Orders))
	for _, it := range tables.OrderItems {
		items[it.OrderID] = append(items[it.OrderID], it)
	}

	categories := make(map[string]string, len(tables.Products))
	for _, p := range tables.Products {
		if _, seen := categories[p.ProductID]; !seen {
			categories[p.ProductID] = p.CategoryName
		}
	}

	payments := aggregatePayments(tables.Payments)
	reviews := aggregateReviews(tables.Reviews)

	facts := make([]FactRow, 0, len(tables.OrderItems))
	for _, o := range tables.Orders {
		stats.Orders++
		if o.PurchaseTimestamp != nil && o.PurchaseTimestamp.After(stats.LatestPurchase) {
			stats.LatestPurchase = *o.PurchaseTimestamp
		}

		c, ok := customers[o.CustomerID]
		if !ok || c.CustomerUniqueID == "" {
			stats.UnresolvedCustomers++
			continue
		}
		if o.PurchaseTimestamp == nil {
			stats.MissingTimestamp++
			continue
		}

		base := FactRow{
			CustomerUniqueID:      c.CustomerUniqueID,
			CustomerCity:          c.City,
			CustomerState:         c.State,
			CustomerZipCodePrefix: c.ZipCodePrefix,
			OrderID:               o.OrderID,
			OrderStatus:           o.Status,
			PurchaseTimestamp:     *o.PurchaseTimestamp,
			DeliveredCustomerDate: o.DeliveredCustomerDate,
		}
		if p, ok := payments[o.OrderID]; ok {
			count, total := p.count, p.total
			base.PaymentMethodsCount = &count
			base.MaxInstallments = p.maxInstallments
			base.TotalPaymentValue = &total
		}
		if r, ok := reviews[o.OrderID]; ok {
			comments := r.comments
			base.ReviewCommentsCount = &comments
			if r.scoreCount > 0 {
				mean := r.scoreSum / float64(r.scoreCount)
				base.AvgReviewScore = &mean
			}
		}

		orderItems := items[o.OrderID]
		if len(orderItems) == 0 {
			stats.OrdersWithoutItems++
			facts = append(facts, base)
			continue
		}
		for _, it := range orderItems {
			row := base
			itemID := it.OrderItemID
			row.OrderItemID = &itemID
			row.ProductID = it.ProductID
			row.Price = it.Price
			row.FreightValue = it.FreightValue
			if category, ok := categories[it.ProductID]; ok {
				row.ProductCategory = category
			} else if it.ProductID != "" {
				stats.UnknownProducts++
			}
			facts = append(facts, row)
		}
	}

	stats.FactRows = len(facts)
	return facts, stats, nil
}

func aggregatePayments(rows []dataset.Payment) map[string]*orderPayments {
	out := make(map[string]*orderPayments)
	for _, p := range rows {
		agg, ok := out[p.OrderID]
		if !ok {
			agg = &orderPayments{}
			out[p.OrderID] = agg
		}
		agg.count++
		if p.PaymentValue != nil {
			agg.total += *p.PaymentValue
		}
		if p.PaymentInstallments != nil {
			if agg.maxInstallments == nil || *p.PaymentInstallments > *agg.maxInstallments {
				n := *p.PaymentInstallments
				agg.maxInstallments = &n
			}
		}
	}
	return out
}

func aggregateReviews(rows []dataset.Review) map[string]*orderReviews {
	out := make(map[string]*orderReviews)
	for _, r := range rows {
		agg, ok := out[r.OrderID]
		if !ok {
			agg = &orderReviews{}
			out[r.OrderID] = agg
		}
		if r.ReviewScore != nil {
			agg.scoreSum += *r.ReviewScore
			agg.scoreCount++
		}
		if r.CommentMessage != "" {
			agg.comments++
		}
	}
	return out
}
