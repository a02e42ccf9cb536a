package dataset

import (
	"time"
)

// Table names a raw input table of the order snapshot.
type Table string

const (
	TableCustomers  Table = "customers"
	TableOrders     Table = "orders"
	TableOrderItems Table = "order_items"
	TablePayments   Table = "payments"
	TableReviews    Table = "reviews"
	TableProducts   Table = "products"
)

// RequiredTables lists every table the integrator needs, in load order.
var RequiredTables = []Table{
	TableCustomers,
	TableOrders,
	TableOrderItems,
	TablePayments,
	TableReviews,
	TableProducts,
}

// FileName returns the conventional CSV file name of a table in an
// Olist-style export, e.g. "olist_orders_dataset.csv".
func (t Table) FileName() string {
	if t == TablePayments {
		return "olist_order_payments_dataset.csv"
	}
	if t == TableReviews {
		return "olist_order_reviews_dataset.csv"
	}
	return "olist_" + string(t) + "_dataset.csv"
}

// Customer is one row of the customers table. CustomerID is per-order in the
// source system; CustomerUniqueID identifies the person across orders.
type Customer struct {
	CustomerID       string
	CustomerUniqueID string
	ZipCodePrefix    string
	City             string
	State            string
}

// Order is one row of the orders table. Timestamps are nil when blank or
// unparseable.
type Order struct {
	OrderID               string
	CustomerID            string
	Status                string
	PurchaseTimestamp     *time.Time
	ApprovedAt            *time.Time
	DeliveredCarrierDate  *time.Time
	DeliveredCustomerDate *time.Time
	EstimatedDeliveryDate *time.Time
}

// OrderItem is one line item of an order.
type OrderItem struct {
	OrderID           string
	OrderItemID       int
	ProductID         string
	SellerID          string
	ShippingLimitDate *time.Time
	Price             *float64
	FreightValue      *float64
}

// Payment is one payment row; an order may be paid with several.
type Payment struct {
	OrderID             string
	PaymentSequential   int
	PaymentType         string
	PaymentInstallments *int
	PaymentValue        *float64
}

// Review is one review row; an order may have several.
type Review struct {
	ReviewID        string
	OrderID         string
	ReviewScore     *float64
	CommentTitle    string
	CommentMessage  string
	CreationDate    *time.Time
	AnswerTimestamp *time.Time
}

// Product carries the product metadata the pipeline uses.
type Product struct {
	ProductID    string
	CategoryName string // empty when unknown
}

// Tables is a loaded snapshot of the raw tables. A nil slice marks a table
// that was never loaded; a loaded but empty table is a non-nil empty slice.
type Tables struct {
	Customers  []Customer
	Orders     []Order
	OrderItems []OrderItem
	Payments   []Payment
	Reviews    []Review
	Products   []Product
}

// Missing returns the required tables that were not loaded.
func (t *Tables) Missing() []Table {
	if t == nil {
		return append([]Table(nil), RequiredTables...)
	}
	var missing []Table
	if t.Customers == nil {
		missing = append(missing, TableCustomers)
	}
	if t.Orders == nil {
		missing = append(missing, TableOrders)
	}
	if t.OrderItems == nil {
		missing = append(missing, TableOrderItems)
	}
	if t.Payments == nil {
		missing = append(missing, TablePayments)
	}
	if t.Reviews == nil {
		missing = append(missing, TableReviews)
	}
	if t.Products == nil {
		missing = append(missing, TableProducts)
	}
	return missing
}

// RowCounts reports the number of rows per table, for logging.
func (t *Tables) RowCounts() map[Table]int {
	return map[Table]int{
		TableCustomers:  len(t.Customers),
		TableOrders:     len(t.Orders),
		TableOrderItems: len(t.OrderItems),
		TablePayments:   len(t.Payments),
		TableReviews:    len(t.Reviews),
		TableProducts:   len(t.Products),
	}
}
