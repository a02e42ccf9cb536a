package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when coercing timestamp cells.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// rowReader reads a headed CSV table and coerces cells by column name.
// Blank or unparseable cells become nil and are counted in coerced.
type rowReader struct {
	table   Table
	r       *csv.Reader
	index   map[string]int
	record  []string
	line    int
	coerced int
}

func newRowReader(table Table, in io.Reader, required ...string) (*rowReader, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: empty file, no header", table)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", table, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		index[name] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", table, col)
		}
	}

	return &rowReader{table: table, r: r, index: index, line: 1}, nil
}

// next advances to the next record. It returns false at end of input.
func (rr *rowReader) next() (bool, error) {
	rec, err := rr.r.Read()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: line %d: %w", rr.table, rr.line+1, err)
	}
	rr.line++
	rr.record = rec
	return true, nil
}

func (rr *rowReader) str(col string) string {
	i, ok := rr.index[col]
	if !ok || i >= len(rr.record) {
		return ""
	}
	return strings.TrimSpace(rr.record[i])
}

func (rr *rowReader) timestamp(col string) *time.Time {
	s := rr.str(col)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	rr.coerced++
	return nil
}

func (rr *rowReader) float(col string) *float64 {
	s := rr.str(col)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		rr.coerced++
		return nil
	}
	return &f
}

func (rr *rowReader) integer(col string) *int {
	f := rr.float(col)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

func (rr *rowReader) intOr(col string, def int) int {
	if n := rr.integer(col); n != nil {
		return *n
	}
	return def
}

func readCustomers(in io.Reader) ([]Customer, int, error) {
	rr, err := newRowReader(TableCustomers, in, "customer_id", "customer_unique_id")
	if err != nil {
		return nil, 0, err
	}
	rows := make([]Customer, 0)
	for {
		ok, err := rr.next()
		if err != nil {
			return nil, rr.coerced, err
		}
		if !ok {
			return rows, rr.coerced, nil
		}
		rows = append(rows, Customer{
			CustomerID:       rr.str("customer_id"),
			CustomerUniqueID: rr.str("customer_unique_id"),
			ZipCodePrefix:    rr.str("customer_zip_code_prefix"),
			City:             rr.str("customer_city"),
			State:            rr.str("customer_state"),
		})
	}
}

func readOrders(in io.Reader) ([]Order, int, error) {
	rr, err := newRowReader(TableOrders, in, "order_id", "customer_id", "order_purchase_timestamp")
	if err != nil {
		return nil, 0, err
	}
	rows := make([]Order, 0)
	for {
		ok, err := rr.next()
		if err != nil {
			return nil, rr.coerced, err
		}
		if !ok {
			return rows, rr.coerced, nil
		}
		rows = append(rows, Order{
			OrderID:               rr.str("order_id"),
			CustomerID:            rr.str("customer_id"),
			Status:                rr.str("order_status"),
			PurchaseTimestamp:     rr.timestamp("order_purchase_timestamp"),
			ApprovedAt:            rr.timestamp("order_approved_at"),
			DeliveredCarrierDate:  rr.timestamp("order_delivered_carrier_date"),
			DeliveredCustomerDate: rr.timestamp("order_delivered_customer_date"),
			EstimatedDeliveryDate: rr.timestamp("order_estimated_delivery_date"),
		})
	}
}

func readOrderItems(in io.Reader) ([]OrderItem, int, error) {
	rr, err := newRowReader(TableOrderItems, in, "order_id", "product_id", "price", "freight_value")
	if err != nil {
		return nil, 0, err
	}
	rows := make([]OrderItem, 0)
	for {
		ok, err := rr.next()
		if err != nil {
			return nil, rr.coerced, err
		}
		if !ok {
			return rows, rr.coerced, nil
		}
		rows = append(rows, OrderItem{
			OrderID:           rr.str("order_id"),
			OrderItemID:       rr.intOr("order_item_id", 0),
			ProductID:         rr.str("product_id"),
			SellerID:          rr.str("seller_id"),
			ShippingLimitDate: rr.timestamp("shipping_limit_date"),
			Price:             rr.float("price"),
			FreightValue:      rr.float("freight_value"),
		})
	}
}

func readPayments(in io.Reader) ([]Payment, int, error) {
	rr, err := newRowReader(TablePayments, in, "order_id", "payment_installments", "payment_value")
	if err != nil {
		return nil, 0, err
	}
	rows := make([]Payment, 0)
	for {
		ok, err := rr.next()
		if err != nil {
			return nil, rr.coerced, err
		}
		if !ok {
			return rows, rr.coerced, nil
		}
		rows = append(rows, Payment{
			OrderID:             rr.str("order_id"),
			PaymentSequential:   rr.intOr("payment_sequential", 0),
			PaymentType:         rr.str("payment_type"),
			PaymentInstallments: rr.integer("payment_installments"),
			PaymentValue:        rr.float("payment_value"),
		})
	}
}

func readReviews(in io.Reader) ([]Review, int, error) {
	rr, err := newRowReader(TableReviews, in, "order_id", "review_score", "review_comment_message")
	if err != nil {
		return nil, 0, err
	}
	rows := make([]Review, 0)
	for {
		ok, err := rr.next()
		if err != nil {
			return nil, rr.coerced, err
		}
		if !ok {
			return rows, rr.coerced, nil
		}
		rows = append(rows, Review{
			ReviewID:        rr.str("review_id"),
			OrderID:         rr.str("order_id"),
			ReviewScore:     rr.float("review_score"),
			CommentTitle:    rr.str("review_comment_title"),
			CommentMessage:  rr.str("review_comment_message"),
			CreationDate:    rr.timestamp("review_creation_date"),
			AnswerTimestamp: rr.timestamp("review_answer_timestamp"),
		})
	}
}

func readProducts(in io.Reader) ([]Product, int, error) {
	rr, err := newRowReader(TableProducts, in, "product_id", "product_category_name")
	if err != nil {
		return nil, 0, err
	}
	rows := make([]Product, 0)
	for {
		ok, err := rr.next()
		if err != nil {
			return nil, rr.coerced, err
		}
		if !ok {
			return rows, rr.coerced, nil
		}
		rows = append(rows, Product{
			ProductID:    rr.str("product_id"),
			CategoryName: rr.str("product_category_name"),
		})
	}
}
