package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/churn-analytics/internal/dataset"
	"github.com/dvloznov/churn-analytics/internal/logger"
)

// RawTableName is the BigQuery table holding a raw table, named after the
// export file without its extension.
func RawTableName(t dataset.Table) string {
	return strings.TrimSuffix(t.FileName(), ".csv")
}

// rawQueries select each raw table with every column cast to the type the
// pipeline expects, so tables loaded with schema autodetection still read.
// Unparseable values become NULL.
var rawQueries = map[dataset.Table]string{
	dataset.TableCustomers: `
		SELECT
			CAST(customer_id AS STRING) AS customer_id,
			CAST(customer_unique_id AS STRING) AS customer_unique_id,
			CAST(customer_zip_code_prefix AS STRING) AS customer_zip_code_prefix,
			CAST(customer_city AS STRING) AS customer_city,
			CAST(customer_state AS STRING) AS customer_state
		FROM %s`,
	dataset.TableOrders: `
		SELECT
			CAST(order_id AS STRING) AS order_id,
			CAST(customer_id AS STRING) AS customer_id,
			CAST(order_status AS STRING) AS order_status,
			SAFE_CAST(order_purchase_timestamp AS TIMESTAMP) AS order_purchase_timestamp,
			SAFE_CAST(order_approved_at AS TIMESTAMP) AS order_approved_at,
			SAFE_CAST(order_delivered_carrier_date AS TIMESTAMP) AS order_delivered_carrier_date,
			SAFE_CAST(order_delivered_customer_date AS TIMESTAMP) AS order_delivered_customer_date,
			SAFE_CAST(order_estimated_delivery_date AS TIMESTAMP) AS order_estimated_delivery_date
		FROM %s`,
	dataset.TableOrderItems: `
		SELECT
			CAST(order_id AS STRING) AS order_id,
			SAFE_CAST(order_item_id AS INT64) AS order_item_id,
			CAST(product_id AS STRING) AS product_id,
			CAST(seller_id AS STRING) AS seller_id,
			SAFE_CAST(shipping_limit_date AS TIMESTAMP) AS shipping_limit_date,
			SAFE_CAST(price AS FLOAT64) AS price,
			SAFE_CAST(freight_value AS FLOAT64) AS freight_value
		FROM %s`,
	dataset.TablePayments: `
		SELECT
			CAST(order_id AS STRING) AS order_id,
			SAFE_CAST(payment_sequential AS INT64) AS payment_sequential,
			CAST(payment_type AS STRING) AS payment_type,
			SAFE_CAST(payment_installments AS INT64) AS payment_installments,
			SAFE_CAST(payment_value AS FLOAT64) AS payment_value
		FROM %s`,
	dataset.TableReviews: `
		SELECT
			CAST(review_id AS STRING) AS review_id,
			CAST(order_id AS STRING) AS order_id,
			SAFE_CAST(review_score AS FLOAT64) AS review_score,
			CAST(review_comment_title AS STRING) AS review_comment_title,
			CAST(review_comment_message AS STRING) AS review_comment_message,
			SAFE_CAST(review_creation_date AS TIMESTAMP) AS review_creation_date,
			SAFE_CAST(review_answer_timestamp AS TIMESTAMP) AS review_answer_timestamp
		FROM %s`,
	dataset.TableProducts: `
		SELECT
			CAST(product_id AS STRING) AS product_id,
			CAST(product_category_name AS STRING) AS product_category_name
		FROM %s`,
}

type customerRow struct {
	CustomerID       bigquery.NullString `bigquery:"customer_id"`
	CustomerUniqueID bigquery.NullString `bigquery:"customer_unique_id"`
	ZipCodePrefix    bigquery.NullString `bigquery:"customer_zip_code_prefix"`
	City             bigquery.NullString `bigquery:"customer_city"`
	State            bigquery.NullString `bigquery:"customer_state"`
}

type orderRow struct {
	OrderID               bigquery.NullString    `bigquery:"order_id"`
	CustomerID            bigquery.NullString    `bigquery:"customer_id"`
	Status                bigquery.NullString    `bigquery:"order_status"`
	PurchaseTimestamp     bigquery.NullTimestamp `bigquery:"order_purchase_timestamp"`
	ApprovedAt            bigquery.NullTimestamp `bigquery:"order_approved_at"`
	DeliveredCarrierDate  bigquery.NullTimestamp `bigquery:"order_delivered_carrier_date"`
	DeliveredCustomerDate bigquery.NullTimestamp `bigquery:"order_delivered_customer_date"`
	EstimatedDeliveryDate bigquery.NullTimestamp `bigquery:"order_estimated_delivery_date"`
}

type orderItemRow struct {
	OrderID           bigquery.NullString    `bigquery:"order_id"`
	OrderItemID       bigquery.NullInt64     `bigquery:"order_item_id"`
	ProductID         bigquery.NullString    `bigquery:"product_id"`
	SellerID          bigquery.NullString    `bigquery:"seller_id"`
	ShippingLimitDate bigquery.NullTimestamp `bigquery:"shipping_limit_date"`
	Price             bigquery.NullFloat64   `bigquery:"price"`
	FreightValue      bigquery.NullFloat64   `bigquery:"freight_value"`
}

type paymentRow struct {
	OrderID             bigquery.NullString  `bigquery:"order_id"`
	PaymentSequential   bigquery.NullInt64   `bigquery:"payment_sequential"`
	PaymentType         bigquery.NullString  `bigquery:"payment_type"`
	PaymentInstallments bigquery.NullInt64   `bigquery:"payment_installments"`
	PaymentValue        bigquery.NullFloat64 `bigquery:"payment_value"`
}

type reviewRow struct {
	ReviewID        bigquery.NullString    `bigquery:"review_id"`
	OrderID         bigquery.NullString    `bigquery:"order_id"`
	ReviewScore     bigquery.NullFloat64   `bigquery:"review_score"`
	CommentTitle    bigquery.NullString    `bigquery:"review_comment_title"`
	CommentMessage  bigquery.NullString    `bigquery:"review_comment_message"`
	CreationDate    bigquery.NullTimestamp `bigquery:"review_creation_date"`
	AnswerTimestamp bigquery.NullTimestamp `bigquery:"review_answer_timestamp"`
}

type productRow struct {
	ProductID    bigquery.NullString `bigquery:"product_id"`
	CategoryName bigquery.NullString `bigquery:"product_category_name"`
}

// LoadTables reads every raw table from the raw dataset. A table that does
// not exist fails the load with a *dataset.MissingInputError.
func (c *Client) LoadTables(ctx context.Context) (*dataset.Tables, error) {
	log := logger.FromContext(ctx)
	if c.rawDataset == "" {
		return nil, fmt.Errorf("LoadTables: no raw dataset configured")
	}

	tables := &dataset.Tables{}
	var err error
	for _, t := range dataset.RequiredTables {
		switch t {
		case dataset.TableCustomers:
			tables.Customers, err = readRaw(ctx, c, t, customerFromRow)
		case dataset.TableOrders:
			tables.Orders, err = readRaw(ctx, c, t, orderFromRow)
		case dataset.TableOrderItems:
			tables.OrderItems, err = readRaw(ctx, c, t, orderItemFromRow)
		case dataset.TablePayments:
			tables.Payments, err = readRaw(ctx, c, t, paymentFromRow)
		case dataset.TableReviews:
			tables.Reviews, err = readRaw(ctx, c, t, reviewFromRow)
		case dataset.TableProducts:
			tables.Products, err = readRaw(ctx, c, t, productFromRow)
		}
		if err != nil {
			return nil, err
		}
	}

	counts := tables.RowCounts()
	ev := log.Info().Str("dataset", c.rawDataset)
	for _, t := range dataset.RequiredTables {
		ev = ev.Int(string(t), counts[t])
	}
	ev.Msg("Loaded raw tables from BigQuery")
	return tables, nil
}

// readRaw runs the raw query of table t and converts each row with conv.
func readRaw[R any, T any](ctx context.Context, c *Client, t dataset.Table, conv func(*R) T) ([]T, error) {
	q := c.client.Query(fmt.Sprintf(rawQueries[t], qualified(c.project, c.rawDataset, RawTableName(t))))
	it, err := q.Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, &dataset.MissingInputError{Table: t, Err: dataset.ErrTableNotFound}
		}
		return nil, fmt.Errorf("LoadTables: querying %s: %w", t, err)
	}

	out := make([]T, 0, it.TotalRows)
	for {
		var row R
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LoadTables: reading %s: %w", t, err)
		}
		out = append(out, conv(&row))
	}
	return out, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func customerFromRow(r *customerRow) dataset.Customer {
	return dataset.Customer{
		CustomerID:       r.CustomerID.StringVal,
		CustomerUniqueID: r.CustomerUniqueID.StringVal,
		ZipCodePrefix:    r.ZipCodePrefix.StringVal,
		City:             r.City.StringVal,
		State:            r.State.StringVal,
	}
}

func orderFromRow(r *orderRow) dataset.Order {
	return dataset.Order{
		OrderID:               r.OrderID.StringVal,
		CustomerID:            r.CustomerID.StringVal,
		Status:                r.Status.StringVal,
		PurchaseTimestamp:     timePtr(r.PurchaseTimestamp),
		ApprovedAt:            timePtr(r.ApprovedAt),
		DeliveredCarrierDate:  timePtr(r.DeliveredCarrierDate),
		DeliveredCustomerDate: timePtr(r.DeliveredCustomerDate),
		EstimatedDeliveryDate: timePtr(r.EstimatedDeliveryDate),
	}
}

func orderItemFromRow(r *orderItemRow) dataset.OrderItem {
	return dataset.OrderItem{
		OrderID:           r.OrderID.StringVal,
		OrderItemID:       int(r.OrderItemID.Int64),
		ProductID:         r.ProductID.StringVal,
		SellerID:          r.SellerID.StringVal,
		ShippingLimitDate: timePtr(r.ShippingLimitDate),
		Price:             floatPtr(r.Price),
		FreightValue:      floatPtr(r.FreightValue),
	}
}

func paymentFromRow(r *paymentRow) dataset.Payment {
	return dataset.Payment{
		OrderID:             r.OrderID.StringVal,
		PaymentSequential:   int(r.PaymentSequential.Int64),
		PaymentType:         r.PaymentType.StringVal,
		PaymentInstallments: intPtr(r.PaymentInstallments),
		PaymentValue:        floatPtr(r.PaymentValue),
	}
}

func reviewFromRow(r *reviewRow) dataset.Review {
	return dataset.Review{
		ReviewID:        r.ReviewID.StringVal,
		OrderID:         r.OrderID.StringVal,
		ReviewScore:     floatPtr(r.ReviewScore),
		CommentTitle:    r.CommentTitle.StringVal,
		CommentMessage:  r.CommentMessage.StringVal,
		CreationDate:    timePtr(r.CreationDate),
		AnswerTimestamp: timePtr(r.AnswerTimestamp),
	}
}

func productFromRow(r *productRow) dataset.Product {
	return dataset.Product{
		ProductID:    r.ProductID.StringVal,
		CategoryName: r.CategoryName.StringVal,
	}
}

func timePtr(v bigquery.NullTimestamp) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Timestamp.UTC()
	return &t
}

func floatPtr(v bigquery.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v bigquery.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
