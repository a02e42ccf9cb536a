package bigquery

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/churn-analytics/internal/dataset"
	"github.com/dvloznov/churn-analytics/internal/features"
)

func TestNewFeatureRow(t *testing.T) {
	cluster := 2
	rec := &features.CustomerFeatures{
		CustomerUniqueID: "u1",
		TotalOrders:      3,
		FirstOrderDate:   time.Date(2017, 3, 4, 10, 11, 12, 0, time.UTC),
		LastOrderDate:    time.Date(2018, 1, 2, 3, 4, 5, 0, time.UTC),
		TotalPayment:     375,
		CustomerState:    "SP",
		RecencyDays:      30,
		Frequency:        3,
		Monetary:         375,
		ChurnRisk:        "Stable",
		Cluster:          &cluster,
	}

	row := NewFeatureRow("run-1", rec)
	assert.Equal(t, "u1", row.CustomerUniqueID)
	assert.Equal(t, int64(3), row.TotalOrders)
	assert.Equal(t, civil.DateTime{Date: civil.Date{Year: 2017, Month: 3, Day: 4}, Time: civil.Time{Hour: 10, Minute: 11, Second: 12}}, row.FirstOrderDate)
	assert.Equal(t, "2018-01-02T03:04:05", row.LastOrderDate.String())
	assert.Equal(t, int64(30), row.RecencyDays)
	assert.Equal(t, "Stable", row.ChurnRisk)
	assert.Equal(t, bigquery.NullInt64{Int64: 2, Valid: true}, row.Cluster)
	assert.Equal(t, "run-1", row.RunID)

	rec.Cluster = nil
	assert.False(t, NewFeatureRow("run-1", rec).Cluster.Valid)
}

func TestFeatureRowSchema_MatchesColumns(t *testing.T) {
	schema, err := bigquery.InferSchema(FeatureRow{})
	require.NoError(t, err)

	var names []string
	for _, f := range schema {
		names = append(names, f.Name)
	}
	assert.Equal(t, append(append([]string{}, features.Columns...), "run_id"), names)

	byName := map[string]*bigquery.FieldSchema{}
	for _, f := range schema {
		byName[f.Name] = f
	}
	assert.Equal(t, bigquery.DateTimeFieldType, byName["first_order_date"].Type)
	assert.Equal(t, bigquery.IntegerFieldType, byName["cluster"].Type)
	assert.False(t, byName["cluster"].Required)
}

func TestFeatureRunRowSchema(t *testing.T) {
	schema, err := bigquery.InferSchema(FeatureRunRow{})
	require.NoError(t, err)
	require.Len(t, schema, 7)
	assert.Equal(t, "run_id", schema[0].Name)
	assert.Equal(t, bigquery.TimestampFieldType, schema[2].Type)
}

func TestStagingTableName(t *testing.T) {
	name := stagingTableName("3f2b1c4e-0000-4a5b-8c9d-1234567890ab")
	assert.Equal(t, "customer_features_staging_3f2b1c4e_0000_4a5b_8c9d_1234567890ab", name)
	assert.NotContains(t, name, "-")
}

func TestRawTableName(t *testing.T) {
	assert.Equal(t, "olist_orders_dataset", RawTableName(dataset.TableOrders))
	assert.Equal(t, "olist_order_payments_dataset", RawTableName(dataset.TablePayments))
	for _, tbl := range dataset.RequiredTables {
		assert.Contains(t, rawQueries, tbl)
	}
}

func TestRowConversions(t *testing.T) {
	ts := time.Date(2017, 10, 2, 10, 56, 33, 0, time.UTC)

	order := orderFromRow(&orderRow{
		OrderID:           bigquery.NullString{StringVal: "o1", Valid: true},
		CustomerID:        bigquery.NullString{StringVal: "c1", Valid: true},
		Status:            bigquery.NullString{StringVal: "delivered", Valid: true},
		PurchaseTimestamp: bigquery.NullTimestamp{Timestamp: ts, Valid: true},
	})
	assert.Equal(t, "o1", order.OrderID)
	require.NotNil(t, order.PurchaseTimestamp)
	assert.True(t, ts.Equal(*order.PurchaseTimestamp))
	assert.Nil(t, order.DeliveredCustomerDate)

	item := orderItemFromRow(&orderItemRow{
		OrderID:     bigquery.NullString{StringVal: "o1", Valid: true},
		OrderItemID: bigquery.NullInt64{Int64: 2, Valid: true},
		Price:       bigquery.NullFloat64{Float64: 58.9, Valid: true},
	})
	assert.Equal(t, 2, item.OrderItemID)
	require.NotNil(t, item.Price)
	assert.Equal(t, 58.9, *item.Price)
	assert.Nil(t, item.FreightValue)

	pay := paymentFromRow(&paymentRow{
		PaymentInstallments: bigquery.NullInt64{Int64: 8, Valid: true},
	})
	require.NotNil(t, pay.PaymentInstallments)
	assert.Equal(t, 8, *pay.PaymentInstallments)
	assert.Nil(t, pay.PaymentValue)

	rev := reviewFromRow(&reviewRow{ReviewScore: bigquery.NullFloat64{}})
	assert.Nil(t, rev.ReviewScore)

	prod := productFromRow(&productRow{ProductID: bigquery.NullString{StringVal: "p1", Valid: true}})
	assert.Equal(t, dataset.Product{ProductID: "p1"}, prod)
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "", truncateError(nil))
	assert.Equal(t, "boom", truncateError(errors.New("boom")))
	assert.Len(t, truncateError(errors.New(strings.Repeat("e", 2500))), maxErrorMessage)
}

func TestAPIErrorClassification(t *testing.T) {
	assert.True(t, isAlreadyExists(&googleapi.Error{Code: http.StatusConflict}))
	assert.False(t, isAlreadyExists(errors.New("conflict")))
	assert.True(t, isNotFound(&googleapi.Error{Code: http.StatusNotFound}))
	assert.False(t, isNotFound(nil))
}
