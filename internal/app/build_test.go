package app

import (
	"context"
	"encoding/csv"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/churn-analytics/internal/dataset"
	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/pipeline"
	"github.com/dvloznov/churn-analytics/internal/store/sqlite"
)

var snapshot = map[dataset.Table]string{
	dataset.TableCustomers: `customer_id,customer_unique_id,customer_zip_code_prefix,customer_city,customer_state
c1,u1,01001,sao paulo,SP
c2,u1,01001,sao paulo,SP
c3,u2,20040,rio de janeiro,RJ
c4,u3,80010,curitiba,PR
c5,u4,30110,belo horizonte,MG
`,
	dataset.TableOrders: `order_id,customer_id,order_status,order_purchase_timestamp,order_approved_at,order_delivered_carrier_date,order_delivered_customer_date,order_estimated_delivery_date
o1,c1,delivered,2018-01-10 10:00:00,,,,
o2,c2,delivered,2018-08-20 10:00:00,,,,
o3,c3,delivered,2017-03-01 09:00:00,,,,
o4,c4,delivered,2018-06-15 12:00:00,,,,
o5,c5,delivered,2018-08-29 18:00:00,,,,
`,
	dataset.TableOrderItems: `order_id,order_item_id,product_id,seller_id,shipping_limit_date,price,freight_value
o1,1,p1,s1,,100.00,10.00
o2,1,p2,s1,,250.00,15.00
o3,1,p1,s2,,20.00,5.00
o4,1,p2,s2,,60.00,7.00
o5,1,p1,s1,,300.00,20.00
`,
	dataset.TablePayments: `order_id,payment_sequential,payment_type,payment_installments,payment_value
o1,1,credit_card,2,110.00
o2,1,credit_card,4,265.00
o3,1,boleto,1,25.00
o4,1,voucher,1,67.00
o5,1,credit_card,10,320.00
`,
	dataset.TableReviews: `review_id,order_id,review_score,review_comment_title,review_comment_message,review_creation_date,review_answer_timestamp
r1,o1,5,,,,
r3,o3,1,,"late",,
r5,o5,4,,,,
`,
	dataset.TableProducts: "product_id,product_category_name\np1,perfumaria\np2,esporte_lazer\n",
}

func TestBuild_EndToEnd(t *testing.T) {
	cfg := localConfig(t)
	writeSnapshot(t, cfg.Source, "")

	ctx := context.Background()
	rt, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer rt.Close()

	deps, err := rt.Deps(BuildOptions{RunID: "run-e2e"})
	require.NoError(t, err)
	state, err := pipeline.BuildFeatureTable(ctx, deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"csv", "sqlite"}, state.Published)
	require.Len(t, state.Records, 4)

	// SQLite holds the same table and a successful run.
	page, err := rt.Store.ListCustomers(ctx, sqlite.CustomerFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)

	u1, err := rt.Store.GetCustomer(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, u1.TotalOrders)
	assert.Equal(t, 375.0, u1.Monetary)
	assert.Equal(t, "SP", u1.CustomerState)

	run, err := rt.Store.GetRun(ctx, "run-e2e")
	require.NoError(t, err)
	assert.Equal(t, sqlite.RunStatusSuccess, run.Status)
	require.NotNil(t, run.Customers)
	assert.Equal(t, 4, *run.Customers)

	// The CSV has the fixed header and one row per customer.
	f, err := os.Open(cfg.Sinks.CSV)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, features.Columns, rows[0])
	assert.Equal(t, "u1", rows[1][0])
}

func TestBuild_MissingTableRecordsFailure(t *testing.T) {
	cfg := localConfig(t)
	writeSnapshot(t, cfg.Source, dataset.TableReviews)

	ctx := context.Background()
	rt, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer rt.Close()

	deps, err := rt.Deps(BuildOptions{RunID: "run-missing"})
	require.NoError(t, err)
	_, err = pipeline.BuildFeatureTable(ctx, deps)

	var missing *dataset.MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, dataset.TableReviews, missing.Table)

	run, err := rt.Store.GetRun(ctx, "run-missing")
	require.NoError(t, err)
	assert.Equal(t, sqlite.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "reviews")

	_, err = os.Stat(cfg.Sinks.CSV)
	assert.True(t, os.IsNotExist(err), "nothing is published on failure")
}
