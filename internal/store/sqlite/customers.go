package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/logger"
	"github.com/dvloznov/churn-analytics/internal/pipeline"
)

const insertBatch = 500

var _ pipeline.StagingSink = (*Store)(nil)

var (
	customerColumns = strings.Join(features.Columns, ", ")
	insertCustomer  = fmt.Sprintf(
		"INSERT INTO %%s (%s, run_id) VALUES (%s?)",
		customerColumns, strings.Repeat("?, ", len(features.Columns)),
	)
	nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// ReplaceFeatures replaces the whole customers table with records. Readers
// see either the old table or the new one.
func (s *Store) ReplaceFeatures(ctx context.Context, runID string, records []*features.CustomerFeatures) error {
	st, err := s.Stage(ctx, runID, records)
	if err != nil {
		return err
	}
	defer st.Discard(context.WithoutCancel(ctx))
	return st.Commit(ctx)
}

// Stage implements pipeline.StagingSink. Records go to a per-run staging
// table shaped like customers; Commit swaps them in with one transaction.
func (s *Store) Stage(ctx context.Context, runID string, records []*features.CustomerFeatures) (pipeline.StagedTable, error) {
	table := "customers_stage_" + nonIdent.ReplaceAllString(runID, "_")
	st := &stagedCustomers{db: s.db, table: table}

	ddl := []string{
		"DROP TABLE IF EXISTS " + table,
		"CREATE TABLE " + table + " AS SELECT * FROM customers WHERE 0",
		"CREATE UNIQUE INDEX " + table + "_id ON " + table + "(customer_unique_id)",
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			st.Discard(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("ReplaceFeatures: stage: %w", err)
		}
	}
	if err := st.insert(ctx, runID, records); err != nil {
		st.Discard(context.WithoutCancel(ctx))
		return nil, err
	}
	return st, nil
}

type stagedCustomers struct {
	db    *sql.DB
	table string
}

func (st *stagedCustomers) insert(ctx context.Context, runID string, records []*features.CustomerFeatures) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ReplaceFeatures: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(insertCustomer, st.table))
	if err != nil {
		return fmt.Errorf("ReplaceFeatures: prepare: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if i%insertBatch == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("ReplaceFeatures: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx, append(featureValues(r), runID)...); err != nil {
			return fmt.Errorf("ReplaceFeatures: insert %s: %w", r.CustomerUniqueID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ReplaceFeatures: commit staging: %w", err)
	}
	return nil
}

func (st *stagedCustomers) Commit(ctx context.Context) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ReplaceFeatures: begin: %w", err)
	}
	defer tx.Rollback()

	swap := []string{
		"DELETE FROM customers",
		"INSERT INTO customers SELECT * FROM " + st.table,
		"DROP TABLE " + st.table,
	}
	for _, q := range swap {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ReplaceFeatures: swap: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ReplaceFeatures: commit: %w", err)
	}
	return nil
}

// Discard drops the staging table; after Commit it is already gone.
func (st *stagedCustomers) Discard(ctx context.Context) {
	if _, err := st.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+st.table); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("table", st.table).Msg("Failed to drop staging table")
	}
}

// featureValues returns the column values of r in features.Columns order.
func featureValues(r *features.CustomerFeatures) []any {
	var cluster any
	if r.Cluster != nil {
		cluster = *r.Cluster
	}
	return []any{
		r.CustomerUniqueID,
		r.TotalOrders,
		r.FirstOrderDate.Format(features.DateLayout),
		r.LastOrderDate.Format(features.DateLayout),
		r.TotalPrice,
		r.AvgPrice,
		r.StdPrice,
		r.TotalFreight,
		r.AvgFreight,
		r.TotalPayment,
		r.AvgPayment,
		r.StdPayment,
		r.UniqueProducts,
		r.UniqueCategories,
		r.AvgReviewScore,
		r.TotalReviewComments,
		r.AvgPaymentMethods,
		r.MaxInstallments,
		r.CustomerCity,
		r.CustomerState,
		r.CustomerZipCodePrefix,
		r.RecencyDays,
		r.Frequency,
		r.Monetary,
		r.CustomerLifetimeDays,
		r.AvgDaysBetweenOrders,
		r.AvgOrderValue,
		r.ProductDiversityRatio,
		r.CategoryDiversityRatio,
		r.ChurnRisk,
		cluster,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (*features.CustomerFeatures, error) {
	var (
		r           features.CustomerFeatures
		first, last string
		cluster     sql.NullInt64
	)
	err := row.Scan(
		&r.CustomerUniqueID,
		&r.TotalOrders,
		&first,
		&last,
		&r.TotalPrice,
		&r.AvgPrice,
		&r.StdPrice,
		&r.TotalFreight,
		&r.AvgFreight,
		&r.TotalPayment,
		&r.AvgPayment,
		&r.StdPayment,
		&r.UniqueProducts,
		&r.UniqueCategories,
		&r.AvgReviewScore,
		&r.TotalReviewComments,
		&r.AvgPaymentMethods,
		&r.MaxInstallments,
		&r.CustomerCity,
		&r.CustomerState,
		&r.CustomerZipCodePrefix,
		&r.RecencyDays,
		&r.Frequency,
		&r.Monetary,
		&r.CustomerLifetimeDays,
		&r.AvgDaysBetweenOrders,
		&r.AvgOrderValue,
		&r.ProductDiversityRatio,
		&r.CategoryDiversityRatio,
		&r.ChurnRisk,
		&cluster,
	)
	if err != nil {
		return nil, err
	}
	if r.FirstOrderDate, err = time.ParseInLocation(features.DateLayout, first, time.UTC); err != nil {
		return nil, fmt.Errorf("first_order_date %q: %w", first, err)
	}
	if r.LastOrderDate, err = time.ParseInLocation(features.DateLayout, last, time.UTC); err != nil {
		return nil, fmt.Errorf("last_order_date %q: %w", last, err)
	}
	if cluster.Valid {
		c := int(cluster.Int64)
		r.Cluster = &c
	}
	return &r, nil
}

// GetCustomer returns one customer's features, or ErrNotFound.
func (s *Store) GetCustomer(ctx context.Context, customerUniqueID string) (*features.CustomerFeatures, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM customers WHERE customer_unique_id = ?", customerColumns),
		customerUniqueID,
	)
	r, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", customerUniqueID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetCustomer: %w", err)
	}
	return r, nil
}

// CustomerFilter selects and paginates customers.
type CustomerFilter struct {
	RiskLevel string // exact churn_risk; empty for all
	Search    string // substring of id, city or state
	Page      int    // 1-based
	PerPage   int
}

// CustomerPage is one page of customers plus paging totals.
type CustomerPage struct {
	Customers []*features.CustomerFeatures
	Total     int
	Pages     int
	Page      int
	PerPage   int
}

// ListCustomers returns customers matching f ordered by customer id.
func (s *Store) ListCustomers(ctx context.Context, f CustomerFilter) (*CustomerPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 50
	}

	var (
		where []string
		args  []any
	)
	if f.RiskLevel != "" {
		where = append(where, "churn_risk = ?")
		args = append(args, f.RiskLevel)
	}
	if f.Search != "" {
		where = append(where, "(instr(customer_unique_id, ?) > 0 OR instr(customer_city, ?) > 0 OR instr(customer_state, ?) > 0)")
		args = append(args, f.Search, f.Search, f.Search)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &CustomerPage{Page: f.Page, PerPage: f.PerPage, Customers: []*features.CustomerFeatures{}}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers"+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("ListCustomers: count: %w", err)
	}
	page.Pages = (page.Total + f.PerPage - 1) / f.PerPage

	query := fmt.Sprintf("SELECT %s FROM customers%s ORDER BY customer_unique_id LIMIT ? OFFSET ?", customerColumns, clause)
	rows, err := s.db.QueryContext(ctx, query, append(args, f.PerPage, (f.Page-1)*f.PerPage)...)
	if err != nil {
		return nil, fmt.Errorf("ListCustomers: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("ListCustomers: scan: %w", err)
		}
		page.Customers = append(page.Customers, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCustomers: rows: %w", err)
	}
	return page, nil
}
