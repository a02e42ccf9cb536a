package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/churn-analytics/internal/logger"
)

// CSVLoader loads the raw tables from CSV files served by a Source.
type CSVLoader struct {
	source Source
}

// NewCSVLoader creates a loader reading from source.
func NewCSVLoader(source Source) *CSVLoader {
	return &CSVLoader{source: source}
}

// LoadTables reads every required table. A table the source does not have
// yields a *MissingInputError; malformed cells are coerced to null and
// counted in the log rather than failing the load.
func (l *CSVLoader) LoadTables(ctx context.Context) (*Tables, error) {
	log := logger.FromContext(ctx)
	tables := &Tables{}

	for _, table := range RequiredTables {
		coerced, err := l.loadTable(ctx, table, tables)
		if err != nil {
			return nil, err
		}
		if coerced > 0 {
			log.Warn().
				Str("table", string(table)).
				Int("coerced_cells", coerced).
				Msg("Unparseable cells set to null")
		}
	}

	counts := tables.RowCounts()
	log.Info().
		Int("customers", counts[TableCustomers]).
		Int("orders", counts[TableOrders]).
		Int("order_items", counts[TableOrderItems]).
		Int("payments", counts[TablePayments]).
		Int("reviews", counts[TableReviews]).
		Int("products", counts[TableProducts]).
		Msg("Loaded raw tables")

	return tables, nil
}

func (l *CSVLoader) loadTable(ctx context.Context, table Table, dst *Tables) (int, error) {
	rc, err := l.source.Open(ctx, table)
	if errors.Is(err, ErrTableNotFound) {
		return 0, &MissingInputError{Table: table, Err: err}
	}
	if err != nil {
		return 0, fmt.Errorf("LoadTables: open %s: %w", table, err)
	}
	defer rc.Close()

	coerced, err := decodeTable(table, rc, dst)
	if err != nil {
		return 0, fmt.Errorf("LoadTables: %w", err)
	}
	return coerced, nil
}

// decodeTable parses one table from r into the matching field of dst.
func decodeTable(table Table, r io.Reader, dst *Tables) (int, error) {
	var (
		coerced int
		err     error
	)
	switch table {
	case TableCustomers:
		dst.Customers, coerced, err = readCustomers(r)
	case TableOrders:
		dst.Orders, coerced, err = readOrders(r)
	case TableOrderItems:
		dst.OrderItems, coerced, err = readOrderItems(r)
	case TablePayments:
		dst.Payments, coerced, err = readPayments(r)
	case TableReviews:
		dst.Reviews, coerced, err = readReviews(r)
	case TableProducts:
		dst.Products, coerced, err = readProducts(r)
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	return coerced, err
}
