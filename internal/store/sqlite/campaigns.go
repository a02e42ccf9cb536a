package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/churn-analytics/internal/campaign"
)

const campaignColumns = "id, name, target_risk_level, campaign_type, discount_percentage, message, status, created_ts, target_customers, engaged_customers"

func scanCampaign(row scanner) (*campaign.Campaign, error) {
	var (
		c       campaign.Campaign
		created string
	)
	err := row.Scan(&c.ID, &c.Name, &c.TargetRiskLevel, &c.Type, &c.DiscountPct, &c.Message,
		&c.Status, &created, &c.TargetCustomers, &c.EngagedCustomers)
	if err != nil {
		return nil, err
	}
	t, err := time.ParseInLocation(tsLayout, created, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("created_ts %q: %w", created, err)
	}
	c.CreatedAt = t
	return &c, nil
}

// CreateCampaign validates and inserts c, filling its ID and CreatedAt. A
// zero TargetCustomers is sized from the current feature table: the number
// of customers at the campaign's target risk level.
func (s *Store) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("CreateCampaign: begin: %w", err)
	}
	defer tx.Rollback()

	if c.TargetCustomers == 0 {
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM customers WHERE churn_risk = ?`, string(c.TargetRiskLevel),
		).Scan(&c.TargetCustomers)
		if err != nil {
			return fmt.Errorf("CreateCampaign: size audience: %w", err)
		}
	}

	created := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO campaigns (name, target_risk_level, campaign_type, discount_percentage, message, status, created_ts, target_customers, engaged_customers)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, string(c.TargetRiskLevel), string(c.Type), c.DiscountPct, c.Message, string(c.Status),
		created.Format(tsLayout), c.TargetCustomers, c.EngagedCustomers,
	)
	if err != nil {
		return fmt.Errorf("CreateCampaign: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("CreateCampaign: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("CreateCampaign: commit: %w", err)
	}
	c.ID = id
	c.CreatedAt = created
	return nil
}

// GetCampaign returns one campaign, or ErrNotFound.
func (s *Store) GetCampaign(ctx context.Context, id int64) (*campaign.Campaign, error) {
	c, err := getCampaign(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("GetCampaign: %w", err)
	}
	return c, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getCampaign(ctx context.Context, q queryRower, id int64) (*campaign.Campaign, error) {
	row := q.QueryRowContext(ctx, "SELECT "+campaignColumns+" FROM campaigns WHERE id = ?", id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	return c, err
}

// ListCampaigns returns campaigns in creation order, optionally only those
// with the given status.
func (s *Store) ListCampaigns(ctx context.Context, status campaign.Status) ([]*campaign.Campaign, error) {
	query := "SELECT " + campaignColumns + " FROM campaigns"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListCampaigns: query: %w", err)
	}
	defer rows.Close()

	out := []*campaign.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("ListCampaigns: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCampaigns: rows: %w", err)
	}
	return out, nil
}

// UpdateCampaign applies p to campaign id and returns the stored result.
// The patched campaign must still validate.
func (s *Store) UpdateCampaign(ctx context.Context, id int64, p campaign.Patch) (*campaign.Campaign, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("UpdateCampaign: begin: %w", err)
	}
	defer tx.Rollback()

	c, err := getCampaign(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("UpdateCampaign: %w", err)
	}
	p.Apply(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE campaigns SET name = ?, target_risk_level = ?, campaign_type = ?, discount_percentage = ?,
		 message = ?, status = ?, target_customers = ?, engaged_customers = ? WHERE id = ?`,
		c.Name, string(c.TargetRiskLevel), string(c.Type), c.DiscountPct,
		c.Message, string(c.Status), c.TargetCustomers, c.EngagedCustomers, id,
	)
	if err != nil {
		return nil, fmt.Errorf("UpdateCampaign: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("UpdateCampaign: commit: %w", err)
	}
	return c, nil
}

// DeleteCampaign removes campaign id, or returns ErrNotFound.
func (s *Store) DeleteCampaign(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("DeleteCampaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("DeleteCampaign: campaign %d: %w", id, ErrNotFound)
	}
	return nil
}
