package plans

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed plan store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const planColumns = `
	id, name, description, price_cents, billing_cycle, credits,
	enrichments_per_month, stripe_price_id, display_on_website, sort_order,
	active, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, plan *Plan) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, description, price_cents, billing_cycle, credits,
			enrichments_per_month, stripe_price_id, display_on_website, sort_order, active,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, NOW(), NOW())
	`, plan.ID, plan.Name, plan.Description, plan.PriceCents, plan.BillingCycle, plan.Credits,
		plan.EnrichmentsPerMonth, plan.StripePriceID, plan.DisplayOnWebsite, plan.SortOrder, plan.Active)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByID(ctx context.Context, id string) (*Plan, error) {
	return p.getOne(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
}

func (p *PostgresStore) GetByName(ctx context.Context, name string) (*Plan, error) {
	return p.getOne(ctx, `SELECT `+planColumns+` FROM plans WHERE name = $1`, name)
}

func (p *PostgresStore) Update(ctx context.Context, plan *Plan) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE plans SET
			name = $2, description = $3, price_cents = $4, billing_cycle = $5,
			credits = $6, enrichments_per_month = $7, stripe_price_id = NULLIF($8, ''),
			display_on_website = $9, sort_order = $10, active = $11, updated_at = NOW()
		WHERE id = $1
	`, plan.ID, plan.Name, plan.Description, plan.PriceCents, plan.BillingCycle,
		plan.Credits, plan.EnrichmentsPerMonth, plan.StripePriceID,
		plan.DisplayOnWebsite, plan.SortOrder, plan.Active)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListVisible(ctx context.Context) ([]*Plan, error) {
	return p.list(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE active AND display_on_website
		ORDER BY sort_order ASC`)
}

func (p *PostgresStore) ListAll(ctx context.Context) ([]*Plan, error) {
	return p.list(ctx, `SELECT `+planColumns+` FROM plans ORDER BY sort_order ASC`)
}

func (p *PostgresStore) getOne(ctx context.Context, query string, arg any) (*Plan, error) {
	plan, err := scanPlan(p.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

func (p *PostgresStore) list(ctx context.Context, query string) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var result []*Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, plan)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	var (
		plan                       Plan
		description, stripePriceID sql.NullString
	)
	err := row.Scan(
		&plan.ID, &plan.Name, &description, &plan.PriceCents, &plan.BillingCycle,
		&plan.Credits, &plan.EnrichmentsPerMonth, &stripePriceID,
		&plan.DisplayOnWebsite, &plan.SortOrder, &plan.Active,
		&plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	plan.Description = description.String
	plan.StripePriceID = stripePriceID.String
	return &plan, nil
}
