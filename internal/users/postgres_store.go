package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
//
// The subscription block is flattened into nullable columns; a NULL
// subscription_plan_id means no subscription.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `
	id, email, name, password_hash, role, auth_provider, profile_pic,
	stripe_customer_id,
	subscription_plan_id, subscription_stripe_id, subscription_status,
	subscription_start_date, subscription_next_renewal, subscription_cancel_at_period_end,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, auth_provider, profile_pic, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.Role, u.AuthProvider, u.ProfilePic)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	return p.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return p.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
}

func (p *PostgresStore) GetByStripeSubscriptionID(ctx context.Context, subID string) (*User, error) {
	return p.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE subscription_stripe_id = $1`, subID)
}

func (p *PostgresStore) Update(ctx context.Context, u *User) error {
	var (
		planID, stripeSubID, status sql.NullString
		start, renewal              sql.NullTime
		cancelAtPeriodEnd           sql.NullBool
	)
	if u.Subscription != nil {
		planID = sql.NullString{String: u.Subscription.PlanID, Valid: true}
		if u.Subscription.StripeSubscriptionID != "" {
			stripeSubID = sql.NullString{String: u.Subscription.StripeSubscriptionID, Valid: true}
		}
		status = sql.NullString{String: string(u.Subscription.Status), Valid: true}
		if !u.Subscription.StartDate.IsZero() {
			start = sql.NullTime{Time: u.Subscription.StartDate, Valid: true}
		}
		if !u.Subscription.NextRenewalDate.IsZero() {
			renewal = sql.NullTime{Time: u.Subscription.NextRenewalDate, Valid: true}
		}
		cancelAtPeriodEnd = sql.NullBool{Bool: u.Subscription.CancelAtPeriodEnd, Valid: true}
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET
			name = $2,
			password_hash = $3,
			role = $4,
			profile_pic = $5,
			stripe_customer_id = NULLIF($6, ''),
			subscription_plan_id = $7,
			subscription_stripe_id = $8,
			subscription_status = $9,
			subscription_start_date = $10,
			subscription_next_renewal = $11,
			subscription_cancel_at_period_end = $12,
			updated_at = NOW()
		WHERE id = $1
	`, u.ID, u.Name, u.PasswordHash, u.Role, u.ProfilePic, u.StripeCustomerID,
		planID, stripeSubID, status, start, renewal, cancelAtPeriodEnd)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1
	`, userID, customerID)
	if err != nil {
		return fmt.Errorf("set stripe customer id: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ClearSubscription(ctx context.Context, userID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET
			subscription_plan_id = NULL,
			subscription_stripe_id = NULL,
			subscription_status = NULL,
			subscription_start_date = NULL,
			subscription_next_renewal = NULL,
			subscription_cancel_at_period_end = NULL,
			updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("clear subscription: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListDueRenewals(ctx context.Context, before time.Time, limit int) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE subscription_plan_id IS NOT NULL
		  AND subscription_next_renewal IS NOT NULL
		  AND subscription_next_renewal < $1
		ORDER BY subscription_next_renewal ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list due renewals: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (p *PostgresStore) List(ctx context.Context, limit int, offset int) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (p *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return exists, nil
}

func (p *PostgresStore) getOne(ctx context.Context, query string, arg any) (*User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                           User
		name, profilePic            sql.NullString
		stripeCustomerID            sql.NullString
		planID, stripeSubID, status sql.NullString
		start, renewal              sql.NullTime
		cancelAtPeriodEnd           sql.NullBool
	)

	err := row.Scan(
		&u.ID, &u.Email, &name, &u.PasswordHash, &u.Role, &u.AuthProvider, &profilePic,
		&stripeCustomerID,
		&planID, &stripeSubID, &status,
		&start, &renewal, &cancelAtPeriodEnd,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Name = name.String
	u.ProfilePic = profilePic.String
	u.StripeCustomerID = stripeCustomerID.String

	if planID.Valid {
		u.Subscription = &Subscription{
			PlanID:               planID.String,
			StripeSubscriptionID: stripeSubID.String,
			Status:               SubscriptionStatus(status.String),
			StartDate:            start.Time,
			NextRenewalDate:      renewal.Time,
			CancelAtPeriodEnd:    cancelAtPeriodEnd.Bool,
		}
	}
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]*User, error) {
	var result []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}
