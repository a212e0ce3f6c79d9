package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/leadpilot/leadpilot/internal/pagination"
)

// PostgresStore backs lists and contacts with Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateList(ctx context.Context, l *List) error {
	return s.db.QueryRowContext(ctx, `
		INSERT INTO contact_lists (id, user_id, name, description)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		l.ID, l.UserID, l.Name, l.Description,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (s *PostgresStore) GetList(ctx context.Context, id string) (*List, error) {
	l := &List{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, created_at, updated_at
		FROM contact_lists WHERE id = $1`, id,
	).Scan(&l.ID, &l.UserID, &l.Name, &l.Description, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) ListsByUser(ctx context.Context, userID string) ([]*List, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, created_at, updated_at
		FROM contact_lists WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var out []*List
	for rows.Next() {
		l := &List{}
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.Description, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteList(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contact_lists WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrListNotFound
	}
	return nil
}

const contactColumns = `id, list_id, user_id, first_name, last_name, company, title,
	linkedin_url, email, email_verified, phone, enrichment_status, created_at, updated_at`

func (s *PostgresStore) CreateContact(ctx context.Context, c *Contact) error {
	if c.EnrichmentStatus == "" {
		c.EnrichmentStatus = EnrichmentPending
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, list_id, user_id, first_name, last_name, company, title,
			linkedin_url, email, email_verified, phone, enrichment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		c.ID, c.ListID, c.UserID, c.FirstName, c.LastName, c.Company, c.Title,
		c.LinkedInURL, c.Email, c.EmailVerified, c.Phone, c.EnrichmentStatus,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateContacts(ctx context.Context, cs []*Contact) error {
	if len(cs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contacts (id, list_id, user_id, first_name, last_name, company, title,
			linkedin_url, email, email_verified, phone, enrichment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`)
	if err != nil {
		return fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	for _, c := range cs {
		if c.EnrichmentStatus == "" {
			c.EnrichmentStatus = EnrichmentPending
		}
		err := stmt.QueryRowContext(ctx,
			c.ID, c.ListID, c.UserID, c.FirstName, c.LastName, c.Company, c.Title,
			c.LinkedInURL, c.Email, c.EmailVerified, c.Phone, c.EnrichmentStatus,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import contact %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetContact(ctx context.Context, id string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContactNotFound
	}
	return c, err
}

func (s *PostgresStore) ContactsByList(ctx context.Context, listID string, limit int, cursor *pagination.Cursor) ([]*Contact, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + contactColumns + ` FROM contacts WHERE list_id = $1`)
	args := []any{listID}
	if cursor != nil {
		sb.WriteString(fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)+1, len(args)+2))
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	sb.WriteString(` ORDER BY created_at DESC, id DESC`)
	if limit > 0 {
		sb.WriteString(fmt.Sprintf(` LIMIT $%d`, len(args)+1))
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateContact(ctx context.Context, c *Contact) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE contacts SET first_name = $2, last_name = $3, company = $4, title = $5,
			linkedin_url = $6, email = $7, email_verified = $8, phone = $9,
			enrichment_status = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.FirstName, c.LastName, c.Company, c.Title,
		c.LinkedInURL, c.Email, c.EmailVerified, c.Phone, c.EnrichmentStatus,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrContactNotFound
	}
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteContact(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContactNotFound
	}
	return nil
}

func (s *PostgresStore) CountByList(ctx context.Context, listID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts WHERE list_id = $1`, listID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*Contact, error) {
	c := &Contact{}
	err := row.Scan(&c.ID, &c.ListID, &c.UserID, &c.FirstName, &c.LastName, &c.Company,
		&c.Title, &c.LinkedInURL, &c.Email, &c.EmailVerified, &c.Phone,
		&c.EnrichmentStatus, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}
