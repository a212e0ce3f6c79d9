package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore backs personas with Postgres. Filters are stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *Persona) error {
	filters, err := marshalFilters(p.Filters)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO personas (id, user_id, name, description, filters, search_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.Name, p.Description, filters, p.SearchURL,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create persona: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Persona, error) {
	p := &Persona{}
	var filters []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, filters, search_url, created_at, updated_at
		FROM personas WHERE id = $1`, id,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &filters, &p.SearchURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get persona: %w", err)
	}
	if err := unmarshalFilters(filters, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Persona, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, filters, search_url, created_at, updated_at
		FROM personas WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var out []*Persona
	for rows.Next() {
		p := &Persona{}
		var filters []byte
		err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &filters,
			&p.SearchURL, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if err := unmarshalFilters(filters, p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, p *Persona) error {
	filters, err := marshalFilters(p.Filters)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx, `
		UPDATE personas SET name = $2, description = $3, filters = $4,
			search_url = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Description, filters, p.SearchURL,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update persona: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalFilters(f Filters) ([]byte, error) {
	if f == nil {
		f = Filters{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode filters: %w", err)
	}
	return b, nil
}

func unmarshalFilters(raw []byte, p *Persona) error {
	if len(raw) == 0 {
		return nil
	}
	var f Filters
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("decode filters: %w", err)
	}
	if len(f) > 0 {
		p.Filters = f
	}
	return nil
}
