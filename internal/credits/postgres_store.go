package credits

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/leadpilot/leadpilot/internal/idgen"
	"github.com/leadpilot/leadpilot/internal/pagination"
)

// PostgresStore implements Store with PostgreSQL. Balances live in
// users.credits; transactions in credit_transactions. Each Apply is a single
// serializable transaction with the user row locked, so the balance-after
// snapshot is consistent with the log.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed credit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Apply(ctx context.Context, userID string, kind Kind, amount int64, reason string, meta Metadata) (*Transaction, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT credits FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, asConflict(err)
	}

	var delta int64
	switch kind {
	case KindAdd:
		delta = amount
	case KindUse:
		if balance < amount {
			return nil, ErrInsufficientCredits
		}
		delta = -amount
	case KindExpire:
		removed := amount
		if balance < removed {
			removed = balance
		}
		if removed == 0 {
			return nil, nil
		}
		delta = -removed
	default:
		return nil, ErrInvalidAmount
	}

	balance += delta

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET credits = $2, updated_at = NOW() WHERE id = $1
	`, userID, balance); err != nil {
		return nil, asConflict(err)
	}

	txn := &Transaction{
		ID:           idgen.WithPrefix("txn_"),
		UserID:       userID,
		Kind:         kind,
		Amount:       delta,
		Reason:       reason,
		BalanceAfter: balance,
		Metadata:     meta,
		CreatedAt:    time.Now(),
	}

	metaJSON, err := json.Marshal(txn.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if txn.Metadata == nil {
		metaJSON = []byte("{}")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, kind, amount, reason, balance_after, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, txn.ID, txn.UserID, txn.Kind, txn.Amount, txn.Reason, txn.BalanceAfter, metaJSON, txn.CreatedAt); err != nil {
		return nil, asConflict(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, asConflict(err)
	}
	return txn, nil
}

func (p *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx, `
		SELECT credits FROM users WHERE id = $1
	`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (p *PostgresStore) History(ctx context.Context, userID string, limit int, cursor *pagination.Cursor, kind Kind) ([]*Transaction, error) {
	query := `
		SELECT id, user_id, kind, amount, reason, balance_after, metadata, created_at
		FROM credit_transactions
		WHERE user_id = $1`
	args := []any{userID}

	if kind != "" {
		args = append(args, kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, txn)
	}
	return result, rows.Err()
}

func (p *PostgresStore) HasTransactionWithMeta(ctx context.Context, key, value string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credit_transactions WHERE metadata->>$1 = $2
		)
	`, key, value).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func scanTransaction(rows *sql.Rows) (*Transaction, error) {
	var (
		txn      Transaction
		metaJSON []byte
	)
	if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Kind, &txn.Amount, &txn.Reason,
		&txn.BalanceAfter, &metaJSON, &txn.CreatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &txn.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(txn.Metadata) == 0 {
		txn.Metadata = nil
	}
	return &txn, nil
}

// asConflict maps serialization failures and deadlocks to ErrContention so
// the ledger's retry loop can distinguish them from hard failures.
func asConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", ErrContention, err)
		}
	}
	return err
}
