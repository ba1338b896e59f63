package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paymesh/paymesh/internal/payment"
)

// PostgresStore persists the pending queue in PostgreSQL, so parked
// transactions survive process restarts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a pending queue backed by PostgreSQL.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Enqueue parks the transaction. Conflicting IDs are left untouched.
func (s *PostgresStore) Enqueue(ctx context.Context, tx *payment.Transaction) error {
	body, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode pending transaction: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_transactions (txn_id, body, queued_at, attempts)
		VALUES ($1, $2::JSONB, $3, 0)
		ON CONFLICT (txn_id) DO NOTHING
	`, tx.ID, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue pending transaction: %w", err)
	}
	return nil
}

// List returns up to limit parked items, oldest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT body, queued_at, attempts, COALESCE(last_attempt, 'epoch'::timestamptz)
		FROM pending_transactions
		ORDER BY queued_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Item
	for rows.Next() {
		var body []byte
		it := &Item{}
		if err := rows.Scan(&body, &it.QueuedAt, &it.Attempts, &it.LastAttempt); err != nil {
			return nil, fmt.Errorf("scan pending transaction: %w", err)
		}
		tx := &payment.Transaction{}
		if err := json.Unmarshal(body, tx); err != nil {
			return nil, fmt.Errorf("decode pending transaction: %w", err)
		}
		it.Transaction = tx
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkAttempt records a failed replay round.
func (s *PostgresStore) MarkAttempt(ctx context.Context, txnID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_transactions
		SET attempts = attempts + 1, last_attempt = $2
		WHERE txn_id = $1
	`, txnID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark replay attempt: %w", err)
	}
	return nil
}

// Remove deletes a delivered transaction.
func (s *PostgresStore) Remove(ctx context.Context, txnID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_transactions WHERE txn_id = $1`, txnID)
	if err != nil {
		return fmt.Errorf("remove pending transaction: %w", err)
	}
	return nil
}

// Depth returns the queue size.
func (s *PostgresStore) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_transactions`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending transactions: %w", err)
	}
	return n, nil
}
