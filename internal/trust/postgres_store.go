package trust

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paymesh/paymesh/internal/payment"
)

// PostgresStore persists trust profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a trust store backed by PostgreSQL.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Read returns the user's profile, or a default profile if absent.
func (s *PostgresStore) Read(ctx context.Context, userID string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, txn_count, approve_count, review_count, reject_count,
			risk_average, recent, first_seen, updated_at, version
		FROM trust_profiles WHERE user_id = $1
	`, userID)

	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultProfile(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trust profile: %w", err)
	}
	return p, nil
}

// Update applies the delta under the version check, atomically per user.
// The row is locked for the duration of the transaction, so two writers
// for the same user serialize at the database even if the per-user mutex
// above is bypassed.
func (s *PostgresStore) Update(ctx context.Context, d Delta) (*Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin trust update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT user_id, txn_count, approve_count, review_count, reject_count,
			risk_average, recent, first_seen, updated_at, version
		FROM trust_profiles WHERE user_id = $1 FOR UPDATE
	`, d.UserID)

	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		p = DefaultProfile(d.UserID)
	} else if err != nil {
		return nil, fmt.Errorf("read trust profile for update: %w", err)
	}

	if p.Version != d.SnapshotVersion {
		return nil, ErrConflict
	}

	p.apply(d, time.Now().UTC())

	recent, err := json.Marshal(p.Recent)
	if err != nil {
		return nil, fmt.Errorf("encode verdict window: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trust_profiles (user_id, txn_count, approve_count, review_count,
			reject_count, risk_average, recent, first_seen, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7::JSONB, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			txn_count = EXCLUDED.txn_count,
			approve_count = EXCLUDED.approve_count,
			review_count = EXCLUDED.review_count,
			reject_count = EXCLUDED.reject_count,
			risk_average = EXCLUDED.risk_average,
			recent = EXCLUDED.recent,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
	`, p.UserID, p.TxnCount, p.ApproveCount, p.ReviewCount, p.RejectCount,
		p.RiskAverage, string(recent), p.FirstSeen, p.UpdatedAt, p.Version)
	if err != nil {
		return nil, fmt.Errorf("write trust profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit trust update: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	p := &Profile{}
	var recent []byte
	if err := row.Scan(&p.UserID, &p.TxnCount, &p.ApproveCount, &p.ReviewCount,
		&p.RejectCount, &p.RiskAverage, &recent, &p.FirstSeen, &p.UpdatedAt,
		&p.Version); err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		var window []payment.Verdict
		if err := json.Unmarshal(recent, &window); err != nil {
			return nil, fmt.Errorf("decode verdict window: %w", err)
		}
		p.Recent = window
	}
	return p, nil
}
