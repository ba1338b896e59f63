package audit

import (
	"context"
	"database/sql"
)

// PostgresSink writes audit records to PostgreSQL. The BIGSERIAL id column
// provides the per-process monotonic sequence.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates an audit sink backed by PostgreSQL.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Append inserts the record and fills in its sequence number.
func (s *PostgresSink) Append(ctx context.Context, rec *Record) error {
	return s.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (record_id, kind, txn_id, user_id, channel, layer, verdict, score, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq
	`, rec.ID, string(rec.Kind), rec.TransactionID, rec.UserID, rec.Channel,
		rec.Layer, rec.Verdict, rec.Score, rec.Detail, rec.CreatedAt).Scan(&rec.Seq)
}

// ByTransaction returns all records for a transaction in append order.
func (s *PostgresSink) ByTransaction(ctx context.Context, txnID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, record_id, kind, txn_id, COALESCE(user_id, ''), COALESCE(channel, ''),
			COALESCE(layer, ''), COALESCE(verdict, ''), COALESCE(score, 0),
			COALESCE(detail, ''), created_at
		FROM audit_log WHERE txn_id = $1 ORDER BY seq ASC
	`, txnID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// Recent returns the newest records, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, record_id, kind, txn_id, COALESCE(user_id, ''), COALESCE(channel, ''),
			COALESCE(layer, ''), COALESCE(verdict, ''), COALESCE(score, 0),
			COALESCE(detail, ''), created_at
		FROM audit_log ORDER BY seq DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		r := &Record{}
		var kind string
		if err := rows.Scan(&r.Seq, &r.ID, &kind, &r.TransactionID, &r.UserID,
			&r.Channel, &r.Layer, &r.Verdict, &r.Score, &r.Detail, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Kind = Kind(kind)
		records = append(records, r)
	}
	return records, rows.Err()
}
