package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/workstreet/jobledger/internal/lifecycle"
)

// PostgresStore persists payout requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Create(ctx context.Context, r *Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payout_requests (
			id, job_id, state, amount_minor, currency, destination,
			idempotency_key, provider_ref, triggered_by,
			created_at, updated_at, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.JobID, string(r.State), r.AmountMinor, r.Currency, r.Destination,
		r.IdempotencyKey, nullString(r.ProviderRef), r.TriggeredBy,
		r.CreatedAt, r.UpdatedAt, nullTimePtr(r.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("insert payout request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, selectRequest+` WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	return r, err
}

func (s *PostgresStore) GetByJob(ctx context.Context, jobID string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, selectRequest+`
		WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`, jobID)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	return r, err
}

func (s *PostgresStore) Update(ctx context.Context, r *Request) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payout_requests SET
			state = $2, provider_ref = $3, updated_at = $4, paid_at = $5
		WHERE id = $1`,
		r.ID, string(r.State), nullString(r.ProviderRef), r.UpdatedAt, nullTimePtr(r.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("update payout request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (s *PostgresStore) ListByState(ctx context.Context, state lifecycle.State, limit int) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, selectRequest+`
		WHERE state = $1 ORDER BY created_at ASC LIMIT $2`, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("list payout requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectRequest = `
	SELECT id, job_id, state, amount_minor, currency, destination,
		idempotency_key, provider_ref, triggered_by,
		created_at, updated_at, paid_at
	FROM payout_requests`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*Request, error) {
	var (
		r           Request
		state       string
		providerRef sql.NullString
		paidAt      sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.JobID, &state, &r.AmountMinor, &r.Currency, &r.Destination,
		&r.IdempotencyKey, &providerRef, &r.TriggeredBy,
		&r.CreatedAt, &r.UpdatedAt, &paidAt,
	)
	if err != nil {
		return nil, err
	}
	r.State = lifecycle.State(state)
	r.ProviderRef = providerRef.String
	if paidAt.Valid {
		t := paidAt.Time
		r.PaidAt = &t
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
