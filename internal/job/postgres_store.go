package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/workstreet/jobledger/internal/lifecycle"
	"github.com/workstreet/jobledger/internal/pagination"
)

// PostgresStore persists jobs in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Create(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, poster_id, contractor_id, router_id, title, state,
			contractor_completed_at, customer_approved_at, router_approved_at,
			amount_minor, currency, escrow_charge_id, payout_destination,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		j.ID, j.PosterID, nullString(j.ContractorID), j.RouterID, j.Title, string(j.State),
		nullTimePtr(j.ContractorCompletedAt), nullTimePtr(j.CustomerApprovedAt), nullTimePtr(j.RouterApprovedAt),
		j.AmountMinor, j.Currency, nullString(j.EscrowChargeID), nullString(j.PayoutDestination),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, poster_id, contractor_id, router_id, title, state,
			contractor_completed_at, customer_approved_at, router_approved_at,
			amount_minor, currency, escrow_charge_id, payout_destination,
			created_at, updated_at
		FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *PostgresStore) Update(ctx context.Context, j *Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			contractor_id = $2, state = $3,
			contractor_completed_at = $4, customer_approved_at = $5, router_approved_at = $6,
			escrow_charge_id = $7, payout_destination = $8, updated_at = $9
		WHERE id = $1`,
		j.ID, nullString(j.ContractorID), string(j.State),
		nullTimePtr(j.ContractorCompletedAt), nullTimePtr(j.CustomerApprovedAt), nullTimePtr(j.RouterApprovedAt),
		nullString(j.EscrowChargeID), nullString(j.PayoutDestination), j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByActor(ctx context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Job, error) {
	query := `
		SELECT id, poster_id, contractor_id, router_id, title, state,
			contractor_completed_at, customer_approved_at, router_approved_at,
			amount_minor, currency, escrow_charge_id, payout_destination,
			created_at, updated_at
		FROM jobs
		WHERE (poster_id = $1 OR contractor_id = $1 OR router_id = $1)`
	args := []interface{}{userID}

	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j            Job
		state        string
		contractorID sql.NullString
		completedAt  sql.NullTime
		customerAt   sql.NullTime
		routerAt     sql.NullTime
		chargeID     sql.NullString
		destination  sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.PosterID, &contractorID, &j.RouterID, &j.Title, &state,
		&completedAt, &customerAt, &routerAt,
		&j.AmountMinor, &j.Currency, &chargeID, &destination,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.State = lifecycle.State(state)
	j.ContractorID = contractorID.String
	j.EscrowChargeID = chargeID.String
	j.PayoutDestination = destination.String
	if completedAt.Valid {
		t := completedAt.Time
		j.ContractorCompletedAt = &t
	}
	if customerAt.Valid {
		t := customerAt.Time
		j.CustomerApprovedAt = &t
	}
	if routerAt.Valid {
		t := routerAt.Time
		j.RouterApprovedAt = &t
	}
	return &j, nil
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
