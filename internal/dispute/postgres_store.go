package dispute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/workstreet/jobledger/internal/lifecycle"
)

// PostgresStore persists dispute cases and actions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) CreateCase(ctx context.Context, c *Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispute_cases (
			id, job_id, state, reason, filed_by, sla_deadline, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.JobID, string(c.State), c.Reason, c.FiledBy, c.SLADeadline, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispute case: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCase(ctx context.Context, id string) (*Case, error) {
	row := s.db.QueryRowContext(ctx, selectCase+` WHERE id = $1`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCaseNotFound
	}
	return c, err
}

func (s *PostgresStore) UpdateCase(ctx context.Context, c *Case) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dispute_cases SET state = $2, sla_deadline = $3, updated_at = $4
		WHERE id = $1`,
		c.ID, string(c.State), c.SLADeadline, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update dispute case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteCase(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM enforcement_actions WHERE case_id = $1`, id); err != nil {
		return fmt.Errorf("delete case actions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM dispute_cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dispute case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func (s *PostgresStore) ListBreached(ctx context.Context, cutoff time.Time, limit int) ([]*Case, error) {
	rows, err := s.db.QueryContext(ctx, selectCase+`
		WHERE state NOT IN ('RESOLVED', 'CLOSED') AND sla_deadline <= $1
		ORDER BY sla_deadline ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list breached cases: %w", err)
	}
	defer rows.Close()
	return collectCases(rows)
}

func (s *PostgresStore) ListByJob(ctx context.Context, jobID string) ([]*Case, error) {
	rows, err := s.db.QueryContext(ctx, selectCase+`
		WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list cases by job: %w", err)
	}
	defer rows.Close()
	return collectCases(rows)
}

func (s *PostgresStore) AppendAction(ctx context.Context, a *Action) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO enforcement_actions (
			id, case_id, kind, target_state, amount_minor, message, marker, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		a.ID, a.CaseID, string(a.Kind), nullString(string(a.TargetState)),
		a.AmountMinor, nullString(a.Message), a.Marker, a.CreatedAt,
	).Scan(&a.Seq)
	if err != nil {
		var pqErr *pq.Error
		// 23505 unique_violation on (case_id, marker)
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateMarker
		}
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrCaseNotFound
		}
		return fmt.Errorf("append enforcement action: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActions(ctx context.Context, caseID string) ([]*Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, kind, target_state, amount_minor, message, marker,
			seq, executed_at, last_failure, created_at
		FROM enforcement_actions
		WHERE case_id = $1
		ORDER BY seq ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list enforcement actions: %w", err)
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkActionExecuted(ctx context.Context, actionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enforcement_actions SET executed_at = $2, last_failure = NULL
		WHERE id = $1`, actionID, at)
	if err != nil {
		return fmt.Errorf("mark action executed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrActionNotFound
	}
	return nil
}

func (s *PostgresStore) RecordActionFailure(ctx context.Context, actionID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enforcement_actions SET last_failure = $2
		WHERE id = $1`, actionID, reason)
	if err != nil {
		return fmt.Errorf("record action failure: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrActionNotFound
	}
	return nil
}

const selectCase = `
	SELECT id, job_id, state, reason, filed_by, sla_deadline, created_at, updated_at
	FROM dispute_cases`

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (*Case, error) {
	var (
		c     Case
		state string
	)
	err := row.Scan(&c.ID, &c.JobID, &state, &c.Reason, &c.FiledBy,
		&c.SLADeadline, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.State = CaseState(state)
	return &c, nil
}

func collectCases(rows *sql.Rows) ([]*Case, error) {
	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanAction(row scanner) (*Action, error) {
	var (
		a           Action
		kind        string
		targetState sql.NullString
		message     sql.NullString
		executedAt  sql.NullTime
		lastFailure sql.NullString
	)
	err := row.Scan(&a.ID, &a.CaseID, &kind, &targetState, &a.AmountMinor,
		&message, &a.Marker, &a.Seq, &executedAt, &lastFailure, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = ActionKind(kind)
	a.TargetState = lifecycle.State(targetState.String)
	a.Message = message.String
	a.LastFailure = lastFailure.String
	if executedAt.Valid {
		t := executedAt.Time
		a.ExecutedAt = &t
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
