// Package dispute tracks disagreements over jobs and drives their
// enforcement: refunds, forced lifecycle transitions, and party
// notifications, each executed at most once.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/workstreet/jobledger/internal/idgen"
	"github.com/workstreet/jobledger/internal/job"
	"github.com/workstreet/jobledger/internal/lifecycle"
)

var (
	ErrCaseNotFound   = errors.New("dispute: case not found")
	ErrActionNotFound = errors.New("dispute: enforcement action not found")
	// ErrDuplicateMarker means an action with the same idempotency
	// marker already exists on the case.
	ErrDuplicateMarker = errors.New("dispute: duplicate action marker")
	ErrCaseClosed      = errors.New("dispute: case is closed")
	ErrActionsPending  = errors.New("dispute: enforcement actions still pending")
)

// CaseState is a dispute case's position in its lifecycle.
type CaseState string

const (
	CaseOpen     CaseState = "OPEN"
	CaseResolved CaseState = "RESOLVED"
	CaseClosed   CaseState = "CLOSED"
)

// Terminal reports whether a case state is final.
func (s CaseState) Terminal() bool {
	return s == CaseResolved || s == CaseClosed
}

// Case is an in-flight disagreement tied to a job.
type Case struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	State       CaseState `json:"state"`
	Reason      string    `json:"reason"`
	FiledBy     string    `json:"filedBy"`
	SLADeadline time.Time `json:"slaDeadline"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ActionKind identifies what an enforcement action does.
type ActionKind string

const (
	// ActionRefund reverses the escrow charge to the customer and
	// moves the job to REFUNDED.
	ActionRefund ActionKind = "refund"
	// ActionForceTransition moves the job to a target state. A target
	// of FUNDS_RELEASED routes through the release orchestrator so the
	// money path stays exactly-once.
	ActionForceTransition ActionKind = "force_transition"
	// ActionNotify informs a party of a case development.
	ActionNotify ActionKind = "notify"
	// ActionSLABreachNotice is the consequence appended by the SLA
	// monitor when a case's deadline elapses.
	ActionSLABreachNotice ActionKind = "sla_breach_notice"
)

// Action is an atomic unit of enforcement work owned by one case. It is
// consumed (ExecutedAt set) only after its external effect is
// confirmed.
type Action struct {
	ID          string          `json:"id"`
	CaseID      string          `json:"caseId"`
	Kind        ActionKind      `json:"kind"`
	TargetState lifecycle.State `json:"targetState,omitempty"`
	AmountMinor int64           `json:"amountMinor,omitempty"`
	Message     string          `json:"message,omitempty"`
	// Marker is the action's idempotency marker, unique within the
	// case across executed and pending actions alike.
	Marker      string     `json:"marker"`
	Seq         int64      `json:"seq"`
	ExecutedAt  *time.Time `json:"executedAt,omitempty"`
	LastFailure string     `json:"lastFailure,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Pending reports whether the action still awaits execution.
func (a *Action) Pending() bool { return a.ExecutedAt == nil }

// Store persists dispute cases and their enforcement actions.
type Store interface {
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id string) (*Case, error)
	UpdateCase(ctx context.Context, c *Case) error
	// DeleteCase removes a case that never took effect, along with any
	// actions recorded against it.
	DeleteCase(ctx context.Context, id string) error
	// ListBreached returns non-terminal cases whose SLA deadline is at
	// or before the cutoff, ordered by ascending deadline.
	ListBreached(ctx context.Context, cutoff time.Time, limit int) ([]*Case, error)
	ListByJob(ctx context.Context, jobID string) ([]*Case, error)

	// AppendAction adds an action to a case, assigning the next Seq.
	// Returns ErrDuplicateMarker if the marker already exists on the
	// case, whether or not that action was executed.
	AppendAction(ctx context.Context, a *Action) error
	// ListActions returns a case's actions in insertion order.
	ListActions(ctx context.Context, caseID string) ([]*Action, error)
	MarkActionExecuted(ctx context.Context, actionID string, at time.Time) error
	RecordActionFailure(ctx context.Context, actionID, reason string) error
}

// Notifier delivers dispute events to interested parties.
type Notifier interface {
	DisputeOpened(ctx context.Context, c *Case)
	SLABreached(ctx context.Context, c *Case)
	EnforcementExecuted(ctx context.Context, c *Case, a *Action)
}

// FileRequest contains the parameters for opening a dispute.
type FileRequest struct {
	JobID   string `json:"jobId" binding:"required"`
	FiledBy string `json:"filedBy" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

// AppendActionRequest adds an enforcement action during adjudication.
type AppendActionRequest struct {
	Kind        ActionKind      `json:"kind" binding:"required"`
	TargetState lifecycle.State `json:"targetState,omitempty"`
	AmountMinor int64           `json:"amountMinor,omitempty"`
	Message     string          `json:"message,omitempty"`
	Marker      string          `json:"marker,omitempty"`
}

// Service implements dispute filing and adjudication.
type Service struct {
	store     Store
	jobs      Jobs
	notifier  Notifier
	slaWindow time.Duration
	logger    *slog.Logger
}

// Jobs is the slice of the job service the dispute engine needs.
type Jobs interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	ForceTransition(ctx context.Context, id string, to lifecycle.State) (*job.Job, error)
}

// NewService creates a dispute service. notifier may be nil.
func NewService(store Store, jobs Jobs, notifier Notifier, slaWindow time.Duration, logger *slog.Logger) *Service {
	if slaWindow <= 0 {
		slaWindow = 72 * time.Hour
	}
	return &Service{
		store:     store,
		jobs:      jobs,
		notifier:  notifier,
		slaWindow: slaWindow,
		logger:    logger,
	}
}

// File opens a dispute against a job and moves the job to DISPUTED.
func (s *Service) File(ctx context.Context, req FileRequest) (*Case, error) {
	j, err := s.jobs.Get(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if req.FiledBy != j.PosterID && req.FiledBy != j.ContractorID && req.FiledBy != j.RouterID {
		return nil, job.ErrUnauthorized
	}

	now := time.Now()
	c := &Case{
		ID:          idgen.WithPrefix("dsp_"),
		JobID:       req.JobID,
		State:       CaseOpen,
		Reason:      req.Reason,
		FiledBy:     req.FiledBy,
		SLADeadline: now.Add(s.slaWindow),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// Persist the case before touching the job: a case with no
	// DISPUTED job is harmless and removable, a DISPUTED job with no
	// case cannot leave that state.
	if err := s.store.CreateCase(ctx, c); err != nil {
		return nil, err
	}
	if _, err := s.jobs.ForceTransition(ctx, req.JobID, lifecycle.JobDisputed); err != nil {
		if delErr := s.store.DeleteCase(ctx, c.ID); delErr != nil {
			s.logger.Error("CRITICAL: orphan dispute case left behind",
				"case_id", c.ID, "job_id", c.JobID, "error", delErr)
		}
		return nil, fmt.Errorf("mark job disputed: %w", err)
	}

	s.logger.Info("dispute filed",
		"case_id", c.ID, "job_id", c.JobID, "filed_by", c.FiledBy,
		"sla_deadline", c.SLADeadline)
	if s.notifier != nil {
		s.notifier.DisputeOpened(ctx, c)
	}
	return c, nil
}

// AppendEnforcement records an adjudicated enforcement action on an
// open case.
func (s *Service) AppendEnforcement(ctx context.Context, caseID string, req AppendActionRequest) (*Action, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.State.Terminal() {
		return nil, ErrCaseClosed
	}

	marker := req.Marker
	if marker == "" {
		marker = "adj:" + idgen.Hex(12)
	}
	a := &Action{
		ID:          idgen.WithPrefix("act_"),
		CaseID:      caseID,
		Kind:        req.Kind,
		TargetState: req.TargetState,
		AmountMinor: req.AmountMinor,
		Message:     req.Message,
		Marker:      marker,
		CreatedAt:   time.Now(),
	}
	if err := s.store.AppendAction(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Close resolves a case once every enforcement action is consumed.
func (s *Service) Close(ctx context.Context, caseID string) (*Case, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.State.Terminal() {
		return c, nil
	}

	actions, err := s.store.ListActions(ctx, caseID)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		if a.Pending() {
			return nil, fmt.Errorf("%w: %s", ErrActionsPending, a.ID)
		}
	}

	c.State = CaseResolved
	c.UpdatedAt = time.Now()
	if err := s.store.UpdateCase(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("dispute resolved", "case_id", c.ID, "job_id", c.JobID)
	return c, nil
}

// GetCase returns a case by ID.
func (s *Service) GetCase(ctx context.Context, id string) (*Case, error) {
	return s.store.GetCase(ctx, id)
}

// ListActions returns a case's actions in insertion order.
func (s *Service) ListActions(ctx context.Context, caseID string) ([]*Action, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.ListActions(ctx, caseID)
}
