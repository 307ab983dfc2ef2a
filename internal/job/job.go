// Package job owns the job lifecycle: acceptance, the three completion
// approvals, and the canonical state machine backing them.
//
// A job's readiness for fund release is derived from three independent
// timestamps (contractor completion, customer approval, router
// approval). The canonical state field tracks the same progress through
// the transition table; both are mutated only through Service methods so
// they cannot drift apart.
package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/workstreet/jobledger/internal/lifecycle"
	"github.com/workstreet/jobledger/internal/pagination"
)

var (
	ErrNotFound     = errors.New("job: not found")
	ErrUnauthorized = errors.New("job: actor not authorized for this operation")
	ErrTerminal     = errors.New("job: already in a terminal state")
)

// Job represents a unit of contracted work with escrowed funds.
type Job struct {
	ID           string          `json:"id"`
	PosterID     string          `json:"posterId"`
	ContractorID string          `json:"contractorId,omitempty"`
	RouterID     string          `json:"routerId"`
	Title        string          `json:"title"`
	State        lifecycle.State `json:"state"`

	// Completion flags. All three must be set before funds move.
	ContractorCompletedAt *time.Time `json:"contractorCompletedAt,omitempty"`
	CustomerApprovedAt    *time.Time `json:"customerApprovedAt,omitempty"`
	RouterApprovedAt      *time.Time `json:"routerApprovedAt,omitempty"`

	// Escrow held for this job.
	AmountMinor       int64  `json:"amountMinor"`
	Currency          string `json:"currency"`
	EscrowChargeID    string `json:"escrowChargeId,omitempty"`    // provider charge that funded escrow
	PayoutDestination string `json:"payoutDestination,omitempty"` // contractor's provider account

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReadyForRelease reports whether all three completion flags are set.
func (j *Job) ReadyForRelease() bool {
	return j.ContractorCompletedAt != nil &&
		j.CustomerApprovedAt != nil &&
		j.RouterApprovedAt != nil
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return lifecycle.Terminal(lifecycle.KindJob, j.State)
}

// Store persists jobs.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, j *Job) error
	ListByActor(ctx context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Job, error)
}

// CreateRequest contains the parameters for posting a job.
type CreateRequest struct {
	PosterID    string `json:"posterId" binding:"required"`
	RouterID    string `json:"routerId" binding:"required"`
	Title       string `json:"title" binding:"required"`
	AmountMinor int64  `json:"amountMinor" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
}

// AcceptRequest contains the parameters for a contractor accepting a job.
type AcceptRequest struct {
	ContractorID      string `json:"contractorId" binding:"required"`
	EscrowChargeID    string `json:"escrowChargeId" binding:"required"`
	PayoutDestination string `json:"payoutDestination" binding:"required"`
}

// Service implements job business logic.
type Service struct {
	store    Store
	locks    sync.Map // per-job ID locks serializing mutations
	newID    func() string
	notifier Notifier
}

// Notifier receives job lifecycle events after they are persisted.
// Implementations must not block.
type Notifier interface {
	JobAccepted(ctx context.Context, j *Job)
}

// NewService creates a new job service.
func NewService(store Store, newID func() string) *Service {
	return &Service{store: store, newID: newID}
}

// SetNotifier installs the lifecycle notifier. Not safe to call once
// the service is handling requests.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) jobLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// mutate is the single mutation path: load under the job's lock, apply
// fn, stamp UpdatedAt, persist.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	mu := s.jobLock(id)
	mu.Lock()
	defer mu.Unlock()

	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	j.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func transition(j *Job, to lifecycle.State) error {
	if err := lifecycle.Assert(lifecycle.KindJob, j.State, to); err != nil {
		return err
	}
	j.State = to
	return nil
}

// Create posts a new job in DRAFT.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Job, error) {
	now := time.Now()
	j := &Job{
		ID:          s.newID(),
		PosterID:    req.PosterID,
		RouterID:    req.RouterID,
		Title:       req.Title,
		State:       lifecycle.JobDraft,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Accept assigns a contractor and moves the job into IN_PROGRESS. The
// escrow charge reference records the payment that funded the escrow.
func (s *Service) Accept(ctx context.Context, id string, req AcceptRequest) (*Job, error) {
	j, err := s.mutate(ctx, id, func(j *Job) error {
		if err := transition(j, lifecycle.JobInProgress); err != nil {
			return err
		}
		j.ContractorID = req.ContractorID
		j.EscrowChargeID = req.EscrowChargeID
		j.PayoutDestination = req.PayoutDestination
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.JobAccepted(ctx, j)
	}
	return j, nil
}

// MarkContractorCompleted records the contractor's completion claim.
func (s *Service) MarkContractorCompleted(ctx context.Context, id, actorID string) (*Job, error) {
	return s.mutate(ctx, id, func(j *Job) error {
		if actorID != j.ContractorID {
			return ErrUnauthorized
		}
		if err := transition(j, lifecycle.JobContractorCompleted); err != nil {
			return err
		}
		now := time.Now()
		j.ContractorCompletedAt = &now
		return nil
	})
}

// ApproveByCustomer records the posting customer's approval.
func (s *Service) ApproveByCustomer(ctx context.Context, id, actorID string) (*Job, error) {
	return s.mutate(ctx, id, func(j *Job) error {
		if actorID != j.PosterID {
			return ErrUnauthorized
		}
		if err := transition(j, lifecycle.JobCustomerApproved); err != nil {
			return err
		}
		now := time.Now()
		j.CustomerApprovedAt = &now
		return nil
	})
}

// ApproveByRouter records the routing partner's approval.
func (s *Service) ApproveByRouter(ctx context.Context, id, actorID string) (*Job, error) {
	return s.mutate(ctx, id, func(j *Job) error {
		if actorID != j.RouterID {
			return ErrUnauthorized
		}
		if err := transition(j, lifecycle.JobRouterApproved); err != nil {
			return err
		}
		now := time.Now()
		j.RouterApprovedAt = &now
		return nil
	})
}

// MarkFundsReleased advances the job after a confirmed payout. Called by
// the release orchestrator only.
func (s *Service) MarkFundsReleased(ctx context.Context, id string) (*Job, error) {
	return s.mutate(ctx, id, func(j *Job) error {
		return transition(j, lifecycle.JobFundsReleased)
	})
}

// Close settles a finished job. Only the poster or the router may
// close, and only from a state the table allows into CLOSED (funds
// released or refunded).
func (s *Service) Close(ctx context.Context, id, actorID string) (*Job, error) {
	return s.mutate(ctx, id, func(j *Job) error {
		if actorID != j.PosterID && actorID != j.RouterID {
			return ErrUnauthorized
		}
		return transition(j, lifecycle.JobClosed)
	})
}

// ForceTransition moves a job to an arbitrary state, still subject to
// the transition table. Used by dispute enforcement.
func (s *Service) ForceTransition(ctx context.Context, id string, to lifecycle.State) (*Job, error) {
	return s.mutate(ctx, id, func(j *Job) error {
		if j.IsTerminal() {
			return ErrTerminal
		}
		return transition(j, to)
	})
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// ListByActor returns jobs where the user is poster, contractor, or
// router, newest first. The returned cursor is empty on the last page.
func (s *Service) ListByActor(ctx context.Context, userID string, limit int, cursorStr string) ([]*Job, string, error) {
	if limit <= 0 {
		limit = 50
	}
	cursor, err := pagination.Decode(cursorStr)
	if err != nil {
		return nil, "", err
	}

	// Fetch one extra row to detect whether another page exists.
	jobs, err := s.store.ListByActor(ctx, userID, limit+1, cursor)
	if err != nil {
		return nil, "", err
	}
	page, next, _ := pagination.ComputePage(jobs, limit, func(j *Job) (time.Time, string) {
		return j.CreatedAt, j.ID
	})
	return page, next, nil
}
