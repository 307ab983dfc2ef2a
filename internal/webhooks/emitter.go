package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/workstreet/jobledger/internal/dispute"
	"github.com/workstreet/jobledger/internal/idgen"
	"github.com/workstreet/jobledger/internal/job"
	"github.com/workstreet/jobledger/internal/payout"
)

// JobLookup resolves jobs so event payloads can carry party IDs.
type JobLookup interface {
	Get(ctx context.Context, id string) (*job.Job, error)
}

// Emitter wraps a Dispatcher to emit lifecycle events across
// subsystems. All methods are fire-and-forget: errors are logged but
// never returned. It satisfies payout.Notifier and dispute.Notifier.
type Emitter struct {
	d      *Dispatcher
	jobs   JobLookup
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, jobs JobLookup, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, jobs: jobs, logger: logger}
}

var (
	_ payout.Notifier  = (*Emitter)(nil)
	_ dispute.Notifier = (*Emitter)(nil)
)

func (e *Emitter) emit(ctx context.Context, userID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := e.d.DispatchToUser(ctx, userID, event); err != nil {
		e.logger.Warn("webhook emit failed", "event", eventType, "user", userID, "error", err)
	}
}

// lookupJob fetches party IDs for a payload; missing jobs degrade to an
// empty record rather than dropping the event.
func (e *Emitter) lookupJob(ctx context.Context, jobID string) *job.Job {
	if e.jobs == nil {
		return &job.Job{ID: jobID}
	}
	j, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		e.logger.Warn("webhook job lookup failed", "job_id", jobID, "error", err)
		return &job.Job{ID: jobID}
	}
	return j
}

// FundsReleased emits job.funds_released to the poster and payout.paid
// to the contractor.
func (e *Emitter) FundsReleased(ctx context.Context, r *payout.Release) {
	j := e.lookupJob(ctx, r.JobID)

	e.emit(ctx, j.PosterID, EventJobFundsReleased, map[string]interface{}{
		"jobId":           r.JobID,
		"payoutRequestId": r.PayoutRequestID,
		"amountMinor":     r.AmountMinor,
		"currency":        r.Currency,
		"posterId":        j.PosterID,
		// Deprecated duplicate of posterId; existing consumers still
		// parse this name.
		"jobPosterUserId": j.PosterID,
		"releasedBy":      r.TriggeredBy,
	})
	e.emit(ctx, j.ContractorID, EventPayoutPaid, map[string]interface{}{
		"jobId":           r.JobID,
		"payoutRequestId": r.PayoutRequestID,
		"amountMinor":     r.AmountMinor,
		"currency":        r.Currency,
		"providerRef":     r.ProviderRef,
		"contractorId":    j.ContractorID,
	})
}

// DisputeOpened emits dispute.opened to the non-filing parties.
func (e *Emitter) DisputeOpened(ctx context.Context, c *dispute.Case) {
	j := e.lookupJob(ctx, c.JobID)

	data := map[string]interface{}{
		"disputeCaseId": c.ID,
		"jobId":         c.JobID,
		"filedBy":       c.FiledBy,
		"reason":        c.Reason,
		"slaDeadline":   c.SLADeadline,
		"posterId":      j.PosterID,
		// Deprecated duplicate of posterId, kept for old parsers.
		"jobPosterUserId": j.PosterID,
	}
	for _, party := range []string{j.PosterID, j.ContractorID, j.RouterID} {
		if party != "" && party != c.FiledBy {
			e.emit(ctx, party, EventDisputeOpened, data)
		}
	}
}

// SLABreached emits dispute.sla_breached to the filing party.
func (e *Emitter) SLABreached(ctx context.Context, c *dispute.Case) {
	e.emit(ctx, c.FiledBy, EventDisputeSLABreached, map[string]interface{}{
		"disputeCaseId": c.ID,
		"jobId":         c.JobID,
		"slaDeadline":   c.SLADeadline,
	})
}

// EnforcementExecuted emits dispute.enforcement_executed to the filing
// party.
func (e *Emitter) EnforcementExecuted(ctx context.Context, c *dispute.Case, a *dispute.Action) {
	e.emit(ctx, c.FiledBy, EventEnforcementExecuted, map[string]interface{}{
		"disputeCaseId": c.ID,
		"jobId":         c.JobID,
		"actionId":      a.ID,
		"kind":          string(a.Kind),
	})
}

// JobAccepted emits job.accepted to the poster.
func (e *Emitter) JobAccepted(ctx context.Context, j *job.Job) {
	e.emit(ctx, j.PosterID, EventJobAccepted, map[string]interface{}{
		"jobId":        j.ID,
		"posterId":     j.PosterID,
		"contractorId": j.ContractorID,
		"amountMinor":  j.AmountMinor,
		"currency":     j.Currency,
		// Deprecated duplicate of posterId, kept for old parsers.
		"jobPosterUserId": j.PosterID,
	})
}
