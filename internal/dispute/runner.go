package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/workstreet/jobledger/internal/lifecycle"
	"github.com/workstreet/jobledger/internal/metrics"
	"github.com/workstreet/jobledger/internal/payout"
	"github.com/workstreet/jobledger/internal/traces"
)

// Financial is the slice of the payout engine the runner needs.
type Financial interface {
	ReleaseFunds(ctx context.Context, jobID, actorID string) (*payout.Release, error)
}

// Runner executes pending enforcement actions against the lifecycle
// engine.
type Runner struct {
	store     Store
	jobs      Jobs
	financial Financial
	provider  payout.Provider
	notifier  Notifier
	logger    *slog.Logger
}

// NewRunner creates an enforcement runner. notifier may be nil.
func NewRunner(store Store, jobs Jobs, financial Financial, provider payout.Provider, notifier Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		store:     store,
		jobs:      jobs,
		financial: financial,
		provider:  provider,
		notifier:  notifier,
		logger:    logger,
	}
}

// ActionOutcome describes one action's result within a batch.
type ActionOutcome struct {
	ActionID string     `json:"actionId"`
	Kind     ActionKind `json:"kind"`
	Reason   string     `json:"reason,omitempty"`
}

// ExecutionReport is the envelope returned by an enforcement run.
// Partial failure is a normal result, not an error.
type ExecutionReport struct {
	CaseID   string          `json:"caseId"`
	Executed []ActionOutcome `json:"executed"`
	Failed   []ActionOutcome `json:"failed"`
}

// ExecutePendingActions runs a case's pending enforcement actions in
// insertion order. Each action is attempted independently: a failure is
// recorded and the batch continues, so one bad action never blocks the
// rest. Already-executed actions are skipped, which makes re-running
// after a partial failure safe.
func (r *Runner) ExecutePendingActions(ctx context.Context, caseID, actorID string) (*ExecutionReport, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.ExecutePendingActions",
		traces.DisputeID(caseID), traces.ActorID(actorID))
	defer span.End()

	c, err := r.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	actions, err := r.store.ListActions(ctx, caseID)
	if err != nil {
		return nil, err
	}

	report := &ExecutionReport{
		CaseID:   caseID,
		Executed: []ActionOutcome{},
		Failed:   []ActionOutcome{},
	}
	for _, a := range actions {
		if !a.Pending() {
			continue
		}

		if err := r.execute(ctx, c, a, actorID); err != nil {
			metrics.EnforcementActionsTotal.WithLabelValues(string(a.Kind), "failed").Inc()
			r.logger.Warn("enforcement action failed",
				"case_id", caseID, "action_id", a.ID, "kind", a.Kind, "error", err)
			if storeErr := r.store.RecordActionFailure(ctx, a.ID, err.Error()); storeErr != nil {
				r.logger.Error("failed to record action failure", "action_id", a.ID, "error", storeErr)
			}
			report.Failed = append(report.Failed, ActionOutcome{
				ActionID: a.ID, Kind: a.Kind, Reason: err.Error(),
			})
			continue
		}

		// The external effect is confirmed; only now is the action
		// consumed.
		now := time.Now()
		if err := r.store.MarkActionExecuted(ctx, a.ID, now); err != nil {
			r.logger.Error("CRITICAL: action effect applied but not marked executed",
				"case_id", caseID, "action_id", a.ID, "error", err)
			report.Failed = append(report.Failed, ActionOutcome{
				ActionID: a.ID, Kind: a.Kind, Reason: "effect applied, record failed: " + err.Error(),
			})
			continue
		}
		metrics.EnforcementActionsTotal.WithLabelValues(string(a.Kind), "executed").Inc()
		r.logger.Info("enforcement action executed",
			"case_id", caseID, "action_id", a.ID, "kind", a.Kind, "actor", actorID)
		report.Executed = append(report.Executed, ActionOutcome{ActionID: a.ID, Kind: a.Kind})
		if r.notifier != nil {
			r.notifier.EnforcementExecuted(ctx, c, a)
		}
	}
	return report, nil
}

func (r *Runner) execute(ctx context.Context, c *Case, a *Action, actorID string) error {
	switch a.Kind {
	case ActionRefund:
		return r.refund(ctx, c, a)
	case ActionForceTransition:
		return r.forceTransition(ctx, c, a, actorID)
	case ActionNotify, ActionSLABreachNotice:
		if r.notifier != nil && a.Kind == ActionSLABreachNotice {
			r.notifier.SLABreached(ctx, c)
		}
		return nil
	default:
		return fmt.Errorf("unknown enforcement action kind %q", a.Kind)
	}
}

// refund reverses the escrow charge and moves the job to REFUNDED. The
// refund key is derived from the action ID, so a retried action replays
// the same key and the provider deduplicates.
func (r *Runner) refund(ctx context.Context, c *Case, a *Action) error {
	j, err := r.jobs.Get(ctx, c.JobID)
	if err != nil {
		return err
	}
	if j.EscrowChargeID == "" {
		return fmt.Errorf("job %s has no escrow charge to refund", j.ID)
	}

	amount := a.AmountMinor
	if amount <= 0 {
		amount = j.AmountMinor
	}

	// Not locally cancellable once issued, same contract as releases.
	_, err = r.provider.RefundEscrow(context.WithoutCancel(ctx), payout.RefundOrder{
		IdempotencyKey: payout.RefundKey(a.ID),
		ChargeID:       j.EscrowChargeID,
		AmountMinor:    amount,
		Metadata: map[string]string{
			"jobId":         j.ID,
			"disputeCaseId": c.ID,
			"actionId":      a.ID,
			"posterId":      j.PosterID,
			// Deprecated duplicate still read by webhook consumers.
			"jobPosterUserId": j.PosterID,
		},
	})
	if err != nil {
		return fmt.Errorf("provider refund: %w", err)
	}

	if _, err := r.jobs.ForceTransition(ctx, c.JobID, lifecycle.JobRefunded); err != nil {
		// Money already moved back; the provider call is the point of
		// record. Surface loudly but do not fail the action.
		r.logger.Error("CRITICAL: refund sent but job transition failed",
			"case_id", c.ID, "job_id", c.JobID, "error", err)
	}
	return nil
}

func (r *Runner) forceTransition(ctx context.Context, c *Case, a *Action, actorID string) error {
	if a.TargetState == "" {
		return fmt.Errorf("force_transition action %s has no target state", a.ID)
	}
	// Releasing funds is never a bare state flip; it goes through the
	// orchestrator so the exactly-once payment contract holds.
	if a.TargetState == lifecycle.JobFundsReleased {
		_, err := r.financial.ReleaseFunds(ctx, c.JobID, actorID)
		return err
	}
	_, err := r.jobs.ForceTransition(ctx, c.JobID, a.TargetState)
	return err
}
