package server

import (
	"context"
	"time"

	"github.com/workstreet/jobledger/internal/dispute"
	"github.com/workstreet/jobledger/internal/job"
	"github.com/workstreet/jobledger/internal/payout"
	"github.com/workstreet/jobledger/internal/realtime"
	"github.com/workstreet/jobledger/internal/webhooks"
)

// fanoutNotifier forwards lifecycle events to webhook subscribers and
// to connected WebSocket clients.
type fanoutNotifier struct {
	emitter *webhooks.Emitter
	hub     *realtime.Hub
}

var (
	_ payout.Notifier  = (*fanoutNotifier)(nil)
	_ dispute.Notifier = (*fanoutNotifier)(nil)
	_ job.Notifier     = (*fanoutNotifier)(nil)
)

func (n *fanoutNotifier) JobAccepted(ctx context.Context, j *job.Job) {
	n.emitter.JobAccepted(ctx, j)
	n.hub.BroadcastJobUpdate(map[string]interface{}{
		"jobId":        j.ID,
		"state":        string(j.State),
		"posterId":     j.PosterID,
		"contractorId": j.ContractorID,
		"amountMinor":  j.AmountMinor,
		"currency":     j.Currency,
	})
}

func (n *fanoutNotifier) FundsReleased(ctx context.Context, r *payout.Release) {
	n.emitter.FundsReleased(ctx, r)
	n.hub.BroadcastPayout(map[string]interface{}{
		"jobId":           r.JobID,
		"payoutRequestId": r.PayoutRequestID,
		"amountMinor":     r.AmountMinor,
		"currency":        r.Currency,
		"providerRef":     r.ProviderRef,
	})
}

func (n *fanoutNotifier) DisputeOpened(ctx context.Context, c *dispute.Case) {
	n.emitter.DisputeOpened(ctx, c)
	n.hub.Broadcast(&realtime.Event{
		Type:      realtime.EventDispute,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"disputeId":   c.ID,
			"jobId":       c.JobID,
			"state":       string(c.State),
			"slaDeadline": c.SLADeadline,
		},
	})
}

func (n *fanoutNotifier) SLABreached(ctx context.Context, c *dispute.Case) {
	n.emitter.SLABreached(ctx, c)
	n.hub.Broadcast(&realtime.Event{
		Type:      realtime.EventSLABreach,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"disputeId":   c.ID,
			"jobId":       c.JobID,
			"slaDeadline": c.SLADeadline,
		},
	})
}

func (n *fanoutNotifier) EnforcementExecuted(ctx context.Context, c *dispute.Case, a *dispute.Action) {
	n.emitter.EnforcementExecuted(ctx, c, a)
	n.hub.Broadcast(&realtime.Event{
		Type:      realtime.EventDispute,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"disputeId": c.ID,
			"jobId":     c.JobID,
			"actionId":  a.ID,
			"kind":      string(a.Kind),
		},
	})
}
