package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/workstreet/jobledger/internal/idgen"
	"github.com/workstreet/jobledger/internal/job"
	"github.com/workstreet/jobledger/internal/lifecycle"
	"github.com/workstreet/jobledger/internal/metrics"
	"github.com/workstreet/jobledger/internal/syncutil"
	"github.com/workstreet/jobledger/internal/traces"
)

// Jobs is the slice of the job service the releaser needs.
type Jobs interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	MarkFundsReleased(ctx context.Context, id string) (*job.Job, error)
}

// Notifier receives post-release notifications. Calls happen after the
// job lock is dropped.
type Notifier interface {
	FundsReleased(ctx context.Context, r *Release)
}

// Release is the result of a fund-release call. AlreadyReleased is set
// when a prior call already moved the money; the rest of the fields
// then describe that prior release.
type Release struct {
	PayoutRequestID string     `json:"payoutRequestId"`
	JobID           string     `json:"jobId"`
	AmountMinor     int64      `json:"amountMinor"`
	Currency        string     `json:"currency"`
	ProviderRef     string     `json:"providerRef"`
	TriggeredBy     string     `json:"triggeredBy"`
	PaidAt          *time.Time `json:"paidAt,omitempty"`
	AlreadyReleased bool       `json:"alreadyReleased"`
}

// Releaser orchestrates fund releases.
type Releaser struct {
	jobs     Jobs
	store    Store
	provider Provider
	notifier Notifier
	locks    *syncutil.KeyedMutex
	lockWait time.Duration
	logger   *slog.Logger
}

// NewReleaser creates a release orchestrator. notifier may be nil.
func NewReleaser(jobs Jobs, store Store, provider Provider, notifier Notifier, lockWait time.Duration, logger *slog.Logger) *Releaser {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &Releaser{
		jobs:     jobs,
		store:    store,
		provider: provider,
		notifier: notifier,
		locks:    syncutil.NewKeyedMutex(),
		lockWait: lockWait,
		logger:   logger,
	}
}

// ReleaseFunds releases the escrowed funds for a job to its contractor.
//
// The call is idempotent: once a release succeeds, every later call for
// the same job returns the prior result with AlreadyReleased set. On
// any error the job and payout request are left exactly as they were;
// in particular a provider failure never strands a half-transitioned
// record.
func (r *Releaser) ReleaseFunds(ctx context.Context, jobID, actorID string) (*Release, error) {
	ctx, span := traces.StartSpan(ctx, "payout.ReleaseFunds", traces.JobID(jobID), traces.ActorID(actorID))
	defer span.End()

	lockCtx, cancel := context.WithTimeout(ctx, r.lockWait)
	lockStart := time.Now()
	unlock, err := r.locks.Lock(lockCtx, jobID)
	cancel()
	metrics.LockWaitDuration.Observe(time.Since(lockStart).Seconds())
	if err != nil {
		metrics.ReleasesTotal.WithLabelValues("busy").Inc()
		return nil, fmt.Errorf("%w: job %s", ErrBusy, jobID)
	}

	rel, err := r.releaseLocked(ctx, jobID, actorID)
	unlock()

	if err == nil && !rel.AlreadyReleased && r.notifier != nil {
		r.notifier.FundsReleased(ctx, rel)
	}
	return rel, err
}

// releaseLocked runs with the job's financial lock held.
func (r *Releaser) releaseLocked(ctx context.Context, jobID, actorID string) (*Release, error) {
	j, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			metrics.ReleasesTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}

	// A completed release reports idempotent success before any other
	// state check, so retries after success never surface as errors.
	if prior, err := r.store.GetByJob(ctx, jobID); err == nil && prior.State == lifecycle.PayoutPaid {
		metrics.ReleasesTotal.WithLabelValues("duplicate").Inc()
		return priorRelease(prior), nil
	} else if err != nil && !errors.Is(err, ErrRequestNotFound) {
		return nil, err
	}

	if !j.ReadyForRelease() {
		metrics.ReleasesTotal.WithLabelValues("not_ready").Inc()
		return nil, fmt.Errorf("%w: job %s in state %s", ErrNotReady, jobID, j.State)
	}
	if err := lifecycle.Assert(lifecycle.KindJob, j.State, lifecycle.JobFundsReleased); err != nil {
		metrics.ReleasesTotal.WithLabelValues("illegal").Inc()
		return nil, err
	}

	req, err := r.ensureRequest(ctx, j, actorID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Assert(lifecycle.KindPayout, req.State, lifecycle.PayoutPaid); err != nil {
		metrics.ReleasesTotal.WithLabelValues("illegal").Inc()
		return nil, err
	}
	traces.SetAttributes(ctx, traces.PayoutRequestID(req.ID), traces.AmountMinor(req.AmountMinor))

	// The provider call is shielded from local cancellation: once the
	// order is on the wire, abandoning it locally would lose track of
	// whether money moved. The idempotency key makes a retry safe
	// either way.
	receipt, err := r.callProvider(context.WithoutCancel(ctx), j, req, actorID)
	if err != nil {
		metrics.ReleasesTotal.WithLabelValues("provider_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	now := time.Now()
	req.State = lifecycle.PayoutPaid
	req.ProviderRef = receipt.Ref
	req.PaidAt = &now
	req.UpdatedAt = now
	if err := r.store.Update(ctx, req); err != nil {
		// Money moved but the record didn't stick. The next call
		// replays the same idempotency key, so the provider will
		// deduplicate; still worth a loud log.
		r.logger.Error("CRITICAL: payout paid but request update failed",
			"payout_request_id", req.ID, "job_id", jobID, "provider_ref", receipt.Ref, "error", err)
		return nil, fmt.Errorf("record payout: %w", err)
	}

	if _, err := r.jobs.MarkFundsReleased(ctx, jobID); err != nil {
		r.logger.Error("CRITICAL: funds released but job transition failed",
			"payout_request_id", req.ID, "job_id", jobID, "error", err)
		return nil, fmt.Errorf("advance job after payout: %w", err)
	}

	metrics.ReleasesTotal.WithLabelValues("released").Inc()
	r.logger.Info("funds released",
		"job_id", jobID,
		"payout_request_id", req.ID,
		"amount_minor", req.AmountMinor,
		"currency", req.Currency,
		"provider_ref", receipt.Ref,
		"triggered_by", actorID)

	return &Release{
		PayoutRequestID: req.ID,
		JobID:           jobID,
		AmountMinor:     req.AmountMinor,
		Currency:        req.Currency,
		ProviderRef:     receipt.Ref,
		TriggeredBy:     req.TriggeredBy,
		PaidAt:          req.PaidAt,
	}, nil
}

// ensureRequest returns the job's open payout request, creating one the
// first time the release preconditions are satisfied.
func (r *Releaser) ensureRequest(ctx context.Context, j *job.Job, actorID string) (*Request, error) {
	req, err := r.store.GetByJob(ctx, j.ID)
	if err == nil && req.State == lifecycle.PayoutRequested {
		return req, nil
	}
	if err != nil && !errors.Is(err, ErrRequestNotFound) {
		return nil, err
	}
	// Either no request exists or the latest one was cancelled.
	now := time.Now()
	req = &Request{
		ID:          idgen.WithPrefix("po_"),
		JobID:       j.ID,
		State:       lifecycle.PayoutRequested,
		AmountMinor: j.AmountMinor,
		Currency:    j.Currency,
		Destination: j.PayoutDestination,
		TriggeredBy: actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	req.IdempotencyKey = ReleaseKey(req.ID)
	if err := r.store.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *Releaser) callProvider(ctx context.Context, j *job.Job, req *Request, actorID string) (*Receipt, error) {
	start := time.Now()
	receipt, err := r.provider.ReleaseEscrow(ctx, ReleaseOrder{
		IdempotencyKey: req.IdempotencyKey,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Destination:    req.Destination,
		Metadata:       releaseMetadata(j, req, actorID),
	})
	metrics.ProviderCallDuration.WithLabelValues("release").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("release", "error").Inc()
		return nil, err
	}
	metrics.ProviderCallsTotal.WithLabelValues("release", "ok").Inc()
	return receipt, nil
}

func releaseMetadata(j *job.Job, req *Request, actorID string) map[string]string {
	return map[string]string{
		"jobId":           j.ID,
		"payoutRequestId": req.ID,
		"posterId":        j.PosterID,
		// jobPosterUserId duplicates posterId. External consumers
		// still parse the old name; keep both until they migrate.
		"jobPosterUserId": j.PosterID,
		"contractorId":    j.ContractorID,
		"releasedBy":      actorID,
	}
}

func priorRelease(req *Request) *Release {
	return &Release{
		PayoutRequestID: req.ID,
		JobID:           req.JobID,
		AmountMinor:     req.AmountMinor,
		Currency:        req.Currency,
		ProviderRef:     req.ProviderRef,
		TriggeredBy:     req.TriggeredBy,
		PaidAt:          req.PaidAt,
		AlreadyReleased: true,
	}
}

// Get returns a payout request by ID.
func (r *Releaser) Get(ctx context.Context, id string) (*Request, error) {
	return r.store.Get(ctx, id)
}

// GetByJob returns the most recent payout request for a job.
func (r *Releaser) GetByJob(ctx context.Context, jobID string) (*Request, error) {
	return r.store.GetByJob(ctx, jobID)
}

// Cancel marks an unpaid payout request as cancelled. Paid requests are
// immutable.
func (r *Releaser) Cancel(ctx context.Context, id string) (*Request, error) {
	unlockByReq := func(jobID string) (func(), error) {
		lockCtx, cancel := context.WithTimeout(ctx, r.lockWait)
		defer cancel()
		return r.locks.Lock(lockCtx, jobID)
	}

	req, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := unlockByReq(req.JobID)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s", ErrBusy, req.JobID)
	}
	defer unlock()

	req, err = r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Assert(lifecycle.KindPayout, req.State, lifecycle.PayoutCancelled); err != nil {
		return nil, err
	}
	req.State = lifecycle.PayoutCancelled
	req.UpdatedAt = time.Now()
	if err := r.store.Update(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}
