// Package payout moves escrowed funds to contractors exactly once.
//
// The release path is the money-critical section of the platform: a
// payout request row tracks each release attempt, a deterministic
// idempotency key shields the provider call against duplicates, and a
// per-job lock with a bounded wait keeps concurrent triggers from
// racing each other.
package payout

import (
	"context"
	"errors"
	"time"

	"github.com/workstreet/jobledger/internal/lifecycle"
)

var (
	// ErrNotReady means one or more completion approvals are missing.
	ErrNotReady = errors.New("payout: job not ready for release")
	// ErrBusy means the job's financial record is locked by another
	// release attempt and the bounded wait expired.
	ErrBusy = errors.New("payout: job financial record is busy")
	// ErrProvider wraps a failed payment provider call. Local state is
	// left unchanged when it is returned.
	ErrProvider = errors.New("payout: payment provider call failed")
	// ErrRequestNotFound means no payout request exists with that ID.
	ErrRequestNotFound = errors.New("payout: request not found")
)

// Request is a durable record of a fund-release attempt for a job.
type Request struct {
	ID             string          `json:"id"`
	JobID          string          `json:"jobId"`
	State          lifecycle.State `json:"state"`
	AmountMinor    int64           `json:"amountMinor"`
	Currency       string          `json:"currency"`
	Destination    string          `json:"destination"`
	IdempotencyKey string          `json:"idempotencyKey"`
	ProviderRef    string          `json:"providerRef,omitempty"`
	TriggeredBy    string          `json:"triggeredBy"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
}

// Store persists payout requests.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// GetByJob returns the most recent payout request for a job, or
	// ErrRequestNotFound when none exists.
	GetByJob(ctx context.Context, jobID string) (*Request, error)
	Update(ctx context.Context, r *Request) error
	ListByState(ctx context.Context, state lifecycle.State, limit int) ([]*Request, error)
}

// ReleaseOrder is the instruction handed to the payment provider to
// move escrowed funds to a contractor.
type ReleaseOrder struct {
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
	Destination    string
	Metadata       map[string]string
}

// RefundOrder reverses an escrow charge back to the customer.
type RefundOrder struct {
	IdempotencyKey string
	ChargeID       string
	AmountMinor    int64
	Metadata       map[string]string
}

// Receipt is the provider's confirmation of a money movement.
type Receipt struct {
	Ref string
}

// Provider is the external payment service. Implementations must honor
// the idempotency key: replaying an order with the same key must not
// move money twice.
type Provider interface {
	ReleaseEscrow(ctx context.Context, order ReleaseOrder) (*Receipt, error)
	RefundEscrow(ctx context.Context, order RefundOrder) (*Receipt, error)
}
