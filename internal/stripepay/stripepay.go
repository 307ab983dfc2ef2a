// Package stripepay implements the payout.Provider interface on Stripe.
//
// Escrow releases become Transfers to the contractor's connected
// account; refunds reverse the original escrow charge. Every call
// carries the caller-supplied idempotency key, so Stripe deduplicates
// replays server-side.
package stripepay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/workstreet/jobledger/internal/payout"
	"github.com/workstreet/jobledger/internal/retry"
)

const (
	maxAttempts = 3
	baseDelay   = 250 * time.Millisecond
)

// Client is a Stripe-backed payment provider.
type Client struct {
	api    *client.API
	logger *slog.Logger
}

// New creates a Stripe client with its own API instance so the global
// stripe key is never touched.
func New(apiKey string, logger *slog.Logger) *Client {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Client{api: api, logger: logger}
}

var _ payout.Provider = (*Client)(nil)

// ReleaseEscrow transfers escrowed funds to the contractor's connected
// account. Transport-level failures are retried; the idempotency key
// guarantees at-most-one transfer across retries.
func (c *Client) ReleaseEscrow(ctx context.Context, order payout.ReleaseOrder) (*payout.Receipt, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(order.AmountMinor),
		Currency:    stripe.String(order.Currency),
		Destination: stripe.String(order.Destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey(order.IdempotencyKey)
	for k, v := range order.Metadata {
		params.AddMetadata(k, v)
	}

	var transfer *stripe.Transfer
	err := retry.Do(ctx, maxAttempts, baseDelay, func() error {
		var callErr error
		transfer, callErr = c.api.Transfers.New(params)
		return classify(callErr)
	})
	if err != nil {
		c.logger.Error("stripe transfer failed",
			"idempotency_key", order.IdempotencyKey,
			"destination", order.Destination,
			"error", err)
		return nil, fmt.Errorf("stripe transfer: %w", err)
	}

	c.logger.Info("stripe transfer created",
		"transfer_id", transfer.ID,
		"amount_minor", order.AmountMinor,
		"currency", order.Currency)
	return &payout.Receipt{Ref: transfer.ID}, nil
}

// RefundEscrow refunds the original escrow charge back to the customer.
func (c *Client) RefundEscrow(ctx context.Context, order payout.RefundOrder) (*payout.Receipt, error) {
	params := &stripe.RefundParams{
		Charge: stripe.String(order.ChargeID),
		Amount: stripe.Int64(order.AmountMinor),
	}
	params.Context = ctx
	params.SetIdempotencyKey(order.IdempotencyKey)
	for k, v := range order.Metadata {
		params.AddMetadata(k, v)
	}

	var refund *stripe.Refund
	err := retry.Do(ctx, maxAttempts, baseDelay, func() error {
		var callErr error
		refund, callErr = c.api.Refunds.New(params)
		return classify(callErr)
	})
	if err != nil {
		c.logger.Error("stripe refund failed",
			"idempotency_key", order.IdempotencyKey,
			"charge_id", order.ChargeID,
			"error", err)
		return nil, fmt.Errorf("stripe refund: %w", err)
	}

	c.logger.Info("stripe refund created",
		"refund_id", refund.ID,
		"amount_minor", order.AmountMinor)
	return &payout.Receipt{Ref: refund.ID}, nil
}

// classify marks non-retryable Stripe errors permanent so retry.Do
// stops immediately. Connection and rate-limit errors stay retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeCard, stripe.ErrorTypeIdempotency:
			return retry.Permanent(err)
		}
	}
	return err
}
