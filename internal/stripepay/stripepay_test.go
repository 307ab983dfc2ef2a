package stripepay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stripe/stripe-go/v81"

	"github.com/workstreet/jobledger/internal/payout"
	"github.com/workstreet/jobledger/internal/retry"
)

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("nil should stay nil")
	}

	conn := &stripe.Error{Type: stripe.ErrorType("api_connection_error")}
	if err := classify(conn); err == nil || errors.As(err, new(*retry.PermanentError)) {
		t.Errorf("connection error should stay retryable, got %v", err)
	}

	for _, typ := range []stripe.ErrorType{
		stripe.ErrorTypeInvalidRequest,
		stripe.ErrorTypeCard,
		stripe.ErrorTypeIdempotency,
	} {
		err := classify(&stripe.Error{Type: typ})
		if !errors.As(err, new(*retry.PermanentError)) {
			t.Errorf("%s should be permanent, got %v", typ, err)
		}
	}
}

func TestSimulatorIdempotency(t *testing.T) {
	sim := NewSimulator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	order := payout.ReleaseOrder{
		IdempotencyKey: "rel_test_key_1",
		AmountMinor:    5000,
		Currency:       "usd",
		Destination:    "acct_sim",
	}
	first, err := sim.ReleaseEscrow(ctx, order)
	if err != nil {
		t.Fatal(err)
	}
	again, err := sim.ReleaseEscrow(ctx, order)
	if err != nil {
		t.Fatal(err)
	}
	if first.Ref != again.Ref {
		t.Errorf("replayed key produced a new transfer: %s vs %s", first.Ref, again.Ref)
	}

	other, err := sim.ReleaseEscrow(ctx, payout.ReleaseOrder{
		IdempotencyKey: "rel_test_key_2",
		AmountMinor:    5000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if other.Ref == first.Ref {
		t.Error("distinct keys shared a receipt")
	}
}

func TestSimulatorRefundSeparateKeySpace(t *testing.T) {
	sim := NewSimulator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	rel, err := sim.ReleaseEscrow(ctx, payout.ReleaseOrder{IdempotencyKey: "key_a"})
	if err != nil {
		t.Fatal(err)
	}
	ref, err := sim.RefundEscrow(ctx, payout.RefundOrder{IdempotencyKey: "key_a", ChargeID: "ch_1"})
	if err != nil {
		t.Fatal(err)
	}
	// Same key replays the same receipt regardless of operation, which
	// matches Stripe's account-wide idempotency key behavior.
	if rel.Ref != ref.Ref {
		t.Errorf("same idempotency key returned different receipts: %s vs %s", rel.Ref, ref.Ref)
	}
}
