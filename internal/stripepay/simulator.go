package stripepay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/workstreet/jobledger/internal/idgen"
	"github.com/workstreet/jobledger/internal/payout"
)

// Simulator is an in-process stand-in for Stripe used in development
// mode. It honors idempotency keys the way Stripe does: replaying a key
// returns the original receipt without a second transfer.
type Simulator struct {
	mu       sync.Mutex
	receipts map[string]*payout.Receipt
	logger   *slog.Logger
}

func NewSimulator(logger *slog.Logger) *Simulator {
	return &Simulator{
		receipts: make(map[string]*payout.Receipt),
		logger:   logger,
	}
}

var _ payout.Provider = (*Simulator)(nil)

func (s *Simulator) ReleaseEscrow(ctx context.Context, order payout.ReleaseOrder) (*payout.Receipt, error) {
	return s.execute("tr_sim_", order.IdempotencyKey, order.AmountMinor)
}

func (s *Simulator) RefundEscrow(ctx context.Context, order payout.RefundOrder) (*payout.Receipt, error) {
	return s.execute("re_sim_", order.IdempotencyKey, order.AmountMinor)
}

func (s *Simulator) execute(refPrefix, idempotencyKey string, amountMinor int64) (*payout.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.receipts[idempotencyKey]; ok {
		return prior, nil
	}
	receipt := &payout.Receipt{Ref: refPrefix + idgen.Hex(12)}
	s.receipts[idempotencyKey] = receipt
	s.logger.Info("simulated money movement",
		"ref", receipt.Ref,
		"amount_minor", amountMinor,
		"idempotency_key", idempotencyKey)
	return receipt, nil
}
