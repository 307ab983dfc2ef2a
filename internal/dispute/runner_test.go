package dispute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/workstreet/jobledger/internal/job"
	"github.com/workstreet/jobledger/internal/lifecycle"
	"github.com/workstreet/jobledger/internal/payout"
)

type stubProvider struct {
	mu      sync.Mutex
	refunds []payout.RefundOrder
	fail    error
}

func (p *stubProvider) ReleaseEscrow(ctx context.Context, order payout.ReleaseOrder) (*payout.Receipt, error) {
	return &payout.Receipt{Ref: "tr_stub"}, nil
}

func (p *stubProvider) RefundEscrow(ctx context.Context, order payout.RefundOrder) (*payout.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return nil, p.fail
	}
	p.refunds = append(p.refunds, order)
	return &payout.Receipt{Ref: fmt.Sprintf("re_stub_%d", len(p.refunds))}, nil
}

type stubFinancial struct {
	mu       sync.Mutex
	releases []string
	fail     error
}

func (f *stubFinancial) ReleaseFunds(ctx context.Context, jobID, actorID string) (*payout.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.releases = append(f.releases, jobID)
	return &payout.Release{JobID: jobID}, nil
}

type orderNotifier struct {
	mu       sync.Mutex
	executed []string
}

func (n *orderNotifier) DisputeOpened(ctx context.Context, c *Case) {}
func (n *orderNotifier) SLABreached(ctx context.Context, c *Case) {}
func (n *orderNotifier) EnforcementExecuted(ctx context.Context, c *Case, a *Action) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.executed = append(n.executed, a.ID)
}

type runnerFixture struct {
	jobs      *job.Service
	store     *MemoryStore
	svc       *Service
	provider  *stubProvider
	financial *stubFinancial
	notifier  *orderNotifier
	runner    *Runner
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		jobs:      newJobService(),
		store:     NewMemoryStore(),
		provider:  &stubProvider{},
		financial: &stubFinancial{},
		notifier:  &orderNotifier{},
	}
	logger := discardLogger()
	f.svc = NewService(f.store, f.jobs, f.notifier, time.Hour, logger)
	f.runner = NewRunner(f.store, f.jobs, f.financial, f.provider, f.notifier, logger)
	return f
}

func (f *runnerFixture) openCase(t *testing.T) (*job.Job, *Case) {
	t.Helper()
	j := acceptedJob(t, f.jobs)
	c, err := f.svc.File(context.Background(), FileRequest{
		JobID: j.ID, FiledBy: "user_poster", Reason: "incomplete work",
	})
	if err != nil {
		t.Fatal(err)
	}
	return j, c
}

func TestExecutePendingActions_RefundFlow(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	j, c := f.openCase(t)

	a, err := f.svc.AppendEnforcement(ctx, c.ID, AppendActionRequest{Kind: ActionRefund})
	if err != nil {
		t.Fatal(err)
	}

	report, err := f.runner.ExecutePendingActions(ctx, c.ID, "user_admin")
	if err != nil {
		t.Fatalf("ExecutePendingActions: %v", err)
	}
	if len(report.Executed) != 1 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}

	if len(f.provider.refunds) != 1 {
		t.Fatalf("refund calls = %d, want 1", len(f.provider.refunds))
	}
	order := f.provider.refunds[0]
	if order.ChargeID != "ch_dsp_1" || order.AmountMinor != 60000 {
		t.Errorf("refund order = %+v", order)
	}
	if order.IdempotencyKey != payout.RefundKey(a.ID) {
		t.Errorf("idempotency key = %s, want derived from action ID", order.IdempotencyKey)
	}
	if order.Metadata["jobPosterUserId"] != "user_poster" || order.Metadata["posterId"] != "user_poster" {
		t.Errorf("metadata missing legacy poster fields: %v", order.Metadata)
	}

	got, _ := f.jobs.Get(ctx, j.ID)
	if got.State != lifecycle.JobRefunded {
		t.Errorf("job state = %s, want %s", got.State, lifecycle.JobRefunded)
	}
}

func TestExecutePendingActions_PartialFailureIsolation(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	_, c := f.openCase(t)

	first, err := f.svc.AppendEnforcement(ctx, c.ID, AppendActionRequest{Kind: ActionNotify, Message: "first"})
	if err != nil {
		t.Fatal(err)
	}
	// The middle action targets funds release, and the financial engine
	// is rigged to fail.
	f.financial.fail = errors.New("provider down")
	second, err := f.svc.AppendEnforcement(ctx, c.ID, AppendActionRequest{
		Kind: ActionForceTransition, TargetState: lifecycle.JobFundsReleased,
	})
	if err != nil {
		t.Fatal(err)
	}
	third, err := f.svc.AppendEnforcement(ctx, c.ID, AppendActionRequest{Kind: ActionNotify, Message: "third"})
	if err != nil {
		t.Fatal(err)
	}

	report, err := f.runner.ExecutePendingActions(ctx, c.ID, "user_admin")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Executed) != 2 || len(report.Failed) != 1 {
		t.Fatalf("report = %+v, want 2 executed / 1 failed", report)
	}
	if report.Executed[0].ActionID != first.ID || report.Executed[1].ActionID != third.ID {
		t.Errorf("executed order = %+v", report.Executed)
	}
	if report.Failed[0].ActionID != second.ID || report.Failed[0].Reason == "" {
		t.Errorf("failed = %+v", report.Failed)
	}

	// Re-run skips everything already executed and retries only the
	// failed action; with the engine healthy it now succeeds.
	f.financial.fail = nil
	rerun, err := f.runner.ExecutePendingActions(ctx, c.ID, "user_admin")
	if err != nil {
		t.Fatal(err)
	}
	if len(rerun.Executed) != 1 || rerun.Executed[0].ActionID != second.ID {
		t.Errorf("rerun executed = %+v, want only the failed action", rerun.Executed)
	}
	if len(rerun.Failed) != 0 {
		t.Errorf("rerun failed = %+v", rerun.Failed)
	}
	if len(f.financial.releases) != 1 {
		t.Errorf("release calls = %d, want 1", len(f.financial.releases))
	}
}

func TestExecutePendingActions_InsertionOrder(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	_, c := f.openCase(t)

	var ids []string
	for i := 0; i < 5; i++ {
		a, err := f.svc.AppendEnforcement(ctx, c.ID, AppendActionRequest{
			Kind: ActionNotify, Message: fmt.Sprintf("step %d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, a.ID)
	}

	if _, err := f.runner.ExecutePendingActions(ctx, c.ID, "user_admin"); err != nil {
		t.Fatal(err)
	}

	if len(f.notifier.executed) != len(ids) {
		t.Fatalf("executed = %d, want %d", len(f.notifier.executed), len(ids))
	}
	for i, id := range ids {
		if f.notifier.executed[i] != id {
			t.Errorf("position %d: executed %s, want %s", i, f.notifier.executed[i], id)
		}
	}
}

func TestExecutePendingActions_CaseNotFound(t *testing.T) {
	f := newRunnerFixture(t)
	if _, err := f.runner.ExecutePendingActions(context.Background(), "dsp_missing", "user_admin"); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("err = %v, want ErrCaseNotFound", err)
	}
}

func TestExecutePendingActions_EmptyBatch(t *testing.T) {
	f := newRunnerFixture(t)
	_, c := f.openCase(t)

	report, err := f.runner.ExecutePendingActions(context.Background(), c.ID, "user_admin")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Executed) != 0 || len(report.Failed) != 0 {
		t.Errorf("report = %+v, want empty envelope", report)
	}
}

func TestSLABreachActionExecutesAsNotice(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	_, c := f.openCase(t)

	// Breach the case and let the monitor append the consequence.
	c.SLADeadline = time.Now().Add(-time.Minute)
	if err := f.store.UpdateCase(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RunSLAMonitor(ctx, 0); err != nil {
		t.Fatal(err)
	}

	report, err := f.runner.ExecutePendingActions(ctx, c.ID, "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Executed) != 1 || report.Executed[0].Kind != ActionSLABreachNotice {
		t.Fatalf("report = %+v", report)
	}

	// The consumed marker still blocks re-detection of the same window.
	if _, err := f.svc.RunSLAMonitor(ctx, 0); err != nil {
		t.Fatal(err)
	}
	actions, _ := f.store.ListActions(ctx, c.ID)
	if len(actions) != 1 {
		t.Errorf("actions = %d after post-consumption monitor pass, want 1", len(actions))
	}
}
