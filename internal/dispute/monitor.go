package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/workstreet/jobledger/internal/idgen"
	"github.com/workstreet/jobledger/internal/metrics"
	"github.com/workstreet/jobledger/internal/traces"
)

const (
	defaultMonitorTake = 200
	maxMonitorTake     = 1000
)

// MonitorReport summarizes one SLA monitor pass.
type MonitorReport struct {
	Scanned  int `json:"scanned"`
	Breached int `json:"breached"`
}

// BreachMarker derives the idempotency marker for a breach of a given
// case in a given deadline window. Re-detecting the same breach yields
// the same marker, so a second monitor pass appends nothing.
func BreachMarker(caseID string, deadline time.Time) string {
	return fmt.Sprintf("sla:%s:%d", caseID, deadline.Unix())
}

// RunSLAMonitor scans at most take non-terminal cases whose SLA
// deadline has elapsed, in ascending deadline order, and appends one
// breach-consequence action per case per breach window. Detection is
// decoupled from execution: the appended actions wait for the
// enforcement runner.
func (s *Service) RunSLAMonitor(ctx context.Context, take int) (*MonitorReport, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.RunSLAMonitor")
	defer span.End()

	if take <= 0 {
		take = defaultMonitorTake
	}
	if take > maxMonitorTake {
		take = maxMonitorTake
	}

	cases, err := s.store.ListBreached(ctx, time.Now(), take)
	if err != nil {
		return nil, fmt.Errorf("list breached cases: %w", err)
	}

	report := &MonitorReport{Scanned: len(cases)}
	for _, c := range cases {
		a := &Action{
			ID:        idgen.WithPrefix("act_"),
			CaseID:    c.ID,
			Kind:      ActionSLABreachNotice,
			Message:   fmt.Sprintf("SLA deadline %s elapsed", c.SLADeadline.Format(time.RFC3339)),
			Marker:    BreachMarker(c.ID, c.SLADeadline),
			CreatedAt: time.Now(),
		}
		err := s.store.AppendAction(ctx, a)
		if errors.Is(err, ErrDuplicateMarker) {
			// Already detected in this breach window.
			continue
		}
		if err != nil {
			s.logger.Warn("failed to append breach action",
				"case_id", c.ID, "error", err)
			continue
		}
		report.Breached++
		metrics.SLABreachesDetectedTotal.Inc()
		s.logger.Info("SLA breach detected",
			"case_id", c.ID, "job_id", c.JobID, "deadline", c.SLADeadline)
	}
	return report, nil
}
