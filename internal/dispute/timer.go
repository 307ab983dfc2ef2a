package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically runs the SLA breach monitor.
type Timer struct {
	service  *Service
	interval time.Duration
	take     int
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a background SLA monitor loop.
func NewTimer(service *Service, interval time.Duration, take int, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Timer{
		service:  service,
		interval: interval,
		take:     take,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the monitor loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in SLA monitor timer", "panic", fmt.Sprint(r))
		}
	}()

	report, err := t.service.RunSLAMonitor(ctx, t.take)
	if err != nil {
		t.logger.Warn("SLA monitor pass failed", "error", err)
		return
	}
	if report.Breached > 0 {
		t.logger.Info("SLA monitor pass",
			"scanned", report.Scanned, "breached", report.Breached)
	}
}
