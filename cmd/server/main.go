// Command server runs the Jobledger API: job lifecycle, payouts, and
// dispute enforcement.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/workstreet/jobledger/internal/config"
	"github.com/workstreet/jobledger/internal/logging"
	"github.com/workstreet/jobledger/internal/server"
)

// set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	logger.Info("starting jobledger",
		"version", Version, "commit", Commit, "build_time", BuildTime)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"sla_window", cfg.SLAResponseWindow,
		"monitor_interval", cfg.MonitorInterval,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return srv.Run(context.Background())
}
