// Package app provides the top-level application lifecycle for the arena. It
// wires stores, caches, the mirror, blob storage, the broker, agents and the
// orchestrator together and starts the goroutines for the configured mode.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alanyoungcy/arena/internal/config"
)

// Options are command-line settings that only some modes read.
type Options struct {
	// Ticks and Delay drive "once" mode.
	Ticks int
	Delay time.Duration
	// Out receives the leaderboard table. Defaults to stdout.
	Out io.Writer
}

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	opts      Options
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
}

// New creates an App.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	if opts.Ticks < 1 {
		opts.Ticks = 1
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &App{
		cfg:       cfg,
		opts:      opts,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now().UTC(),
	}
}

// Run wires dependencies, runs the configured mode and blocks until it
// finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)
	a.logger.DebugContext(ctx, "active configuration", slog.Any("config", config.RedactedConfig(a.cfg)))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "full":
		return a.FullMode(ctx, deps)
	case "orchestrator":
		return a.OrchestratorMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	case "once":
		return a.OnceMode(ctx, deps)
	case "leaderboard":
		return a.LeaderboardMode(ctx, deps)
	case "ping":
		return a.PingMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
