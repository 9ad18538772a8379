package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/cortex"
	"github.com/aixgo-dev/cortex/agent"
	"github.com/aixgo-dev/cortex/pkg/observability"
	"github.com/aixgo-dev/cortex/pkg/sink"
)

const defaultMetricsAddr = ":9090"

func newServeCmd(root *rootOptions) *cobra.Command {
	var history int64
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run episodes on a schedule and serve metrics and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, cfg, logger, history)
		},
	}
	cmd.Flags().Int64Var(&history, "event-history", 1000, "recent events kept in Redis when publishing (0 disables)")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, cfg *cortex.Config, logger *slog.Logger, history int64) error {
	schedule, err := cron.ParseStandard(cfg.World.Schedule)
	if err != nil {
		return fmt.Errorf("world.schedule %q: %w", cfg.World.Schedule, err)
	}

	observability.InitMetrics()
	checker := observability.NewHealthChecker(Version)

	var extra []cortex.RuntimeOption
	if addr := cfg.Events.Redis.Addr; addr != "" {
		pub, err := sink.NewRedisPublisher(ctx, sink.RedisConfig{
			Addr:    addr,
			Channel: cfg.Events.Redis.Channel,
			History: history,
		})
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		extra = append(extra, cortex.WithListener(agent.AllIntents, pub.Listener()))
		checker.RegisterCheck(&observability.HealthCheck{Name: "redis", CheckFunc: pub.Ping, Critical: true})
		logger.Info("publishing events", "addr", addr, "channel", pub.Channel())
	}

	a, err := newApp(ctx, cfg, logger, cmd.ErrOrStderr(), extra...)
	if err != nil {
		return err
	}

	now := time.Now()
	first := schedule.Next(now)
	interval := schedule.Next(first).Sub(first)
	checker.RegisterCheck(observability.StalenessCheck("lineworld", 3*interval, a.env.LastStep))

	cronLog := cronLogger{logger.With("component", "scheduler")}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	c.Schedule(schedule, cron.FuncJob(func() { a.tick(ctx) }))
	if _, err := c.AddFunc("@every 15s", observability.UpdateGoroutines); err != nil {
		return err
	}

	addr := cfg.Observability.MetricsAddr
	if addr == "" {
		addr = defaultMetricsAddr
	}
	srv := observability.NewServer(addr, checker)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics and health", "addr", addr)
		errCh <- srv.Start()
	}()

	c.Start()
	logger.Info("scheduler started", "schedule", cfg.World.Schedule, "lookahead", a.exec.Lookahead())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	select {
	case <-c.Stop().Done():
	case <-shutdownCtx.Done():
	}
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown", "error", serr)
	}
	if terr := a.close(shutdownCtx); terr != nil {
		logger.Error("tracing shutdown", "error", terr)
	}
	return err
}

// tick runs one scheduled episode from the configured start.
func (a *app) tick(ctx context.Context) {
	a.env.Reset(startState(a.cfg))
	steps := 0
	err := a.episode(ctx, func(step) { steps++ })
	final := a.env.State()
	if err != nil {
		a.logger.Error("episode failed", "steps", steps, "position", final.Position, "error", err)
		return
	}
	a.logger.Info("episode finished",
		"steps", steps,
		"position", final.Position,
		"goal", final.Goal,
		"reached", final.Done(),
	)
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct {
	*slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.Logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.Logger.Error(msg, append(keysAndValues, "error", err)...)
}
