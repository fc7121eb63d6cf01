package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/api"
	"github.com/dropsignal/fleetpoller/internal/config"
	"github.com/dropsignal/fleetpoller/internal/schedule"
	"github.com/dropsignal/fleetpoller/internal/watch"
	"github.com/dropsignal/fleetpoller/internal/worker"
)

// newRunCmd creates the 'run' subcommand: the long-lived poll loop plus the
// HTTP status server.
func newRunCmd() *cobra.Command {
	var unitCount int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Starts the poll loop and status server",
		Long: `Builds the target rotation from the configured groups, pins one worker to
each live proxy unit, and polls until interrupted. Provisions additional units
first when --units asks for more than the fleet currently holds.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPoller(cmd, unitCount)
		},
	}
	cmd.Flags().IntVar(&unitCount, "units", 0, "ensure this many proxy units exist before polling (0 = use the current fleet)")
	return cmd
}

func runPoller(cmd *cobra.Command, unitCount int) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fleet := appInstance.Fleet()
	units := fleet.Units()
	if unitCount > len(units) {
		logger.Info("provisioning additional units",
			zap.Int("have", len(units)),
			zap.Int("want", unitCount),
		)
		if _, err := fleet.ProvisionBatch(ctx, unitCount-len(units), cfg.Fleet.Regions); err != nil {
			return fmt.Errorf("provision units: %w", err)
		}
		units = fleet.Units()
	}
	if len(units) == 0 {
		return errors.New("no proxy units available; run 'fleetpoller create <count>' or pass --units")
	}

	rotation := buildRotation(cfg.Targets)
	if len(rotation) == 0 {
		return errors.New("no targets configured; add target groups to the config file")
	}
	queue := schedule.New(rotation, schedule.Config{
		Throttle:  cfg.Queue.Throttle(),
		BaseLimit: cfg.Queue.BaseLimit,
	}, appInstance.Clock())

	pool := worker.NewPool(units, worker.Deps{
		Queue:        queue,
		Executor:     appInstance.Executor(),
		Observations: appInstance.Observations(),
		Captures:     appInstance.Captures(),
		Emitter:      appInstance.Hub(),
		Clock:        appInstance.Clock(),
	}, worker.Config{
		ExecTimeout:        cfg.Worker.ExecTimeout(),
		ItemDelay:          cfg.Worker.ItemDelay(),
		IdleDelay:          cfg.Worker.IdleDelay(),
		CaptureContentType: cfg.Capture.ContentType,
	}, logger)

	apiServer := api.NewServer(fleet, queue, pool, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	pool.Start(ctx)
	logger.Info("worker pool started",
		zap.Int("workers", pool.Size()),
		zap.Int("targets", len(rotation)),
	)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	pool.Stop()
	logger.Info("shutdown complete")
	return nil
}

func buildRotation(groups []config.GroupConfig) []watch.Target {
	scheduleGroups := make([]schedule.Group, 0, len(groups))
	for _, g := range groups {
		targets := make([]watch.Target, 0, len(g.URLs))
		for _, url := range g.URLs {
			targets = append(targets, watch.Target{URL: url, Group: watch.GroupKey(g.Group)})
		}
		scheduleGroups = append(scheduleGroups, schedule.Group{
			Key:     watch.GroupKey(g.Group),
			Targets: targets,
		})
	}
	return schedule.Interleave(scheduleGroups)
}
