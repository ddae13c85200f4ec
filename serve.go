package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bldg_sync/scheduler"
	"bldg_sync/server"
	"bldg_sync/workers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const reapInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, job reaper and HTTP API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		reaper := workers.NewReaperWorker(a.jobs, cfg.Jobs.StaleAfter)
		sched := scheduler.New(cfg.Scheduler, a.orch, a.store)
		sched.SetReaper(reaper)

		if cfg.Server.CronSecret == "" {
			zap.L().Warn("CRON_SECRET is not set, every API request will be rejected")
		}
		srv := server.New(cfg.Server.Addr, cfg.Server.CronSecret, server.NewHandlers(server.HandlerDeps{
			Runner:   a.orch,
			Catalog:  a.store,
			Status:   a.status,
			Jobs:     a.jobs,
			Prices:   a.prices,
			Admin:    a.admin,
			Defaults: sched.Defaults(),
		}))

		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			reaper.Run(gctx, reapInterval)
			return nil
		})
		g.Go(func() error {
			return srv.Run(gctx)
		})

		zap.L().Info("daemon running", zap.String("addr", cfg.Server.Addr))
		err = g.Wait()
		zap.L().Info("shutting down")
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
