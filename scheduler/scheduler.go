package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bldg_sync/config"
	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const commandPollInterval = 2 * time.Second

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Runner is the part of the orchestrator the scheduler drives
type Runner interface {
	RunBatch(ctx context.Context, sel models.Selection) (models.ScrapeJob, error)
	HandleCommand(ctx context.Context, cmd *models.Command, defaults models.Selection) error
}

type Scheduler struct {
	cfg      config.SchedulerConfig
	defaults models.Selection
	runner   Runner
	commands storage.CommandStore
	cron     *cron.Cron
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	pollEvery   time.Duration
	reapTrigger Triggerable
}

func New(cfg config.SchedulerConfig, runner Runner, commands storage.CommandStore) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		defaults:  DefaultSelection(cfg),
		runner:    runner,
		commands:  commands,
		cron:      cron.New(),
		stopCh:    make(chan struct{}),
		pollEvery: commandPollInterval,
	}
}

// DefaultSelection is the selection scheduled runs use
func DefaultSelection(cfg config.SchedulerConfig) models.Selection {
	mode, ok := models.ParseScrapeMode(cfg.Mode, models.ModeUnits)
	if !ok {
		mode = models.ModeUnits
	}
	return models.Selection{Mode: mode, Limit: cfg.Limit, DaysStale: cfg.DaysStale}
}

// SetReaper routes reap_jobs commands to a background worker
func (s *Scheduler) SetReaper(w Triggerable) {
	s.reapTrigger = w
}

func (s *Scheduler) Defaults() models.Selection {
	return s.defaults
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Cron != "" {
		zap.L().Info("starting scheduler", zap.String("cron", s.cfg.Cron))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.runScheduled(ctx) })
		if err != nil {
			return eris.Wrapf(err, "invalid cron expression %q", s.cfg.Cron)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		zap.L().Info("starting scheduler", zap.Duration("interval", s.cfg.Interval))
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runScheduled(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		zap.L().Info("no schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

// runScheduled skips a tick while the previous batch is still going
func (s *Scheduler) runScheduled(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		zap.L().Warn("previous scheduled run still in progress, skipping")
		return
	}
	defer s.running.Store(false)

	job, err := s.runner.RunBatch(ctx, s.defaults)
	if err != nil {
		zap.L().Error("scheduled run error", zap.Error(err))
		return
	}
	zap.L().Info("scheduled run done",
		zap.String("job_id", job.ID.String()),
		zap.String("status", string(job.Status)),
		zap.Int("processed", job.Processed),
	)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.commands.GetPendingCommands(ctx)
	if err != nil {
		zap.L().Error("get pending commands failed", zap.Error(err))
		return
	}

	for i := range cmds {
		cmd := &cmds[i]
		zap.L().Info("processing command", zap.Int64("id", cmd.ID), zap.String("command", string(cmd.Command)))
		// at-most-once: marked before it runs
		if err := s.commands.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			zap.L().Error("mark command processed failed", zap.Int64("id", cmd.ID), zap.Error(err))
			continue
		}
		if err := s.handleCommand(ctx, cmd); err != nil {
			zap.L().Error("command error", zap.Int64("id", cmd.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	if cmd.Command == models.CmdReapJobs && s.reapTrigger != nil {
		s.reapTrigger.Trigger()
		zap.L().Info("reaper triggered via command")
		return nil
	}
	return s.runner.HandleCommand(ctx, cmd, s.defaults)
}

// TriggerNow runs one batch with the scheduled selection
func (s *Scheduler) TriggerNow(ctx context.Context) (models.ScrapeJob, error) {
	return s.runner.RunBatch(ctx, s.defaults)
}
