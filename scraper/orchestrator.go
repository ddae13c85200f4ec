package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"bldg_sync/models"
	"bldg_sync/ratelimit"
	"bldg_sync/services"
	"bldg_sync/storage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrTargetNotFound is returned by RunTarget for an unknown id
var ErrTargetNotFound = errors.New("scraper: target not found")

// ErrPaused is returned by RunBatch while the operator has paused scheduled runs
var ErrPaused = errors.New("scraper: paused")

// TargetExtractor is the slice of Extractor the orchestrator needs
type TargetExtractor interface {
	ExtractTarget(ctx context.Context, t *models.Target, mode models.ScrapeMode) (*models.ExtractResult, error)
}

// TargetResult is the outcome of processing one target
type TargetResult struct {
	Target    models.Target             `json:"target"`
	Mode      models.ScrapeMode         `json:"mode"`
	Extract   *models.ExtractResult     `json:"-"`
	Units     *services.ReconcileResult `json:"units,omitempty"`
	Amenities *services.AmenityResult   `json:"amenities,omitempty"`
	Err       error                     `json:"-"`
}

func (r *TargetResult) Success() bool {
	return r.Err == nil
}

func (r *TargetResult) UnitsFound() int {
	if r.Extract == nil {
		return 0
	}
	return len(r.Extract.Units)
}

func (r *TargetResult) AmenitiesFound() int {
	if r.Extract == nil {
		return 0
	}
	return len(r.Extract.Amenities)
}

// Orchestrator runs scrape jobs: select, extract, reconcile, record
type Orchestrator struct {
	store      storage.TargetStore
	extractor  TargetExtractor
	limiter    *ratelimit.Limiter
	selector   *services.TargetSelector
	reconciler *services.Reconciler
	amenities  *services.AmenityWriter
	status     *services.StatusRecorder
	jobs       *services.JobTracker
	workers    int
	staleJobs  time.Duration

	paused atomic.Bool
}

type OrchestratorDeps struct {
	Store      storage.TargetStore
	Extractor  TargetExtractor
	Limiter    *ratelimit.Limiter
	Selector   *services.TargetSelector
	Reconciler *services.Reconciler
	Amenities  *services.AmenityWriter
	Status     *services.StatusRecorder
	Jobs       *services.JobTracker
	Workers    int
	StaleJobs  time.Duration
}

func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	if d.Workers < 1 {
		d.Workers = 1
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(0, 0)
	}
	return &Orchestrator{
		store:      d.Store,
		extractor:  d.Extractor,
		limiter:    d.Limiter,
		selector:   d.Selector,
		reconciler: d.Reconciler,
		amenities:  d.Amenities,
		status:     d.Status,
		jobs:       d.Jobs,
		workers:    d.Workers,
		staleJobs:  d.StaleJobs,
	}
}

// RunBatch opens a job, selects due targets and processes them on a bounded
// worker pool. Targets are dispatched in selection order, one global rate
// token each. A failing target never stops the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, sel models.Selection) (models.ScrapeJob, error) {
	if o.paused.Load() {
		return models.ScrapeJob{}, ErrPaused
	}

	run, err := o.jobs.Open(ctx, sel)
	if err != nil {
		return models.ScrapeJob{}, err
	}
	log := zap.L().With(zap.String("job_id", run.ID().String()), zap.String("mode", string(sel.Mode)))

	targets, err := o.selector.Select(ctx, sel)
	if err != nil {
		if aerr := run.Abort(context.WithoutCancel(ctx), err); aerr != nil {
			log.Error("abort job failed", zap.Error(aerr))
		}
		return run.Snapshot(), err
	}
	if len(targets) == 0 {
		log.Info("no targets due")
		return run.Finish(ctx)
	}
	if err := run.Start(ctx); err != nil {
		if aerr := run.Abort(context.WithoutCancel(ctx), err); aerr != nil {
			log.Error("abort job failed", zap.Error(aerr))
		}
		return run.Snapshot(), err
	}
	log.Info("job running", zap.Int("targets", len(targets)), zap.Int("workers", o.workers))

	var g errgroup.Group
	g.SetLimit(o.workers)
	jobID := run.ID()

	var dispatchErr error
	for i := range targets {
		t := targets[i]
		if !t.HasWebsite() {
			// no fetch, so no rate token
			cause := configFailure("target has no website")
			log.Warn("target skipped", zap.String("target_id", t.ID.String()), zap.Error(cause))
			o.recordFailure(ctx, &t, sel.Mode, cause)
			run.RecordFailure(ctx, &t, cause)
			continue
		}
		if err := o.limiter.WaitTarget(ctx); err != nil {
			dispatchErr = err
			break
		}
		g.Go(func() error {
			res := o.processSafely(ctx, t, sel.Mode, &jobID)
			if res.Err != nil {
				run.RecordFailure(ctx, &t, res.Err)
			} else {
				run.RecordSuccess(ctx, res.UnitsFound(), res.AmenitiesFound())
			}
			return nil
		})
	}
	_ = g.Wait()

	if dispatchErr != nil {
		log.Warn("job interrupted", zap.Error(dispatchErr))
		if aerr := run.Abort(context.WithoutCancel(ctx), eris.Wrap(dispatchErr, "interrupted")); aerr != nil {
			log.Error("abort job failed", zap.Error(aerr))
		}
		return run.Snapshot(), dispatchErr
	}
	return run.Finish(context.WithoutCancel(ctx))
}

// RunTarget processes one target on demand, outside any job
func (o *Orchestrator) RunTarget(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode) (*TargetResult, error) {
	t, err := o.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, eris.Wrap(err, "get target")
	}
	if t == nil {
		return nil, ErrTargetNotFound
	}
	return o.processSafely(ctx, *t, mode, nil), nil
}

// processSafely turns a panic in one target into that target's failure
func (o *Orchestrator) processSafely(ctx context.Context, t models.Target, mode models.ScrapeMode, jobID *uuid.UUID) (res *TargetResult) {
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("panic while processing target",
				zap.String("target_id", t.ID.String()),
				zap.Any("panic", p),
			)
			res = &TargetResult{Target: t, Mode: mode, Err: fmt.Errorf("internal error: %v", p)}
			o.recordFailure(ctx, &t, mode, res.Err)
		}
	}()
	return o.process(ctx, t, mode, jobID)
}

func (o *Orchestrator) process(ctx context.Context, t models.Target, mode models.ScrapeMode, jobID *uuid.UUID) *TargetResult {
	res := &TargetResult{Target: t, Mode: mode}
	log := zap.L().With(zap.String("target_id", t.ID.String()), zap.String("target", t.Name), zap.String("mode", string(mode)))

	extracted, err := o.extractor.ExtractTarget(ctx, &t, mode)
	if err != nil {
		res.Err = err
		log.Warn("extraction failed", zap.String("kind", string(KindOf(err))), zap.Error(err))
		o.recordFailure(ctx, &t, mode, err)
		return res
	}
	res.Extract = extracted

	if mode.WantsUnits() {
		rec, err := o.reconciler.Reconcile(ctx, t.ID, extracted.Units, extracted.ScrapedAt, jobID)
		res.Units = rec
		if err != nil {
			res.Err = err
			log.Error("reconcile failed", zap.Error(err))
			o.recordFailure(ctx, &t, mode, err)
			return res
		}
	}
	if mode.WantsAmenities() {
		am, err := o.amenities.Link(ctx, t.ID, extracted.Amenities)
		res.Amenities = am
		if err != nil {
			res.Err = err
			log.Error("amenity link failed", zap.Error(err))
			o.recordFailure(ctx, &t, mode, err)
			return res
		}
	}
	if err := o.amenities.UpdatePolicies(ctx, t.ID, extracted.PetPolicy, extracted.ParkingPolicy, extracted.MoveInSpecials); err != nil {
		log.Warn("policy update failed", zap.Error(err))
	}

	if err := o.status.Success(ctx, &t, mode, len(extracted.Units)); err != nil {
		log.Error("record status failed", zap.Error(err))
	}
	log.Info("target scraped",
		zap.Int("units", len(extracted.Units)),
		zap.Int("amenities", len(extracted.Amenities)),
	)
	return res
}

func (o *Orchestrator) recordFailure(ctx context.Context, t *models.Target, mode models.ScrapeMode, cause error) {
	if err := o.status.Failure(context.WithoutCancel(ctx), t, mode, cause); err != nil {
		zap.L().Error("record status failed", zap.String("target_id", t.ID.String()), zap.Error(err))
	}
}

// HandleCommand applies one operator command from the queue
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command, defaults models.Selection) error {
	params, err := cmd.ParseParams()
	if err != nil {
		return eris.Wrapf(err, "command %d: parse params", cmd.ID)
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		sel, err := SelectionFromParams(params, defaults)
		if err != nil {
			return err
		}
		_, err = o.RunBatch(ctx, sel)
		return err
	case models.CmdScrapeTarget:
		id, err := uuid.Parse(params.TargetID)
		if err != nil {
			return eris.Wrapf(err, "command %d: bad target id", cmd.ID)
		}
		mode, ok := models.ParseScrapeMode(params.Mode, models.ModeFull)
		if !ok {
			return eris.Errorf("command %d: unknown mode %q", cmd.ID, params.Mode)
		}
		res, err := o.RunTarget(ctx, id, mode)
		if err != nil {
			return err
		}
		return res.Err
	case models.CmdPause:
		o.paused.Store(true)
		zap.L().Info("scraper paused")
	case models.CmdResume:
		o.paused.Store(false)
		zap.L().Info("scraper resumed")
	case models.CmdReapJobs:
		_, err := o.jobs.Reap(ctx, o.staleJobs)
		return err
	default:
		return eris.Errorf("command %d: unknown command %q", cmd.ID, cmd.Command)
	}
	return nil
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

// SelectionFromParams overlays command or request parameters on defaults
func SelectionFromParams(p *models.CommandParams, defaults models.Selection) (models.Selection, error) {
	sel := defaults
	mode, ok := models.ParseScrapeMode(p.Mode, defaults.Mode)
	if !ok {
		return sel, eris.Errorf("unknown mode %q", p.Mode)
	}
	sel.Mode = mode
	if p.City != "" {
		sel.City = p.City
	}
	if p.Group != "" {
		sel.Group = p.Group
	}
	if p.Limit > 0 {
		sel.Limit = p.Limit
	}
	if p.DaysStale > 0 {
		sel.DaysStale = p.DaysStale
	}
	return sel, nil
}
