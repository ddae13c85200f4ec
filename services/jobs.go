package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// JobTracker opens scrape jobs and owns their persistence policy
type JobTracker struct {
	store      storage.JobStore
	flushEvery int
	maxErrors  int
	now        func() time.Time
}

func NewJobTracker(store storage.JobStore, flushEvery, maxErrors int) *JobTracker {
	if flushEvery < 1 {
		flushEvery = 1
	}
	if maxErrors < 0 {
		maxErrors = 0
	}
	return &JobTracker{store: store, flushEvery: flushEvery, maxErrors: maxErrors, now: time.Now}
}

// Open creates a pending job for sel
func (t *JobTracker) Open(ctx context.Context, sel models.Selection) (*JobRun, error) {
	now := t.now().UTC()
	job := &models.ScrapeJob{
		ID:          uuid.New(),
		Mode:        sel.Mode,
		Filters:     sel,
		Status:      models.JobStatusPending,
		Errors:      []models.JobError{},
		CreatedAt:   now,
		HeartbeatAt: now,
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "jobs: create")
	}
	zap.L().Info("job opened",
		zap.String("job_id", job.ID.String()),
		zap.String("mode", string(sel.Mode)),
		zap.Int("limit", sel.Limit),
	)
	return &JobRun{tracker: t, job: job}, nil
}

// JobRun accumulates progress for one job. It is safe for concurrent use by workers.
type JobRun struct {
	tracker *JobTracker

	mu         sync.Mutex
	job        *models.ScrapeJob
	sinceFlush int
	// lost is set once the store reports the job finalized elsewhere (reaped)
	lost bool
}

func (r *JobRun) ID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.ID
}

// Snapshot returns a copy of the in-memory job
func (r *JobRun) Snapshot() models.ScrapeJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.job
	cp.Errors = append([]models.JobError(nil), r.job.Errors...)
	return cp
}

// Start moves the job to running once selection has resolved
func (r *JobRun) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transition(models.JobStatusRunning); err != nil {
		return err
	}
	now := r.tracker.now().UTC()
	r.job.StartedAt = &now
	return r.persist(ctx)
}

// RecordSuccess counts one finished target. processed and succeeded move together.
func (r *JobRun) RecordSuccess(ctx context.Context, unitsFound, amenitiesFound int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.job.Processed++
	r.job.Succeeded++
	r.job.UnitsFound += unitsFound
	r.job.AmenitiesFound += amenitiesFound
	r.maybeFlush(ctx)
}

// RecordFailure counts one failed target; only the first maxErrors messages are kept
func (r *JobRun) RecordFailure(ctx context.Context, t *models.Target, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.job.Processed++
	r.job.Failed++
	if len(r.job.Errors) < r.tracker.maxErrors {
		msg := "unknown error"
		if cause != nil {
			msg = cause.Error()
		}
		r.job.Errors = append(r.job.Errors, models.JobError{TargetID: t.ID, TargetName: t.Name, Error: msg})
	}
	r.maybeFlush(ctx)
}

// Finish persists the terminal status. A run with targets that all failed is
// failed; an empty run or partial success is completed.
func (r *JobRun) Finish(ctx context.Context) (models.ScrapeJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := models.JobStatusCompleted
	if r.job.Processed > 0 && r.job.Failed == r.job.Processed {
		status = models.JobStatusFailed
	}
	if err := r.finalize(ctx, status, nil); err != nil {
		return *r.job, err
	}

	zap.L().Info("job finished",
		zap.String("job_id", r.job.ID.String()),
		zap.String("status", string(r.job.Status)),
		zap.Int("processed", r.job.Processed),
		zap.Int("succeeded", r.job.Succeeded),
		zap.Int("failed", r.job.Failed),
		zap.Int("units_found", r.job.UnitsFound),
	)
	return *r.job, nil
}

// Abort fails the job before or during processing, e.g. when selection errors
func (r *JobRun) Abort(ctx context.Context, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reason := cause.Error()
	return r.finalize(ctx, models.JobStatusFailed, &reason)
}

func (r *JobRun) finalize(ctx context.Context, status models.JobStatus, reason *string) error {
	if r.job.Status == models.JobStatusPending {
		// empty and aborted runs still pass through running
		if err := r.transition(models.JobStatusRunning); err != nil {
			return err
		}
		now := r.tracker.now().UTC()
		r.job.StartedAt = &now
		if err := r.persist(ctx); err != nil {
			return err
		}
	}
	if err := r.transition(status); err != nil {
		return err
	}
	now := r.tracker.now().UTC()
	r.job.CompletedAt = &now
	r.job.Reason = reason
	return r.persist(ctx)
}

func (r *JobRun) transition(to models.JobStatus) error {
	if !r.job.Status.CanTransition(to) {
		return eris.Errorf("jobs: invalid transition %s -> %s for job %s", r.job.Status, to, r.job.ID)
	}
	r.job.Status = to
	return nil
}

func (r *JobRun) maybeFlush(ctx context.Context) {
	r.sinceFlush++
	if r.sinceFlush < r.tracker.flushEvery {
		return
	}
	if err := r.persist(ctx); err != nil {
		zap.L().Warn("job counter flush failed", zap.String("job_id", r.job.ID.String()), zap.Error(err))
	}
}

func (r *JobRun) persist(ctx context.Context) error {
	if r.lost {
		return eris.Wrapf(storage.ErrJobFinalized, "jobs: job %s", r.job.ID)
	}
	r.sinceFlush = 0
	r.job.HeartbeatAt = r.tracker.now().UTC()

	cp := *r.job
	cp.Errors = append([]models.JobError(nil), r.job.Errors...)
	err := r.tracker.store.UpdateJob(ctx, &cp)
	if errors.Is(err, storage.ErrJobFinalized) {
		r.lost = true
	}
	return eris.Wrapf(err, "jobs: update %s", r.job.ID)
}

func (t *JobTracker) Get(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	job, err := t.store.GetJob(ctx, id)
	return job, eris.Wrap(err, "jobs: get")
}

func (t *JobTracker) Recent(ctx context.Context, limit int) ([]models.ScrapeJob, error) {
	jobs, err := t.store.ListRecentJobs(ctx, limit)
	return jobs, eris.Wrap(err, "jobs: list recent")
}

// Reap fails running jobs whose heartbeat is older than staleAfter
func (t *JobTracker) Reap(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := t.now().UTC().Add(-staleAfter)
	n, err := t.store.FailStaleJobs(ctx, cutoff, "abandoned: no heartbeat since "+cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, eris.Wrap(err, "jobs: reap")
	}
	if n > 0 {
		zap.L().Warn("reaped stale jobs", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
