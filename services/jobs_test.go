package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingJobs counts UpdateJob round trips
type countingJobs struct {
	*storage.MemoryStore
	updates atomic.Int32
}

func (c *countingJobs) UpdateJob(ctx context.Context, j *models.ScrapeJob) error {
	c.updates.Add(1)
	return c.MemoryStore.UpdateJob(ctx, j)
}

func openRunning(t *testing.T, tr *JobTracker) *JobRun {
	t.Helper()
	run, err := tr.Open(context.Background(), models.Selection{Mode: models.ModeUnits, Limit: 10})
	require.NoError(t, err)
	require.NoError(t, run.Start(context.Background()))
	return run
}

func TestJobRun_FinishStatus(t *testing.T) {
	cases := []struct {
		name      string
		succeeded int
		failed    int
		want      models.JobStatus
	}{
		{"empty", 0, 0, models.JobStatusCompleted},
		{"all succeeded", 3, 0, models.JobStatusCompleted},
		{"partial", 1, 2, models.JobStatusCompleted},
		{"all failed", 0, 3, models.JobStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewJobTracker(storage.NewMemoryStore(), 1, 10)
			run := openRunning(t, tr)
			target := &models.Target{ID: uuid.New(), Name: "harbor"}
			for i := 0; i < tc.succeeded; i++ {
				run.RecordSuccess(context.Background(), 2, 1)
			}
			for i := 0; i < tc.failed; i++ {
				run.RecordFailure(context.Background(), target, errors.New("timeout"))
			}

			job, err := run.Finish(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, job.Status)
			assert.Equal(t, tc.succeeded+tc.failed, job.Processed)
			assert.Equal(t, tc.succeeded*2, job.UnitsFound)
			assert.Equal(t, tc.succeeded, job.AmenitiesFound)
			assert.NotNil(t, job.CompletedAt)
		})
	}
}

func TestJobRun_EmptyRunPassesThroughRunning(t *testing.T) {
	tr := NewJobTracker(storage.NewMemoryStore(), 1, 10)
	run, err := tr.Open(context.Background(), models.Selection{Mode: models.ModeFull})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, run.Snapshot().Status)

	job, err := run.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.StartedAt)
	assert.False(t, job.CompletedAt.Before(*job.StartedAt))
}

func TestJobRun_AbortFromPendingPassesThroughRunning(t *testing.T) {
	store := &countingJobs{MemoryStore: storage.NewMemoryStore()}
	tr := NewJobTracker(store, 1, 10)
	ctx := context.Background()
	run, err := tr.Open(ctx, models.Selection{Mode: models.ModeUnits})
	require.NoError(t, err)

	require.NoError(t, run.Abort(ctx, errors.New("selection failed")))
	assert.EqualValues(t, 2, store.updates.Load(), "running, then failed")

	got, err := tr.Get(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.Reason)
	assert.Equal(t, "selection failed", *got.Reason)
}

func TestJobRun_TerminalIsImmutable(t *testing.T) {
	store := storage.NewMemoryStore()
	tr := NewJobTracker(store, 1, 10)
	run := openRunning(t, tr)
	run.RecordSuccess(context.Background(), 1, 0)

	done, err := run.Finish(context.Background())
	require.NoError(t, err)

	_, err = run.Finish(context.Background())
	assert.Error(t, err)
	assert.Error(t, run.Abort(context.Background(), errors.New("late")))
	assert.Error(t, run.Start(context.Background()))

	stored, err := tr.Get(context.Background(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Nil(t, stored.Reason)
}

func TestJobRun_ErrorCap(t *testing.T) {
	tr := NewJobTracker(storage.NewMemoryStore(), 1, 3)
	run := openRunning(t, tr)
	for i := 0; i < 10; i++ {
		run.RecordFailure(context.Background(), &models.Target{ID: uuid.New(), Name: fmt.Sprintf("t%d", i)}, errors.New("boom"))
	}

	job := run.Snapshot()
	assert.Equal(t, 10, job.Failed)
	require.Len(t, job.Errors, 3)
	assert.Equal(t, "t0", job.Errors[0].TargetName)
	assert.Equal(t, "boom", job.Errors[0].Error)
}

func TestJobRun_FlushBatching(t *testing.T) {
	store := &countingJobs{MemoryStore: storage.NewMemoryStore()}
	tr := NewJobTracker(store, 5, 10)
	run := openRunning(t, tr)
	require.EqualValues(t, 1, store.updates.Load(), "start persists")

	for i := 0; i < 12; i++ {
		run.RecordSuccess(context.Background(), 1, 0)
	}
	assert.EqualValues(t, 3, store.updates.Load(), "flushed at 5 and 10")

	stored, err := store.GetJob(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, 10, stored.Processed)

	_, err = run.Finish(context.Background())
	require.NoError(t, err)
	stored, err = store.GetJob(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, 12, stored.Processed)
}

func TestJobRun_ConcurrentRecording(t *testing.T) {
	tr := NewJobTracker(storage.NewMemoryStore(), 3, 5)
	run := openRunning(t, tr)
	target := &models.Target{ID: uuid.New(), Name: "harbor"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				run.RecordSuccess(context.Background(), 3, 0)
			} else {
				run.RecordFailure(context.Background(), target, errors.New("blocked"))
			}
		}(i)
	}
	wg.Wait()

	job, err := run.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, job.Processed)
	assert.Equal(t, 25, job.Succeeded)
	assert.Equal(t, 25, job.Failed)
	assert.Equal(t, 75, job.UnitsFound)
	assert.Len(t, job.Errors, 5)
}

func TestJobTracker_Reap(t *testing.T) {
	store := storage.NewMemoryStore()
	now := t0
	tr := NewJobTracker(store, 1, 10)
	tr.now = clock(&now)
	ctx := context.Background()

	stuck := openRunning(t, tr)
	now = t0.Add(3 * time.Hour)
	alive := openRunning(t, tr)
	pending, err := tr.Open(ctx, models.Selection{Mode: models.ModeUnits})
	require.NoError(t, err)

	n, err := tr.Reap(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := tr.Get(ctx, stuck.ID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Reason)
	assert.Contains(t, *got.Reason, "abandoned")

	got, err = tr.Get(ctx, alive.ID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	got, err = tr.Get(ctx, pending.ID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)

	// the reaped run can no longer write over the reaper
	stuck.RecordSuccess(ctx, 1, 0)
	_, err = stuck.Finish(ctx)
	assert.ErrorIs(t, err, storage.ErrJobFinalized)
	got, err = tr.Get(ctx, stuck.ID())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Zero(t, got.Processed)
}

func TestJobTracker_Recent(t *testing.T) {
	store := storage.NewMemoryStore()
	now := t0
	tr := NewJobTracker(store, 1, 10)
	tr.now = clock(&now)

	for i := 0; i < 3; i++ {
		now = t0.Add(time.Duration(i) * time.Minute)
		_, err := tr.Open(context.Background(), models.Selection{Mode: models.ModeUnits})
		require.NoError(t, err)
	}
	jobs, err := tr.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))
}
