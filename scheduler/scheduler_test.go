package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bldg_sync/config"
	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRunner struct {
	mu       sync.Mutex
	batches  []models.Selection
	commands []models.CommandType
	block    chan struct{}
	cmdErr   error
}

func (f *fakeRunner) RunBatch(ctx context.Context, sel models.Selection) (models.ScrapeJob, error) {
	f.mu.Lock()
	f.batches = append(f.batches, sel)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return models.ScrapeJob{Status: models.JobStatusCompleted}, nil
}

func (f *fakeRunner) HandleCommand(ctx context.Context, cmd *models.Command, defaults models.Selection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd.Command)
	return f.cmdErr
}

func (f *fakeRunner) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type countingTrigger struct{ n atomic.Int32 }

func (c *countingTrigger) Trigger() { c.n.Add(1) }

func TestDefaultSelection(t *testing.T) {
	sel := DefaultSelection(config.SchedulerConfig{Mode: "amenities", Limit: 15, DaysStale: 3})
	assert.Equal(t, models.Selection{Mode: models.ModeAmenities, Limit: 15, DaysStale: 3}, sel)

	sel = DefaultSelection(config.SchedulerConfig{Mode: "bogus"})
	assert.Equal(t, models.ModeUnits, sel.Mode)
}

func TestProcessCommands(t *testing.T) {
	store := storage.NewMemoryStore()
	runner := &fakeRunner{cmdErr: errors.New("target not found")}
	s := New(config.SchedulerConfig{Mode: "units"}, runner, store)
	reaper := &countingTrigger{}
	s.SetReaper(reaper)
	ctx := context.Background()

	_, err := store.EnqueueCommand(ctx, models.CmdScrapeNow, &models.CommandParams{City: "nyc"})
	require.NoError(t, err)
	_, err = store.EnqueueCommand(ctx, models.CmdReapJobs, nil)
	require.NoError(t, err)
	_, err = store.EnqueueCommand(ctx, models.CmdPause, nil)
	require.NoError(t, err)

	s.processCommands(ctx)

	assert.Equal(t, []models.CommandType{models.CmdScrapeNow, models.CmdPause}, runner.commands)
	assert.EqualValues(t, 1, reaper.n.Load())

	pending, err := store.GetPendingCommands(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "failed commands are still marked processed")
}

func TestRunScheduled_SkipsOverlap(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(config.SchedulerConfig{Mode: "units", Limit: 5}, runner, storage.NewMemoryStore())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		s.runScheduled(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return runner.batchCount() == 1 }, time.Second, 5*time.Millisecond)

	s.runScheduled(ctx)
	assert.Equal(t, 1, runner.batchCount())

	close(runner.block)
	<-done
	runner.mu.Lock()
	runner.block = nil
	runner.mu.Unlock()

	s.runScheduled(ctx)
	assert.Equal(t, 2, runner.batchCount())
	assert.Equal(t, 5, runner.batches[1].Limit)
}

func TestStart_IntervalRunsBatches(t *testing.T) {
	runner := &fakeRunner{}
	s := New(config.SchedulerConfig{Mode: "units", Interval: 20 * time.Millisecond}, runner, storage.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	assert.Eventually(t, func() bool { return runner.batchCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestStart_PollsCommandQueue(t *testing.T) {
	store := storage.NewMemoryStore()
	runner := &fakeRunner{}
	s := New(config.SchedulerConfig{Mode: "units"}, runner, store)
	s.pollEvery = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	_, err := store.EnqueueCommand(ctx, models.CmdResume, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.commands) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStart_BadCron(t *testing.T) {
	s := New(config.SchedulerConfig{Mode: "units", Cron: "every tuesday"}, &fakeRunner{}, storage.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, s.Start(ctx))
	s.Stop()
}
