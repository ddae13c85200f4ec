package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRecorder_FailureKeepsLastSuccess(t *testing.T) {
	store := storage.NewMemoryStore()
	tg := seedTarget(t, store, "harbor")
	now := t0
	r := NewStatusRecorder(store)
	r.now = clock(&now)
	ctx := context.Background()

	require.NoError(t, r.Success(ctx, &tg, models.ModeUnits, 12))
	now = now.Add(time.Hour)
	require.NoError(t, r.Failure(ctx, &tg, models.ModeUnits, errors.New("network error: timeout")))

	rows, err := r.Get(ctx, tg.ID, models.ModeUnits)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	st := rows[0]
	assert.True(t, st.LastSuccessAt.Equal(t0))
	assert.True(t, st.LastFailureAt.Equal(now))
	assert.Equal(t, 12, st.LastUnitCount)
	assert.Equal(t, "network error: timeout", *st.LastError)
	assert.True(t, st.LastAttempt().Equal(now))

	now = now.Add(time.Hour)
	require.NoError(t, r.Success(ctx, &tg, models.ModeUnits, 10))
	rows, err = r.Get(ctx, tg.ID, models.ModeUnits)
	require.NoError(t, err)
	assert.Nil(t, rows[0].LastError)
}

func TestStatusRecorder_ModesAreIndependent(t *testing.T) {
	store := storage.NewMemoryStore()
	tg := seedTarget(t, store, "harbor")
	r := NewStatusRecorder(store)
	ctx := context.Background()

	require.NoError(t, r.Success(ctx, &tg, models.ModeUnits, 4))
	require.NoError(t, r.Failure(ctx, &tg, models.ModeAmenities, errors.New("parse error")))

	units, err := r.Get(ctx, tg.ID, models.ModeUnits)
	require.NoError(t, err)
	assert.Nil(t, units[0].LastError)

	all, err := r.Get(ctx, tg.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	full, err := r.Get(ctx, tg.ID, models.ModeFull)
	require.NoError(t, err)
	assert.Nil(t, full)
}

func TestStatusRecorder_TruncatesLongErrors(t *testing.T) {
	store := storage.NewMemoryStore()
	tg := seedTarget(t, store, "harbor")
	r := NewStatusRecorder(store)

	require.NoError(t, r.Failure(context.Background(), &tg, models.ModeUnits, errors.New(strings.Repeat("x", 5000))))
	rows, err := r.Get(context.Background(), tg.ID, models.ModeUnits)
	require.NoError(t, err)
	assert.Len(t, *rows[0].LastError, maxStatusError)
}

func TestTargetSelector(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	now := t0
	rec := NewStatusRecorder(store)
	rec.now = clock(&now)
	sel := NewTargetSelector(store)
	sel.now = clock(&now)

	fresh := seedTarget(t, store, "fresh")
	old := seedTarget(t, store, "old")
	older := seedTarget(t, store, "older")
	seedTarget(t, store, "never")
	off := seedTarget(t, store, "disabled")
	failed := seedTarget(t, store, "failed-recently")

	now = t0.Add(-72 * time.Hour)
	require.NoError(t, rec.Success(ctx, &older, models.ModeUnits, 1))
	now = t0.Add(-48 * time.Hour)
	require.NoError(t, rec.Success(ctx, &old, models.ModeUnits, 1))
	now = t0.Add(-time.Hour)
	require.NoError(t, rec.Success(ctx, &fresh, models.ModeUnits, 1))
	// a recent failure counts as an attempt
	require.NoError(t, rec.Failure(ctx, &failed, models.ModeUnits, assert.AnError))
	require.NoError(t, rec.SetEnabled(ctx, off.ID, false))
	now = t0

	got, err := sel.Select(ctx, models.Selection{Mode: models.ModeUnits, DaysStale: 1})
	require.NoError(t, err)
	var names []string
	for _, tg := range got {
		names = append(names, tg.Name)
	}
	assert.Equal(t, []string{"never", "older", "old"}, names)

	limited, err := sel.Select(ctx, models.Selection{Mode: models.ModeUnits, DaysStale: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "never", limited[0].Name)

	// other modes keep their own staleness
	amen, err := sel.Select(ctx, models.Selection{Mode: models.ModeAmenities, DaysStale: 1})
	require.NoError(t, err)
	assert.Len(t, amen, 5)

	none, err := sel.Select(ctx, models.Selection{Mode: models.ModeUnits, DaysStale: 1, City: "boston"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = sel.Select(ctx, models.Selection{Mode: "weekly"})
	assert.Error(t, err)
}
