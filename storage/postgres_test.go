package storage

import (
	"context"
	"testing"
	"time"

	"bldg_sync/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetTarget_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectQuery(`(?s)SELECT id, name, website_url .* FROM targets WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetTarget(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertUnit_ExistingRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	existing := uuid.New()
	u := &models.Unit{TargetID: uuid.New(), UnitNumber: "1204"}

	mock.ExpectQuery(`(?s)INSERT INTO units .* ON CONFLICT \(target_id, unit_number\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), u.TargetID, "1204", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(existing, now, now))

	created, err := s.UpsertUnit(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing, u.ID)
	assert.True(t, u.IsAvailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RetireUnits(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	targetID := uuid.New()
	at := time.Now()

	mock.ExpectQuery(`(?s)UPDATE units SET is_available = FALSE .* NOT \(unit_number = ANY\(\$2\)\)`).
		WithArgs(targetID, []string{"A", "B"}, at).
		WillReturnRows(pgxmock.NewRows([]string{"unit_number"}).AddRow("C"))

	retired, err := s.RetireUnits(context.Background(), targetID, []string{"A", "B"}, at)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, retired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendSnapshot_SetsSeq(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	snap := &models.PriceSnapshot{UnitID: uuid.New(), Rent: 2100, CapturedAt: time.Now()}

	mock.ExpectQuery(`(?s)INSERT INTO price_snapshots .* RETURNING seq`).
		WithArgs(snap.UnitID, 2100.0, snap.NetEffectiveRent, snap.LeaseTermMonths, snap.CapturedAt, snap.JobID).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(42)))

	require.NoError(t, s.AppendSnapshot(context.Background(), snap))
	assert.Equal(t, int64(42), snap.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSnapshot_OrdersBySeq(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	unitID := uuid.New()
	now := time.Now()
	jobID := uuid.New()
	net := 2500.0
	term := 12

	mock.ExpectQuery(`ORDER BY captured_at DESC, seq DESC\s+LIMIT 1`).
		WithArgs(unitID).
		WillReturnRows(pgxmock.NewRows([]string{"seq", "unit_id", "rent", "net_effective_rent", "lease_term_months", "captured_at", "job_id"}).
			AddRow(int64(7), unitID, 2600.0, &net, &term, now, &jobID))

	got, err := s.LatestSnapshot(context.Background(), unitID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2600.0, got.Rent)
	assert.Equal(t, int64(7), got.Seq)
	assert.Equal(t, 2500.0, *got.NetEffectiveRent)
	assert.Equal(t, jobID, *got.JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFailure_KeepsSuccess(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	targetID := uuid.New()
	at := time.Now()

	mock.ExpectExec(`ON CONFLICT \(target_id, mode\) DO UPDATE SET\s+last_failure_at = EXCLUDED.last_failure_at,\s+last_error = EXCLUDED.last_error,\s+website_url`).
		WithArgs(targetID, "units", at, "timeout", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordFailure(context.Background(), targetID, models.ModeUnits, models.Outcome{Error: "timeout", At: at})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_Finalized(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	j := &models.ScrapeJob{ID: uuid.New(), Mode: models.ModeUnits, Status: models.JobStatusFailed}

	mock.ExpectExec(`(?s)UPDATE scrape_jobs SET .* WHERE id = \$1 AND status NOT IN \('completed', 'failed'\)`).
		WithArgs(j.ID, "failed", pgxmock.AnyArg(), 0, 0, 0, 0, 0, pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateJob(context.Background(), j)
	assert.ErrorIs(t, err, ErrJobFinalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailStaleJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Now().Add(-2 * time.Hour)

	mock.ExpectExec(`(?s)UPDATE scrape_jobs SET status = 'failed'.*WHERE status = 'running' AND heartbeat_at < \$1`).
		WithArgs(cutoff, "abandoned").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.FailStaleJobs(context.Background(), cutoff, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDueTargets_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Now()

	mock.ExpectQuery(`GREATEST\(st.last_success_at, st.last_failure_at\)`).
		WithArgs("units", "", "downtown", cutoff, 10).
		WillReturnError(assert.AnError)

	_, err := s.ListDueTargets(context.Background(), models.TargetFilter{Group: "downtown"}, models.ModeUnits, cutoff, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list due targets")
	assert.NoError(t, mock.ExpectationsWereMet())
}
