package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"time"

	"bldg_sync/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

//go:embed schema/postgres.sql
var postgresSchema string

// Pool is the subset of pgxpool.Pool the store uses
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type PostgresStore struct {
	pool Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// =============================================================================
// Targets
// =============================================================================

const pgTargetColumns = `id, name, website_url, city, grouping, pet_policy, parking_policy, move_in_specials, created_at, updated_at`

func scanPGTarget(row pgx.Row) (*models.Target, error) {
	var t models.Target
	err := row.Scan(&t.ID, &t.Name, &t.WebsiteURL, &t.City, &t.Group, &t.PetPolicy, &t.ParkingPolicy,
		&t.MoveInSpecials, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectPGTargets(rows pgx.Rows) ([]models.Target, error) {
	defer rows.Close()
	var out []models.Target
	for rows.Next() {
		t, err := scanPGTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertTarget(ctx context.Context, t *models.Target) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	query := `
		INSERT INTO targets (id, name, website_url, city, grouping, pet_policy, parking_policy, move_in_specials, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			website_url = EXCLUDED.website_url,
			city = EXCLUDED.city,
			grouping = EXCLUDED.grouping,
			pet_policy = COALESCE(EXCLUDED.pet_policy, targets.pet_policy),
			parking_policy = COALESCE(EXCLUDED.parking_policy, targets.parking_policy),
			move_in_specials = COALESCE(EXCLUDED.move_in_specials, targets.move_in_specials),
			updated_at = now()
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query, t.ID, t.Name, t.WebsiteURL, t.City, t.Group, t.PetPolicy,
		t.ParkingPolicy, t.MoveInSpecials).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert target")
	}
	return nil
}

func (s *PostgresStore) GetTarget(ctx context.Context, id uuid.UUID) (*models.Target, error) {
	t, err := scanPGTarget(s.pool.QueryRow(ctx, `SELECT `+pgTargetColumns+` FROM targets WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get target")
	}
	return t, nil
}

func (s *PostgresStore) ListTargets(ctx context.Context, filter models.TargetFilter) ([]models.Target, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgTargetColumns+` FROM targets
		WHERE ($1 = '' OR city = $1) AND ($2 = '' OR grouping = $2)
		ORDER BY name
	`, filter.City, filter.Group)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list targets")
	}
	out, err := collectPGTargets(rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan targets")
	}
	return out, nil
}

func (s *PostgresStore) UpdateTargetPolicies(ctx context.Context, id uuid.UUID, pet, parking, specials *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE targets SET
			pet_policy = COALESCE($2, pet_policy),
			parking_policy = COALESCE($3, parking_policy),
			move_in_specials = COALESCE($4, move_in_specials),
			updated_at = now()
		WHERE id = $1
	`, id, pet, parking, specials)
	if err != nil {
		return eris.Wrap(err, "postgres: update target policies")
	}
	return nil
}

// =============================================================================
// Units
// =============================================================================

const pgUnitColumns = `id, target_id, unit_number, floor, beds, baths, sqft, rent, is_available, available_on, floorplan_name, view, created_at, updated_at`

func scanPGUnit(row pgx.Row) (*models.Unit, error) {
	var u models.Unit
	err := row.Scan(&u.ID, &u.TargetID, &u.UnitNumber, &u.Floor, &u.Beds, &u.Baths, &u.SqFt, &u.Rent,
		&u.IsAvailable, &u.AvailableOn, &u.FloorplanName, &u.View, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUnit(ctx context.Context, targetID uuid.UUID, unitNumber string) (*models.Unit, error) {
	u, err := scanPGUnit(s.pool.QueryRow(ctx,
		`SELECT `+pgUnitColumns+` FROM units WHERE target_id = $1 AND unit_number = $2`, targetID, unitNumber))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get unit")
	}
	return u, nil
}

func (s *PostgresStore) UpsertUnit(ctx context.Context, u *models.Unit) (bool, error) {
	proposed := uuid.New()
	query := `
		INSERT INTO units (
			id, target_id, unit_number, floor, beds, baths, sqft, rent, is_available,
			available_on, floorplan_name, view, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $11, now(), now())
		ON CONFLICT (target_id, unit_number) DO UPDATE SET
			floor = EXCLUDED.floor,
			beds = EXCLUDED.beds,
			baths = EXCLUDED.baths,
			sqft = EXCLUDED.sqft,
			rent = EXCLUDED.rent,
			is_available = TRUE,
			available_on = EXCLUDED.available_on,
			floorplan_name = EXCLUDED.floorplan_name,
			view = EXCLUDED.view,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query, proposed, u.TargetID, u.UnitNumber, u.Floor, u.Beds, u.Baths, u.SqFt,
		u.Rent, u.AvailableOn, u.FloorplanName, u.View).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return false, eris.Wrap(err, "postgres: upsert unit")
	}
	u.IsAvailable = true
	return u.ID == proposed, nil
}

func (s *PostgresStore) ListUnits(ctx context.Context, targetID uuid.UUID) ([]models.Unit, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgUnitColumns+` FROM units WHERE target_id = $1 ORDER BY unit_number`, targetID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list units")
	}
	defer rows.Close()

	var out []models.Unit
	for rows.Next() {
		u, err := scanPGUnit(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan unit")
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RetireUnits(ctx context.Context, targetID uuid.UUID, keep []string, at time.Time) ([]string, error) {
	if keep == nil {
		keep = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE units SET is_available = FALSE, updated_at = $3
		WHERE target_id = $1 AND is_available AND NOT (unit_number = ANY($2))
		RETURNING unit_number
	`, targetID, keep, at)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: retire units")
	}
	defer rows.Close()

	var retired []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan retired unit")
		}
		retired = append(retired, n)
	}
	return retired, rows.Err()
}

func (s *PostgresStore) CountUnits(ctx context.Context, onlyAvailable bool) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM units WHERE (NOT $1 OR is_available)`, onlyAvailable).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count units")
	}
	return n, nil
}

// =============================================================================
// Price snapshots
// =============================================================================

const pgSnapshotColumns = `seq, unit_id, rent, net_effective_rent, lease_term_months, captured_at, job_id`

func scanPGSnapshot(row pgx.Row) (*models.PriceSnapshot, error) {
	var p models.PriceSnapshot
	err := row.Scan(&p.Seq, &p.UnitID, &p.Rent, &p.NetEffectiveRent, &p.LeaseTermMonths, &p.CapturedAt, &p.JobID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) AppendSnapshot(ctx context.Context, p *models.PriceSnapshot) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO price_snapshots (unit_id, rent, net_effective_rent, lease_term_months, captured_at, job_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`, p.UnitID, p.Rent, p.NetEffectiveRent, p.LeaseTermMonths, p.CapturedAt, p.JobID).Scan(&p.Seq)
	if err != nil {
		return eris.Wrap(err, "postgres: append snapshot")
	}
	return nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, unitID uuid.UUID) (*models.PriceSnapshot, error) {
	p, err := scanPGSnapshot(s.pool.QueryRow(ctx, `
		SELECT `+pgSnapshotColumns+` FROM price_snapshots
		WHERE unit_id = $1
		ORDER BY captured_at DESC, seq DESC
		LIMIT 1
	`, unitID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest snapshot")
	}
	return p, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, unitID uuid.UUID) ([]models.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgSnapshotColumns+` FROM price_snapshots
		WHERE unit_id = $1
		ORDER BY captured_at, seq
	`, unitID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var out []models.PriceSnapshot
	for rows.Next() {
		p, err := scanPGSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// =============================================================================
// Amenities
// =============================================================================

func (s *PostgresStore) GetOrCreateAmenity(ctx context.Context, name, category string) (*models.Amenity, error) {
	var a models.Amenity
	// The no-op update makes RETURNING yield the existing row on conflict
	err := s.pool.QueryRow(ctx, `
		INSERT INTO amenities (id, name, category, created_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, category, created_at
	`, uuid.New(), name, category).Scan(&a.ID, &a.Name, &a.Category, &a.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get or create amenity")
	}
	return &a, nil
}

func (s *PostgresStore) LinkAmenity(ctx context.Context, link *models.TargetAmenity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO target_amenities (target_id, amenity_id, details, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (target_id, amenity_id) DO UPDATE SET
			details = COALESCE(EXCLUDED.details, target_amenities.details),
			updated_at = now()
	`, link.TargetID, link.AmenityID, link.Details)
	if err != nil {
		return eris.Wrap(err, "postgres: link amenity")
	}
	return nil
}

func (s *PostgresStore) ListTargetAmenities(ctx context.Context, targetID uuid.UUID) ([]models.TargetAmenity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT target_id, amenity_id, details, updated_at FROM target_amenities
		WHERE target_id = $1 ORDER BY amenity_id
	`, targetID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list target amenities")
	}
	defer rows.Close()

	var out []models.TargetAmenity
	for rows.Next() {
		var l models.TargetAmenity
		if err := rows.Scan(&l.TargetID, &l.AmenityID, &l.Details, &l.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan target amenity")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// Scrape status
// =============================================================================

const pgStatusColumns = `target_id, mode, last_success_at, last_failure_at, last_error, last_unit_count, website_url, scrape_enabled, updated_at`

func scanPGStatus(row pgx.Row) (*models.ScrapeStatus, error) {
	var st models.ScrapeStatus
	var mode string
	err := row.Scan(&st.TargetID, &mode, &st.LastSuccessAt, &st.LastFailureAt, &st.LastError, &st.LastUnitCount,
		&st.WebsiteURL, &st.ScrapeEnabled, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Mode = models.ScrapeMode(mode)
	return &st, nil
}

func (s *PostgresStore) GetStatus(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode) (*models.ScrapeStatus, error) {
	st, err := scanPGStatus(s.pool.QueryRow(ctx,
		`SELECT `+pgStatusColumns+` FROM scrape_status WHERE target_id = $1 AND mode = $2`, targetID, string(mode)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get status")
	}
	return st, nil
}

func (s *PostgresStore) queryStatuses(ctx context.Context, query string, arg any) ([]models.ScrapeStatus, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list statuses")
	}
	defer rows.Close()

	var out []models.ScrapeStatus
	for rows.Next() {
		st, err := scanPGStatus(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan status")
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListStatuses(ctx context.Context, targetID uuid.UUID) ([]models.ScrapeStatus, error) {
	return s.queryStatuses(ctx, `SELECT `+pgStatusColumns+` FROM scrape_status WHERE target_id = $1 ORDER BY mode`, targetID)
}

func (s *PostgresStore) ListStatusesByMode(ctx context.Context, mode models.ScrapeMode) ([]models.ScrapeStatus, error) {
	return s.queryStatuses(ctx, `SELECT `+pgStatusColumns+` FROM scrape_status WHERE mode = $1 ORDER BY target_id`, string(mode))
}

func (s *PostgresStore) RecordSuccess(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode, o models.Outcome) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_status (target_id, mode, last_success_at, last_error, last_unit_count, website_url, updated_at)
		VALUES ($1, $2, $3, NULL, $4, $5, $3)
		ON CONFLICT (target_id, mode) DO UPDATE SET
			last_success_at = EXCLUDED.last_success_at,
			last_error = NULL,
			last_unit_count = EXCLUDED.last_unit_count,
			website_url = COALESCE(EXCLUDED.website_url, scrape_status.website_url),
			updated_at = EXCLUDED.updated_at
	`, targetID, string(mode), o.At, o.UnitCount, o.WebsiteURL)
	if err != nil {
		return eris.Wrap(err, "postgres: record success")
	}
	return nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode, o models.Outcome) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_status (target_id, mode, last_failure_at, last_error, website_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $3)
		ON CONFLICT (target_id, mode) DO UPDATE SET
			last_failure_at = EXCLUDED.last_failure_at,
			last_error = EXCLUDED.last_error,
			website_url = COALESCE(EXCLUDED.website_url, scrape_status.website_url),
			updated_at = EXCLUDED.updated_at
	`, targetID, string(mode), o.At, o.Error, o.WebsiteURL)
	if err != nil {
		return eris.Wrap(err, "postgres: record failure")
	}
	return nil
}

func (s *PostgresStore) SetScrapeEnabled(ctx context.Context, targetID uuid.UUID, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE scrape_status SET scrape_enabled = $2, updated_at = now() WHERE target_id = $1`,
		targetID, enabled)
	if err != nil {
		return eris.Wrap(err, "postgres: set scrape enabled")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scrape_status (target_id, mode, scrape_enabled, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (target_id, mode) DO UPDATE SET scrape_enabled = EXCLUDED.scrape_enabled
	`, targetID, string(models.ModeUnits), enabled)
	if err != nil {
		return eris.Wrap(err, "postgres: insert scrape enabled")
	}
	return nil
}

func (s *PostgresStore) ListDueTargets(ctx context.Context, filter models.TargetFilter, mode models.ScrapeMode, cutoff time.Time, limit int) ([]models.Target, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.name, t.website_url, t.city, t.grouping, t.pet_policy, t.parking_policy,
			t.move_in_specials, t.created_at, t.updated_at
		FROM targets t
		LEFT JOIN scrape_status st ON st.target_id = t.id AND st.mode = $1
		WHERE ($2 = '' OR t.city = $2)
			AND ($3 = '' OR t.grouping = $3)
			AND NOT EXISTS (SELECT 1 FROM scrape_status d WHERE d.target_id = t.id AND NOT d.scrape_enabled)
			AND (GREATEST(st.last_success_at, st.last_failure_at) IS NULL
				OR GREATEST(st.last_success_at, st.last_failure_at) < $4)
		ORDER BY GREATEST(st.last_success_at, st.last_failure_at) ASC NULLS FIRST, t.name
		LIMIT NULLIF($5, 0)
	`, string(mode), filter.City, filter.Group, cutoff, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due targets")
	}
	out, err := collectPGTargets(rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan due targets")
	}
	return out, nil
}

// =============================================================================
// Jobs
// =============================================================================

const pgJobColumns = `id, mode, filters, status, processed, succeeded, failed, units_found, amenities_found, errors, reason, created_at, started_at, completed_at, heartbeat_at`

func scanPGJob(row pgx.Row) (*models.ScrapeJob, error) {
	var j models.ScrapeJob
	var mode, status string
	var filters, errs []byte
	err := row.Scan(&j.ID, &mode, &filters, &status, &j.Processed, &j.Succeeded, &j.Failed, &j.UnitsFound,
		&j.AmenitiesFound, &errs, &j.Reason, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt)
	if err != nil {
		return nil, err
	}
	j.Mode = models.ScrapeMode(mode)
	j.Status = models.JobStatus(status)
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &j.Filters); err != nil {
			return nil, eris.Wrap(err, "decode filters")
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &j.Errors); err != nil {
			return nil, eris.Wrap(err, "decode errors")
		}
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, j *models.ScrapeJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.HeartbeatAt.IsZero() {
		j.HeartbeatAt = j.CreatedAt
	}
	filters, errs, err := encodeJobJSON(j)
	if err != nil {
		return eris.Wrap(err, "postgres: encode job")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO scrape_jobs (`+pgJobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, j.ID, string(j.Mode), filters, string(j.Status), j.Processed, j.Succeeded, j.Failed, j.UnitsFound,
		j.AmenitiesFound, errs, j.Reason, j.CreatedAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt)
	if err != nil {
		return eris.Wrap(err, "postgres: create job")
	}
	return nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, j *models.ScrapeJob) error {
	filters, errs, err := encodeJobJSON(j)
	if err != nil {
		return eris.Wrap(err, "postgres: encode job")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE scrape_jobs SET
			status = $2, filters = $3, processed = $4, succeeded = $5, failed = $6, units_found = $7,
			amenities_found = $8, errors = $9, reason = $10, started_at = $11, completed_at = $12, heartbeat_at = $13
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`, j.ID, string(j.Status), filters, j.Processed, j.Succeeded, j.Failed, j.UnitsFound, j.AmenitiesFound,
		errs, j.Reason, j.StartedAt, j.CompletedAt, j.HeartbeatAt)
	if err != nil {
		return eris.Wrap(err, "postgres: update job")
	}
	if tag.RowsAffected() == 0 {
		return ErrJobFinalized
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	j, err := scanPGJob(s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM scrape_jobs WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get job")
	}
	return j, nil
}

func (s *PostgresStore) ListRecentJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgJobColumns+` FROM scrape_jobs ORDER BY created_at DESC LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var out []models.ScrapeJob
	for rows.Next() {
		j, err := scanPGJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FailStaleJobs(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scrape_jobs SET status = 'failed', reason = $2, completed_at = now()
		WHERE status = 'running' AND heartbeat_at < $1
	`, cutoff, reason)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail stale jobs")
	}
	return int(tag.RowsAffected()), nil
}

// =============================================================================
// Commands
// =============================================================================

func (s *PostgresStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (int64, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: encode command params")
	}
	var id int64
	err = s.pool.QueryRow(ctx, `INSERT INTO commands (command, params) VALUES ($1, $2) RETURNING id`,
		string(cmd), raw).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: enqueue command")
	}
	return id, nil
}

func (s *PostgresStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, command, params, created_at FROM commands
		WHERE processed_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending commands")
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var command string
		var params []byte
		if err := rows.Scan(&cmd.ID, &command, &params, &cmd.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan command")
		}
		cmd.Command = models.CommandType(command)
		cmd.Params = params
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *PostgresStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE commands SET processed_at = now() WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "postgres: mark command processed")
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
