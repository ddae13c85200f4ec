package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"bldg_sync/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
)

// Fixed-width so lexical order matches time order
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if dbPath == ":memory:" {
		dsn = ":memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		website_url TEXT,
		city TEXT NOT NULL DEFAULT '',
		grouping TEXT NOT NULL DEFAULT '',
		pet_policy TEXT,
		parking_policy TEXT,
		move_in_specials TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL REFERENCES targets(id),
		unit_number TEXT NOT NULL,
		floor INTEGER,
		beds INTEGER,
		baths REAL,
		sqft INTEGER,
		rent REAL,
		is_available INTEGER NOT NULL DEFAULT 1,
		available_on TEXT,
		floorplan_name TEXT,
		view TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(target_id, unit_number)
	);

	CREATE TABLE IF NOT EXISTS price_snapshots (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		unit_id TEXT NOT NULL REFERENCES units(id),
		rent REAL NOT NULL,
		net_effective_rent REAL,
		lease_term_months INTEGER,
		captured_at TEXT NOT NULL,
		job_id TEXT
	);

	CREATE TRIGGER IF NOT EXISTS price_snapshots_no_update BEFORE UPDATE ON price_snapshots
	BEGIN SELECT RAISE(ABORT, 'price_snapshots is append-only'); END;

	CREATE TRIGGER IF NOT EXISTS price_snapshots_no_delete BEFORE DELETE ON price_snapshots
	BEGIN SELECT RAISE(ABORT, 'price_snapshots is append-only'); END;

	CREATE TABLE IF NOT EXISTS amenities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT 'other',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS target_amenities (
		target_id TEXT NOT NULL REFERENCES targets(id),
		amenity_id TEXT NOT NULL REFERENCES amenities(id),
		details TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (target_id, amenity_id)
	);

	CREATE TABLE IF NOT EXISTS scrape_status (
		target_id TEXT NOT NULL REFERENCES targets(id),
		mode TEXT NOT NULL,
		last_success_at TEXT,
		last_failure_at TEXT,
		last_error TEXT,
		last_unit_count INTEGER NOT NULL DEFAULT 0,
		website_url TEXT,
		scrape_enabled INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (target_id, mode)
	);

	CREATE TABLE IF NOT EXISTS scrape_jobs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		filters TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		units_found INTEGER NOT NULL DEFAULT 0,
		amenities_found INTEGER NOT NULL DEFAULT 0,
		errors TEXT NOT NULL DEFAULT '[]',
		reason TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		heartbeat_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at TEXT NOT NULL,
		processed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_units_target_available ON units(target_id, is_available);
	CREATE INDEX IF NOT EXISTS idx_snapshots_unit ON price_snapshots(unit_id, captured_at, seq);
	CREATE INDEX IF NOT EXISTS idx_status_mode ON scrape_status(mode);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON scrape_jobs(status, heartbeat_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON scrape_jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func anyInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func anyFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// Targets
// =============================================================================

const sqliteTargetColumns = `id, name, website_url, city, grouping, pet_policy, parking_policy, move_in_specials, created_at, updated_at`

func scanSQLiteTarget(row rowScanner) (*models.Target, error) {
	var t models.Target
	var id, createdAt, updatedAt string
	var website, pet, parking, specials sql.NullString
	if err := row.Scan(&id, &t.Name, &website, &t.City, &t.Group, &pet, &parking, &specials, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.ID, _ = uuid.Parse(id)
	t.WebsiteURL = stringPtr(website)
	t.PetPolicy = stringPtr(pet)
	t.ParkingPolicy = stringPtr(parking)
	t.MoveInSpecials = stringPtr(specials)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func (s *SQLiteStore) UpsertTarget(ctx context.Context, t *models.Target) error {
	now := time.Now().UTC()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (`+sqliteTargetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			website_url = excluded.website_url,
			city = excluded.city,
			grouping = excluded.grouping,
			pet_policy = COALESCE(excluded.pet_policy, targets.pet_policy),
			parking_policy = COALESCE(excluded.parking_policy, targets.parking_policy),
			move_in_specials = COALESCE(excluded.move_in_specials, targets.move_in_specials),
			updated_at = excluded.updated_at
	`, t.ID.String(), t.Name, nullString(t.WebsiteURL), t.City, t.Group,
		nullString(t.PetPolicy), nullString(t.ParkingPolicy), nullString(t.MoveInSpecials),
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert target")
	}
	return nil
}

func (s *SQLiteStore) GetTarget(ctx context.Context, id uuid.UUID) (*models.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTargetColumns+` FROM targets WHERE id = ?`, id.String())
	t, err := scanSQLiteTarget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get target")
	}
	return t, nil
}

func (s *SQLiteStore) ListTargets(ctx context.Context, filter models.TargetFilter) ([]models.Target, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteTargetColumns+` FROM targets
		WHERE (? = '' OR city = ?) AND (? = '' OR grouping = ?)
		ORDER BY name
	`, filter.City, filter.City, filter.Group, filter.Group)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list targets")
	}
	defer rows.Close()

	var out []models.Target
	for rows.Next() {
		t, err := scanSQLiteTarget(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan target")
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateTargetPolicies(ctx context.Context, id uuid.UUID, pet, parking, specials *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE targets SET
			pet_policy = COALESCE(?, pet_policy),
			parking_policy = COALESCE(?, parking_policy),
			move_in_specials = COALESCE(?, move_in_specials),
			updated_at = ?
		WHERE id = ?
	`, nullString(pet), nullString(parking), nullString(specials), fmtTime(time.Now()), id.String())
	if err != nil {
		return eris.Wrap(err, "sqlite: update target policies")
	}
	return nil
}

// =============================================================================
// Units
// =============================================================================

const sqliteUnitColumns = `id, target_id, unit_number, floor, beds, baths, sqft, rent, is_available, available_on, floorplan_name, view, created_at, updated_at`

func scanSQLiteUnit(row rowScanner) (*models.Unit, error) {
	var u models.Unit
	var id, targetID, createdAt, updatedAt string
	var floor, beds, sqft sql.NullInt64
	var baths, rent sql.NullFloat64
	var availableOn, floorplan, view sql.NullString
	if err := row.Scan(&id, &targetID, &u.UnitNumber, &floor, &beds, &baths, &sqft, &rent,
		&u.IsAvailable, &availableOn, &floorplan, &view, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.ID, _ = uuid.Parse(id)
	u.TargetID, _ = uuid.Parse(targetID)
	u.Floor = intPtr(floor)
	u.Beds = intPtr(beds)
	u.Baths = floatPtr(baths)
	u.SqFt = intPtr(sqft)
	u.Rent = floatPtr(rent)
	u.AvailableOn = parseTimePtr(availableOn)
	u.FloorplanName = stringPtr(floorplan)
	u.View = stringPtr(view)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func (s *SQLiteStore) GetUnit(ctx context.Context, targetID uuid.UUID, unitNumber string) (*models.Unit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteUnitColumns+` FROM units WHERE target_id = ? AND unit_number = ?`,
		targetID.String(), unitNumber)
	u, err := scanSQLiteUnit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get unit")
	}
	return u, nil
}

func (s *SQLiteStore) UpsertUnit(ctx context.Context, u *models.Unit) (bool, error) {
	now := time.Now().UTC()
	proposed := uuid.New()

	var id, createdAt string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO units (`+sqliteUnitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id, unit_number) DO UPDATE SET
			floor = excluded.floor,
			beds = excluded.beds,
			baths = excluded.baths,
			sqft = excluded.sqft,
			rent = excluded.rent,
			is_available = 1,
			available_on = excluded.available_on,
			floorplan_name = excluded.floorplan_name,
			view = excluded.view,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`, proposed.String(), u.TargetID.String(), u.UnitNumber, anyInt(u.Floor), anyInt(u.Beds), anyFloat(u.Baths),
		anyInt(u.SqFt), anyFloat(u.Rent), fmtTimePtr(u.AvailableOn), nullString(u.FloorplanName), nullString(u.View),
		fmtTime(now), fmtTime(now)).Scan(&id, &createdAt)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: upsert unit")
	}

	u.ID, _ = uuid.Parse(id)
	u.IsAvailable = true
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = now
	return u.ID == proposed, nil
}

func (s *SQLiteStore) ListUnits(ctx context.Context, targetID uuid.UUID) ([]models.Unit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteUnitColumns+` FROM units WHERE target_id = ? ORDER BY unit_number`,
		targetID.String())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list units")
	}
	defer rows.Close()

	var out []models.Unit
	for rows.Next() {
		u, err := scanSQLiteUnit(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unit")
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RetireUnits(ctx context.Context, targetID uuid.UUID, keep []string, at time.Time) ([]string, error) {
	args := []any{fmtTime(at), targetID.String()}
	query := `UPDATE units SET is_available = 0, updated_at = ? WHERE target_id = ? AND is_available = 1`
	if len(keep) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
		query += ` AND unit_number NOT IN (` + placeholders + `)`
		for _, k := range keep {
			args = append(args, k)
		}
	}
	query += ` RETURNING unit_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: retire units")
	}
	defer rows.Close()

	var retired []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan retired unit")
		}
		retired = append(retired, n)
	}
	return retired, rows.Err()
}

func (s *SQLiteStore) CountUnits(ctx context.Context, onlyAvailable bool) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM units WHERE (? = 0 OR is_available = 1)`, onlyAvailable).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count units")
	}
	return n, nil
}

// =============================================================================
// Price snapshots
// =============================================================================

func scanSQLiteSnapshot(row rowScanner) (*models.PriceSnapshot, error) {
	var p models.PriceSnapshot
	var unitID, capturedAt string
	var net sql.NullFloat64
	var term sql.NullInt64
	var jobID sql.NullString
	if err := row.Scan(&p.Seq, &unitID, &p.Rent, &net, &term, &capturedAt, &jobID); err != nil {
		return nil, err
	}
	p.UnitID, _ = uuid.Parse(unitID)
	p.NetEffectiveRent = floatPtr(net)
	p.LeaseTermMonths = intPtr(term)
	p.CapturedAt = parseTime(capturedAt)
	if jobID.Valid {
		if id, err := uuid.Parse(jobID.String); err == nil {
			p.JobID = &id
		}
	}
	return &p, nil
}

func (s *SQLiteStore) AppendSnapshot(ctx context.Context, p *models.PriceSnapshot) error {
	var jobID sql.NullString
	if p.JobID != nil {
		jobID = sql.NullString{String: p.JobID.String(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO price_snapshots (unit_id, rent, net_effective_rent, lease_term_months, captured_at, job_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.UnitID.String(), p.Rent, anyFloat(p.NetEffectiveRent), anyInt(p.LeaseTermMonths), fmtTime(p.CapturedAt), jobID)
	if err != nil {
		return eris.Wrap(err, "sqlite: append snapshot")
	}
	p.Seq, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, unitID uuid.UUID) (*models.PriceSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, unit_id, rent, net_effective_rent, lease_term_months, captured_at, job_id
		FROM price_snapshots WHERE unit_id = ?
		ORDER BY captured_at DESC, seq DESC LIMIT 1
	`, unitID.String())
	p, err := scanSQLiteSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest snapshot")
	}
	return p, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, unitID uuid.UUID) ([]models.PriceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, unit_id, rent, net_effective_rent, lease_term_months, captured_at, job_id
		FROM price_snapshots WHERE unit_id = ?
		ORDER BY captured_at, seq
	`, unitID.String())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close()

	var out []models.PriceSnapshot
	for rows.Next() {
		p, err := scanSQLiteSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// =============================================================================
// Amenities
// =============================================================================

func (s *SQLiteStore) GetOrCreateAmenity(ctx context.Context, name, category string) (*models.Amenity, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO amenities (id, name, category, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, uuid.New().String(), name, category, fmtTime(time.Now()))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert amenity")
	}

	var a models.Amenity
	var id, createdAt string
	err = s.db.QueryRowContext(ctx, `SELECT id, name, category, created_at FROM amenities WHERE name = ?`, name).
		Scan(&id, &a.Name, &a.Category, &createdAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get amenity")
	}
	a.ID, _ = uuid.Parse(id)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func (s *SQLiteStore) LinkAmenity(ctx context.Context, link *models.TargetAmenity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO target_amenities (target_id, amenity_id, details, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(target_id, amenity_id) DO UPDATE SET
			details = COALESCE(excluded.details, target_amenities.details),
			updated_at = excluded.updated_at
	`, link.TargetID.String(), link.AmenityID.String(), nullString(link.Details), fmtTime(time.Now()))
	if err != nil {
		return eris.Wrap(err, "sqlite: link amenity")
	}
	return nil
}

func (s *SQLiteStore) ListTargetAmenities(ctx context.Context, targetID uuid.UUID) ([]models.TargetAmenity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id, amenity_id, details, updated_at FROM target_amenities
		WHERE target_id = ? ORDER BY amenity_id
	`, targetID.String())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list target amenities")
	}
	defer rows.Close()

	var out []models.TargetAmenity
	for rows.Next() {
		var l models.TargetAmenity
		var tid, aid, updatedAt string
		var details sql.NullString
		if err := rows.Scan(&tid, &aid, &details, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan target amenity")
		}
		l.TargetID, _ = uuid.Parse(tid)
		l.AmenityID, _ = uuid.Parse(aid)
		l.Details = stringPtr(details)
		l.UpdatedAt = parseTime(updatedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// Scrape status
// =============================================================================

const sqliteStatusColumns = `target_id, mode, last_success_at, last_failure_at, last_error, last_unit_count, website_url, scrape_enabled, updated_at`

func scanSQLiteStatus(row rowScanner) (*models.ScrapeStatus, error) {
	var st models.ScrapeStatus
	var targetID, mode, updatedAt string
	var success, failure, lastErr, website sql.NullString
	if err := row.Scan(&targetID, &mode, &success, &failure, &lastErr, &st.LastUnitCount, &website,
		&st.ScrapeEnabled, &updatedAt); err != nil {
		return nil, err
	}
	st.TargetID, _ = uuid.Parse(targetID)
	st.Mode = models.ScrapeMode(mode)
	st.LastSuccessAt = parseTimePtr(success)
	st.LastFailureAt = parseTimePtr(failure)
	st.LastError = stringPtr(lastErr)
	st.WebsiteURL = stringPtr(website)
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}

func (s *SQLiteStore) GetStatus(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode) (*models.ScrapeStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteStatusColumns+` FROM scrape_status WHERE target_id = ? AND mode = ?`,
		targetID.String(), string(mode))
	st, err := scanSQLiteStatus(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get status")
	}
	return st, nil
}

func (s *SQLiteStore) listStatuses(ctx context.Context, where string, arg string) ([]models.ScrapeStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteStatusColumns+` FROM scrape_status WHERE `+where+` ORDER BY target_id, mode`, arg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list statuses")
	}
	defer rows.Close()

	var out []models.ScrapeStatus
	for rows.Next() {
		st, err := scanSQLiteStatus(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status")
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListStatuses(ctx context.Context, targetID uuid.UUID) ([]models.ScrapeStatus, error) {
	return s.listStatuses(ctx, "target_id = ?", targetID.String())
}

func (s *SQLiteStore) ListStatusesByMode(ctx context.Context, mode models.ScrapeMode) ([]models.ScrapeStatus, error) {
	return s.listStatuses(ctx, "mode = ?", string(mode))
}

func (s *SQLiteStore) RecordSuccess(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode, o models.Outcome) error {
	at := fmtTime(o.At)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_status (target_id, mode, last_success_at, last_error, last_unit_count, website_url, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?, ?)
		ON CONFLICT(target_id, mode) DO UPDATE SET
			last_success_at = excluded.last_success_at,
			last_error = NULL,
			last_unit_count = excluded.last_unit_count,
			website_url = COALESCE(excluded.website_url, scrape_status.website_url),
			updated_at = excluded.updated_at
	`, targetID.String(), string(mode), at, o.UnitCount, nullString(o.WebsiteURL), at)
	if err != nil {
		return eris.Wrap(err, "sqlite: record success")
	}
	return nil
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode, o models.Outcome) error {
	at := fmtTime(o.At)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_status (target_id, mode, last_failure_at, last_error, website_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id, mode) DO UPDATE SET
			last_failure_at = excluded.last_failure_at,
			last_error = excluded.last_error,
			website_url = COALESCE(excluded.website_url, scrape_status.website_url),
			updated_at = excluded.updated_at
	`, targetID.String(), string(mode), at, o.Error, nullString(o.WebsiteURL), at)
	if err != nil {
		return eris.Wrap(err, "sqlite: record failure")
	}
	return nil
}

func (s *SQLiteStore) SetScrapeEnabled(ctx context.Context, targetID uuid.UUID, enabled bool) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx, `UPDATE scrape_status SET scrape_enabled = ?, updated_at = ? WHERE target_id = ?`,
		enabled, now, targetID.String())
	if err != nil {
		return eris.Wrap(err, "sqlite: set scrape enabled")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scrape_status (target_id, mode, scrape_enabled, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(target_id, mode) DO UPDATE SET scrape_enabled = excluded.scrape_enabled
	`, targetID.String(), string(models.ModeUnits), enabled, now)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert scrape enabled")
	}
	return nil
}

func (s *SQLiteStore) ListDueTargets(ctx context.Context, filter models.TargetFilter, mode models.ScrapeMode, cutoff time.Time, limit int) ([]models.Target, error) {
	if limit <= 0 {
		limit = -1
	}
	// Scalar MAX returns NULL if any argument is NULL, so both sides are coalesced.
	// An empty string sorts before every timestamp, putting never-attempted targets first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.website_url, t.city, t.grouping, t.pet_policy, t.parking_policy,
			t.move_in_specials, t.created_at, t.updated_at
		FROM targets t
		LEFT JOIN scrape_status st ON st.target_id = t.id AND st.mode = ?
		WHERE (? = '' OR t.city = ?)
			AND (? = '' OR t.grouping = ?)
			AND NOT EXISTS (SELECT 1 FROM scrape_status d WHERE d.target_id = t.id AND d.scrape_enabled = 0)
			AND MAX(COALESCE(st.last_success_at, ''), COALESCE(st.last_failure_at, '')) < ?
		ORDER BY MAX(COALESCE(st.last_success_at, ''), COALESCE(st.last_failure_at, '')), t.name
		LIMIT ?
	`, string(mode), filter.City, filter.City, filter.Group, filter.Group, fmtTime(cutoff), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list due targets")
	}
	defer rows.Close()

	var out []models.Target
	for rows.Next() {
		t, err := scanSQLiteTarget(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan due target")
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// =============================================================================
// Jobs
// =============================================================================

const sqliteJobColumns = `id, mode, filters, status, processed, succeeded, failed, units_found, amenities_found, errors, reason, created_at, started_at, completed_at, heartbeat_at`

func scanSQLiteJob(row rowScanner) (*models.ScrapeJob, error) {
	var j models.ScrapeJob
	var id, mode, filters, status, errs, createdAt, heartbeatAt string
	var reason, startedAt, completedAt sql.NullString
	if err := row.Scan(&id, &mode, &filters, &status, &j.Processed, &j.Succeeded, &j.Failed, &j.UnitsFound,
		&j.AmenitiesFound, &errs, &reason, &createdAt, &startedAt, &completedAt, &heartbeatAt); err != nil {
		return nil, err
	}
	j.ID, _ = uuid.Parse(id)
	j.Mode = models.ScrapeMode(mode)
	j.Status = models.JobStatus(status)
	if err := json.Unmarshal([]byte(filters), &j.Filters); err != nil {
		return nil, eris.Wrap(err, "decode filters")
	}
	if err := json.Unmarshal([]byte(errs), &j.Errors); err != nil {
		return nil, eris.Wrap(err, "decode errors")
	}
	j.Reason = stringPtr(reason)
	j.CreatedAt = parseTime(createdAt)
	j.StartedAt = parseTimePtr(startedAt)
	j.CompletedAt = parseTimePtr(completedAt)
	j.HeartbeatAt = parseTime(heartbeatAt)
	return &j, nil
}

func encodeJobJSON(j *models.ScrapeJob) (string, string, error) {
	filters, err := json.Marshal(j.Filters)
	if err != nil {
		return "", "", err
	}
	errs := j.Errors
	if errs == nil {
		errs = []models.JobError{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return "", "", err
	}
	return string(filters), string(errsJSON), nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, j *models.ScrapeJob) error {
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
		return eris.Wrap(err, "sqlite: encode job")
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO scrape_jobs (`+sqliteJobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), string(j.Mode), filters, string(j.Status), j.Processed, j.Succeeded, j.Failed, j.UnitsFound,
		j.AmenitiesFound, errs, nullString(j.Reason), fmtTime(j.CreatedAt), fmtTimePtr(j.StartedAt),
		fmtTimePtr(j.CompletedAt), fmtTime(j.HeartbeatAt))
	if err != nil {
		return eris.Wrap(err, "sqlite: create job")
	}
	return nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, j *models.ScrapeJob) error {
	filters, errs, err := encodeJobJSON(j)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode job")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_jobs SET
			status = ?, filters = ?, processed = ?, succeeded = ?, failed = ?, units_found = ?,
			amenities_found = ?, errors = ?, reason = ?, started_at = ?, completed_at = ?, heartbeat_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')
	`, string(j.Status), filters, j.Processed, j.Succeeded, j.Failed, j.UnitsFound, j.AmenitiesFound, errs,
		nullString(j.Reason), fmtTimePtr(j.StartedAt), fmtTimePtr(j.CompletedAt), fmtTime(j.HeartbeatAt), j.ID.String())
	if err != nil {
		return eris.Wrap(err, "sqlite: update job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobFinalized
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM scrape_jobs WHERE id = ?`, id.String())
	j, err := scanSQLiteJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get job")
	}
	return j, nil
}

func (s *SQLiteStore) ListRecentJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteJobColumns+` FROM scrape_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var out []models.ScrapeJob
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FailStaleJobs(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_jobs SET status = 'failed', reason = ?, completed_at = ?
		WHERE status = 'running' AND heartbeat_at < ?
	`, reason, fmtTime(time.Now()), fmtTime(cutoff))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail stale jobs")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (int64, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: encode command params")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		string(cmd), string(raw), fmtTime(time.Now()))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: enqueue command")
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at FROM commands
		WHERE processed_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending commands")
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		var createdAt string
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan command")
		}
		if params.Valid {
			cmd.Params = []byte(params.String)
		}
		cmd.CreatedAt = parseTime(createdAt)
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, fmtTime(time.Now()), id)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark command processed")
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
