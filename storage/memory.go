package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"bldg_sync/models"
	"github.com/google/uuid"
)

type unitKey struct {
	targetID   uuid.UUID
	unitNumber string
}

type statusKey struct {
	targetID uuid.UUID
	mode     models.ScrapeMode
}

// MemoryStore is a process-local Store used by tests and the memory driver
type MemoryStore struct {
	mu sync.Mutex

	targets   map[uuid.UUID]models.Target
	units     map[unitKey]models.Unit
	snapshots map[uuid.UUID][]models.PriceSnapshot
	seq       int64
	amenities map[string]models.Amenity
	links     map[uuid.UUID]map[uuid.UUID]models.TargetAmenity
	statuses  map[statusKey]models.ScrapeStatus
	jobs      map[uuid.UUID]models.ScrapeJob
	commands  []models.Command
	cmdSeq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		targets:   make(map[uuid.UUID]models.Target),
		units:     make(map[unitKey]models.Unit),
		snapshots: make(map[uuid.UUID][]models.PriceSnapshot),
		amenities: make(map[string]models.Amenity),
		links:     make(map[uuid.UUID]map[uuid.UUID]models.TargetAmenity),
		statuses:  make(map[statusKey]models.ScrapeStatus),
		jobs:      make(map[uuid.UUID]models.ScrapeJob),
	}
}

func (s *MemoryStore) Close() error { return nil }

// =============================================================================
// Targets
// =============================================================================

func (s *MemoryStore) UpsertTarget(ctx context.Context, t *models.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if existing, ok := s.targets[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.targets[t.ID] = *t
	return nil
}

func (s *MemoryStore) GetTarget(ctx context.Context, id uuid.UUID) (*models.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) ListTargets(ctx context.Context, filter models.TargetFilter) ([]models.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Target
	for _, t := range s.targets {
		if filter.Matches(&t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateTargetPolicies(ctx context.Context, id uuid.UUID, pet, parking, specials *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[id]
	if !ok {
		return nil
	}
	if pet != nil {
		t.PetPolicy = pet
	}
	if parking != nil {
		t.ParkingPolicy = parking
	}
	if specials != nil {
		t.MoveInSpecials = specials
	}
	t.UpdatedAt = time.Now().UTC()
	s.targets[id] = t
	return nil
}

// =============================================================================
// Units
// =============================================================================

func (s *MemoryStore) GetUnit(ctx context.Context, targetID uuid.UUID, unitNumber string) (*models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[unitKey{targetID, unitNumber}]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryStore) UpsertUnit(ctx context.Context, u *models.Unit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := unitKey{u.TargetID, u.UnitNumber}
	now := time.Now().UTC()
	u.IsAvailable = true
	u.UpdatedAt = now

	existing, ok := s.units[key]
	if ok {
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt
		s.units[key] = *u
		return false, nil
	}

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = now
	s.units[key] = *u
	return true, nil
}

func (s *MemoryStore) ListUnits(ctx context.Context, targetID uuid.UUID) ([]models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Unit
	for k, u := range s.units {
		if k.targetID == targetID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitNumber < out[j].UnitNumber })
	return out, nil
}

func (s *MemoryStore) RetireUnits(ctx context.Context, targetID uuid.UUID, keep []string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keepSet := make(map[string]struct{}, len(keep))
	for _, n := range keep {
		keepSet[n] = struct{}{}
	}

	var retired []string
	for k, u := range s.units {
		if k.targetID != targetID || !u.IsAvailable {
			continue
		}
		if _, ok := keepSet[k.unitNumber]; ok {
			continue
		}
		u.IsAvailable = false
		u.UpdatedAt = at.UTC()
		s.units[k] = u
		retired = append(retired, k.unitNumber)
	}
	sort.Strings(retired)
	return retired, nil
}

func (s *MemoryStore) CountUnits(ctx context.Context, onlyAvailable bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, u := range s.units {
		if !onlyAvailable || u.IsAvailable {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Price snapshots
// =============================================================================

func (s *MemoryStore) AppendSnapshot(ctx context.Context, snap *models.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	snap.Seq = s.seq
	snap.CapturedAt = snap.CapturedAt.UTC()
	s.snapshots[snap.UnitID] = append(s.snapshots[snap.UnitID], *snap)
	return nil
}

func (s *MemoryStore) LatestSnapshot(ctx context.Context, unitID uuid.UUID) (*models.PriceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.PriceSnapshot
	for i := range s.snapshots[unitID] {
		snap := s.snapshots[unitID][i]
		if snap.Newer(latest) {
			latest = &snap
		}
	}
	return latest, nil
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, unitID uuid.UUID) ([]models.PriceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]models.PriceSnapshot(nil), s.snapshots[unitID]...)
	sort.Slice(out, func(i, j int) bool { return out[j].Newer(&out[i]) })
	return out, nil
}

// =============================================================================
// Amenities
// =============================================================================

func (s *MemoryStore) GetOrCreateAmenity(ctx context.Context, name, category string) (*models.Amenity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.amenities[name]; ok {
		return &a, nil
	}
	a := models.Amenity{ID: uuid.New(), Name: name, Category: category, CreatedAt: time.Now().UTC()}
	s.amenities[name] = a
	return &a, nil
}

func (s *MemoryStore) LinkAmenity(ctx context.Context, link *models.TargetAmenity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAmenity, ok := s.links[link.TargetID]
	if !ok {
		byAmenity = make(map[uuid.UUID]models.TargetAmenity)
		s.links[link.TargetID] = byAmenity
	}
	l := *link
	if existing, ok := byAmenity[l.AmenityID]; ok && l.Details == nil {
		l.Details = existing.Details
	}
	l.UpdatedAt = time.Now().UTC()
	byAmenity[l.AmenityID] = l
	return nil
}

func (s *MemoryStore) ListTargetAmenities(ctx context.Context, targetID uuid.UUID) ([]models.TargetAmenity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.TargetAmenity
	for _, l := range s.links[targetID] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AmenityID.String() < out[j].AmenityID.String() })
	return out, nil
}

// =============================================================================
// Scrape status
// =============================================================================

func (s *MemoryStore) GetStatus(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode) (*models.ScrapeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[statusKey{targetID, mode}]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *MemoryStore) ListStatuses(ctx context.Context, targetID uuid.UUID) ([]models.ScrapeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ScrapeStatus
	for k, st := range s.statuses {
		if k.targetID == targetID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mode < out[j].Mode })
	return out, nil
}

func (s *MemoryStore) ListStatusesByMode(ctx context.Context, mode models.ScrapeMode) ([]models.ScrapeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ScrapeStatus
	for k, st := range s.statuses {
		if k.mode == mode {
			out = append(out, st)
		}
	}
	return out, nil
}

// statusRow returns the existing row or a fresh enabled one. Caller holds mu.
func (s *MemoryStore) statusRow(targetID uuid.UUID, mode models.ScrapeMode) models.ScrapeStatus {
	if st, ok := s.statuses[statusKey{targetID, mode}]; ok {
		return st
	}
	return models.ScrapeStatus{TargetID: targetID, Mode: mode, ScrapeEnabled: true}
}

func (s *MemoryStore) RecordSuccess(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode, o models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statusRow(targetID, mode)
	at := o.At.UTC()
	st.LastSuccessAt = &at
	st.LastError = nil
	st.LastUnitCount = o.UnitCount
	if o.WebsiteURL != nil {
		st.WebsiteURL = o.WebsiteURL
	}
	st.UpdatedAt = at
	s.statuses[statusKey{targetID, mode}] = st
	return nil
}

func (s *MemoryStore) RecordFailure(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode, o models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statusRow(targetID, mode)
	at := o.At.UTC()
	msg := o.Error
	st.LastFailureAt = &at
	st.LastError = &msg
	if o.WebsiteURL != nil {
		st.WebsiteURL = o.WebsiteURL
	}
	st.UpdatedAt = at
	s.statuses[statusKey{targetID, mode}] = st
	return nil
}

func (s *MemoryStore) SetScrapeEnabled(ctx context.Context, targetID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for k, st := range s.statuses {
		if k.targetID == targetID {
			st.ScrapeEnabled = enabled
			st.UpdatedAt = time.Now().UTC()
			s.statuses[k] = st
			found = true
		}
	}
	if !found {
		st := s.statusRow(targetID, models.ModeUnits)
		st.ScrapeEnabled = enabled
		st.UpdatedAt = time.Now().UTC()
		s.statuses[statusKey{targetID, models.ModeUnits}] = st
	}
	return nil
}

func (s *MemoryStore) ListDueTargets(ctx context.Context, filter models.TargetFilter, mode models.ScrapeMode, cutoff time.Time, limit int) ([]models.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	disabled := make(map[uuid.UUID]bool)
	for k, st := range s.statuses {
		if !st.ScrapeEnabled {
			disabled[k.targetID] = true
		}
	}

	type candidate struct {
		target  models.Target
		attempt *time.Time
	}
	var due []candidate
	for _, t := range s.targets {
		if disabled[t.ID] || !filter.Matches(&t) {
			continue
		}
		var attempt *time.Time
		if st, ok := s.statuses[statusKey{t.ID, mode}]; ok {
			attempt = st.LastAttempt()
		}
		if attempt != nil && !attempt.Before(cutoff) {
			continue
		}
		due = append(due, candidate{t, attempt})
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].attempt, due[j].attempt
		switch {
		case a == nil && b == nil:
			return due[i].target.Name < due[j].target.Name
		case a == nil:
			return true
		case b == nil:
			return false
		case a.Equal(*b):
			return due[i].target.Name < due[j].target.Name
		}
		return a.Before(*b)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]models.Target, len(due))
	for i, c := range due {
		out[i] = c.target
	}
	return out, nil
}

// =============================================================================
// Jobs
// =============================================================================

// cloneJob deep-copies the error slice so callers never share backing arrays
func cloneJob(j models.ScrapeJob) models.ScrapeJob {
	j.Errors = append([]models.JobError(nil), j.Errors...)
	return j
}

func (s *MemoryStore) CreateJob(ctx context.Context, j *models.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.HeartbeatAt.IsZero() {
		j.HeartbeatAt = j.CreatedAt
	}
	s.jobs[j.ID] = cloneJob(*j)
	return nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, j *models.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[j.ID]
	if ok && existing.Status.IsTerminal() {
		return ErrJobFinalized
	}
	s.jobs[j.ID] = cloneJob(*j)
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	j = cloneJob(j)
	return &j, nil
}

func (s *MemoryStore) ListRecentJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ScrapeJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FailStaleJobs(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now().UTC()
	for id, j := range s.jobs {
		if j.Status != models.JobStatusRunning || !j.HeartbeatAt.Before(cutoff) {
			continue
		}
		r := reason
		j.Status = models.JobStatusFailed
		j.Reason = &r
		j.CompletedAt = &now
		s.jobs[id] = j
		n++
	}
	return n, nil
}

// =============================================================================
// Commands
// =============================================================================

func (s *MemoryStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	s.cmdSeq++
	s.commands = append(s.commands, models.Command{
		ID:        s.cmdSeq,
		Command:   cmd,
		Params:    raw,
		CreatedAt: time.Now().UTC(),
	})
	return s.cmdSeq, nil
}

func (s *MemoryStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Command
	for _, c := range s.commands {
		if c.ProcessedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for i := range s.commands {
		if s.commands[i].ID == id {
			s.commands[i].ProcessedAt = &now
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
