package services

import (
	"context"
	"time"

	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

const (
	StateNeverScraped = "never_scraped"
	StateSuccess      = "success"
	StateStale        = "stale"
	StateFailed       = "failed"
	// StatePending is a filter only: never scraped or stale
	StatePending = "pending"

	summaryStaleAfter = 7 * 24 * time.Hour
	recentJobsLimit   = 10
)

type adminStore interface {
	storage.TargetStore
	storage.StatusStore
	storage.JobStore
	storage.CommandStore
}

// Admin reports scrape health across targets and queues operator actions
type Admin struct {
	store adminStore
	now   func() time.Time
}

func NewAdmin(store adminStore) *Admin {
	return &Admin{store: store, now: time.Now}
}

type ModeState struct {
	ScrapedAt *time.Time `json:"scraped_at"`
	Success   *bool      `json:"success"`
	Error     *string    `json:"error"`
	Count     int        `json:"count,omitempty"`
}

type TargetState struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	WebsiteURL    *string   `json:"website_url"`
	City          string    `json:"city"`
	Group         string    `json:"group"`
	ScrapeEnabled bool      `json:"scrape_enabled"`
	ScrapeState   string    `json:"scrape_state"`
	Units         ModeState `json:"units"`
	Amenities     ModeState `json:"amenities"`
}

type SummaryCounts struct {
	Total        int `json:"total"`
	NeverScraped int `json:"never_scraped"`
	Success      int `json:"success"`
	Stale        int `json:"stale"`
	Failed       int `json:"failed"`
	TotalUnits   int `json:"total_units"`
}

type Summary struct {
	Summary    SummaryCounts      `json:"summary"`
	Targets    []TargetState      `json:"targets"`
	RecentJobs []models.ScrapeJob `json:"recent_jobs"`
}

// Summary classifies each target by its units-mode status. state filters the
// returned list but never the counts.
func (a *Admin) Summary(ctx context.Context, filter models.TargetFilter, state string, limit int) (*Summary, error) {
	targets, err := a.store.ListTargets(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "admin: list targets")
	}
	if limit > 0 && len(targets) > limit {
		targets = targets[:limit]
	}

	unitRows, err := a.store.ListStatusesByMode(ctx, models.ModeUnits)
	if err != nil {
		return nil, eris.Wrap(err, "admin: list unit statuses")
	}
	amenityRows, err := a.store.ListStatusesByMode(ctx, models.ModeAmenities)
	if err != nil {
		return nil, eris.Wrap(err, "admin: list amenity statuses")
	}
	units := indexStatuses(unitRows)
	amenities := indexStatuses(amenityRows)

	now := a.now().UTC()
	out := &Summary{Targets: []TargetState{}}
	for _, t := range targets {
		ts := TargetState{
			ID:            t.ID,
			Name:          t.Name,
			WebsiteURL:    t.WebsiteURL,
			City:          t.City,
			Group:         t.Group,
			ScrapeEnabled: true,
			Units:         modeState(units[t.ID]),
			Amenities:     modeState(amenities[t.ID]),
		}
		if s := units[t.ID]; s != nil && !s.ScrapeEnabled {
			ts.ScrapeEnabled = false
		}
		if s := amenities[t.ID]; s != nil && !s.ScrapeEnabled {
			ts.ScrapeEnabled = false
		}
		ts.ScrapeState = scrapeState(units[t.ID], now)

		out.Summary.Total++
		out.Summary.TotalUnits += ts.Units.Count
		switch ts.ScrapeState {
		case StateNeverScraped:
			out.Summary.NeverScraped++
		case StateSuccess:
			out.Summary.Success++
		case StateStale:
			out.Summary.Stale++
		case StateFailed:
			out.Summary.Failed++
		}

		if matchesState(ts.ScrapeState, state) {
			out.Targets = append(out.Targets, ts)
		}
	}

	out.RecentJobs, err = a.store.ListRecentJobs(ctx, recentJobsLimit)
	if err != nil {
		return nil, eris.Wrap(err, "admin: recent jobs")
	}
	return out, nil
}

func (a *Admin) SetEnabled(ctx context.Context, ids []uuid.UUID, enabled bool) error {
	for _, id := range ids {
		if err := a.store.SetScrapeEnabled(ctx, id, enabled); err != nil {
			return eris.Wrapf(err, "admin: set scrape enabled for %s", id)
		}
	}
	return nil
}

// Trigger queues scrape commands for the daemon; one per target, or one
// filtered batch run when no ids are given.
func (a *Admin) Trigger(ctx context.Context, ids []uuid.UUID, sel models.Selection) ([]int64, error) {
	var queued []int64
	if len(ids) == 0 {
		id, err := a.store.EnqueueCommand(ctx, models.CmdScrapeNow, &models.CommandParams{
			Mode:      string(sel.Mode),
			City:      sel.City,
			Group:     sel.Group,
			Limit:     sel.Limit,
			DaysStale: sel.DaysStale,
		})
		if err != nil {
			return nil, eris.Wrap(err, "admin: enqueue scrape_now")
		}
		return append(queued, id), nil
	}
	for _, tid := range ids {
		id, err := a.store.EnqueueCommand(ctx, models.CmdScrapeTarget, &models.CommandParams{
			TargetID: tid.String(),
			Mode:     string(sel.Mode),
		})
		if err != nil {
			return queued, eris.Wrapf(err, "admin: enqueue scrape_target for %s", tid)
		}
		queued = append(queued, id)
	}
	return queued, nil
}

func indexStatuses(rows []models.ScrapeStatus) map[uuid.UUID]*models.ScrapeStatus {
	m := make(map[uuid.UUID]*models.ScrapeStatus, len(rows))
	for i := range rows {
		m[rows[i].TargetID] = &rows[i]
	}
	return m
}

func modeState(s *models.ScrapeStatus) ModeState {
	if s == nil {
		return ModeState{}
	}
	ms := ModeState{ScrapedAt: s.LastAttempt(), Error: s.LastError, Count: s.LastUnitCount}
	if at := s.LastAttempt(); at != nil {
		ok := lastAttemptSucceeded(s)
		ms.Success = &ok
	}
	return ms
}

func lastAttemptSucceeded(s *models.ScrapeStatus) bool {
	if s.LastSuccessAt == nil {
		return false
	}
	return s.LastFailureAt == nil || !s.LastFailureAt.After(*s.LastSuccessAt)
}

func scrapeState(s *models.ScrapeStatus, now time.Time) string {
	if s == nil || s.LastAttempt() == nil {
		return StateNeverScraped
	}
	if !lastAttemptSucceeded(s) {
		return StateFailed
	}
	if now.Sub(*s.LastSuccessAt) > summaryStaleAfter {
		return StateStale
	}
	return StateSuccess
}

func matchesState(state, filter string) bool {
	switch filter {
	case "":
		return true
	case StatePending:
		return state == StateNeverScraped || state == StateStale
	default:
		return state == filter
	}
}
