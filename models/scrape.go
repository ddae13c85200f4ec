package models

import (
	"time"

	"github.com/google/uuid"
)

type ScrapeMode string

const (
	ModeUnits     ScrapeMode = "units"
	ModeAmenities ScrapeMode = "amenities"
	ModeFull      ScrapeMode = "full"
)

func (m ScrapeMode) Valid() bool {
	switch m {
	case ModeUnits, ModeAmenities, ModeFull:
		return true
	}
	return false
}

func (m ScrapeMode) WantsUnits() bool {
	return m == ModeUnits || m == ModeFull
}

func (m ScrapeMode) WantsAmenities() bool {
	return m == ModeAmenities || m == ModeFull
}

// ParseScrapeMode returns def for an empty string
func ParseScrapeMode(s string, def ScrapeMode) (ScrapeMode, bool) {
	if s == "" {
		return def, true
	}
	m := ScrapeMode(s)
	return m, m.Valid()
}

// ScrapeStatus is the per-(target, mode) bookkeeping row
type ScrapeStatus struct {
	TargetID      uuid.UUID  `json:"target_id" db:"target_id"`
	Mode          ScrapeMode `json:"mode" db:"mode"`
	LastSuccessAt *time.Time `json:"last_success_at" db:"last_success_at"`
	LastFailureAt *time.Time `json:"last_failure_at" db:"last_failure_at"`
	LastError     *string    `json:"last_error" db:"last_error"`
	LastUnitCount int        `json:"last_unit_count" db:"last_unit_count"`
	WebsiteURL    *string    `json:"website_url" db:"website_url"`
	ScrapeEnabled bool       `json:"scrape_enabled" db:"scrape_enabled"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// LastAttempt is the later of the last success and last failure
func (s *ScrapeStatus) LastAttempt() *time.Time {
	switch {
	case s.LastSuccessAt == nil:
		return s.LastFailureAt
	case s.LastFailureAt == nil:
		return s.LastSuccessAt
	case s.LastFailureAt.After(*s.LastSuccessAt):
		return s.LastFailureAt
	default:
		return s.LastSuccessAt
	}
}

// Outcome is what the Status Recorder writes after one attempt
type Outcome struct {
	Success    bool
	UnitCount  int
	Error      string
	WebsiteURL *string
	At         time.Time
}
