package models

import (
	"time"

	"github.com/google/uuid"
)

// PriceSnapshot is an append-only rent observation for a unit.
// Seq is assigned by the store and breaks ties between equal CapturedAt values.
type PriceSnapshot struct {
	Seq              int64      `json:"seq" db:"seq"`
	UnitID           uuid.UUID  `json:"unit_id" db:"unit_id"`
	Rent             float64    `json:"rent" db:"rent"`
	NetEffectiveRent *float64   `json:"net_effective_rent" db:"net_effective_rent"`
	LeaseTermMonths  *int       `json:"lease_term_months" db:"lease_term_months"`
	CapturedAt       time.Time  `json:"captured_at" db:"captured_at"`
	JobID            *uuid.UUID `json:"job_id" db:"job_id"`
}

// Newer reports whether s supersedes other as the current price
func (s *PriceSnapshot) Newer(other *PriceSnapshot) bool {
	if other == nil {
		return true
	}
	if !s.CapturedAt.Equal(other.CapturedAt) {
		return s.CapturedAt.After(other.CapturedAt)
	}
	return s.Seq > other.Seq
}
