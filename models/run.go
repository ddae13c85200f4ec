package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition enforces pending -> running -> {completed, failed}
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusPending:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed
	}
	return false
}

// Selection is the filter set a job was started with
type Selection struct {
	City      string     `json:"city,omitempty"`
	Group     string     `json:"group,omitempty"`
	Mode      ScrapeMode `json:"mode"`
	Limit     int        `json:"limit"`
	DaysStale int        `json:"days_stale"`
}

func (s Selection) Filter() TargetFilter {
	return TargetFilter{City: s.City, Group: s.Group}
}

func (s Selection) StaleAfter() time.Duration {
	return time.Duration(s.DaysStale) * 24 * time.Hour
}

type JobError struct {
	TargetID   uuid.UUID `json:"target_id"`
	TargetName string    `json:"target_name"`
	Error      string    `json:"error"`
}

// JobCounts is the aggregate progress of a job
type JobCounts struct {
	Processed      int `json:"processed" db:"processed"`
	Succeeded      int `json:"succeeded" db:"succeeded"`
	Failed         int `json:"failed" db:"failed"`
	UnitsFound     int `json:"units_found" db:"units_found"`
	AmenitiesFound int `json:"amenities_found" db:"amenities_found"`
}

type ScrapeJob struct {
	ID      uuid.UUID  `json:"id" db:"id"`
	Mode    ScrapeMode `json:"mode" db:"mode"`
	Filters Selection  `json:"filters" db:"filters"`
	Status  JobStatus  `json:"status" db:"status"`
	JobCounts
	Errors      []JobError `json:"errors" db:"errors"`
	Reason      *string    `json:"reason,omitempty" db:"reason"` // set when reaped
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	HeartbeatAt time.Time  `json:"heartbeat_at" db:"heartbeat_at"`
}
