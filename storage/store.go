package storage

import (
	"context"
	"errors"
	"time"

	"bldg_sync/models"
	"github.com/google/uuid"
)

// ErrJobFinalized is returned when an update targets a job already in a terminal state
var ErrJobFinalized = errors.New("storage: job already finalized")

// Get* methods return (nil, nil) when the row does not exist.

type TargetStore interface {
	UpsertTarget(ctx context.Context, t *models.Target) error
	GetTarget(ctx context.Context, id uuid.UUID) (*models.Target, error)
	ListTargets(ctx context.Context, filter models.TargetFilter) ([]models.Target, error)
	// UpdateTargetPolicies overwrites each non-nil field; nil fields are left as-is
	UpdateTargetPolicies(ctx context.Context, id uuid.UUID, pet, parking, specials *string) error
}

// UnitStore holds the mutable catalog rows
type UnitStore interface {
	GetUnit(ctx context.Context, targetID uuid.UUID, unitNumber string) (*models.Unit, error)
	// UpsertUnit inserts or updates on (target_id, unit_number) and marks the unit
	// available. u.ID is set to the persisted id. created is false when the row existed.
	UpsertUnit(ctx context.Context, u *models.Unit) (created bool, err error)
	ListUnits(ctx context.Context, targetID uuid.UUID) ([]models.Unit, error)
	// RetireUnits marks available units of the target whose number is not in keep
	// as unavailable and returns the retired numbers.
	RetireUnits(ctx context.Context, targetID uuid.UUID, keep []string, at time.Time) ([]string, error)
	CountUnits(ctx context.Context, onlyAvailable bool) (int, error)
}

// SnapshotStore is append-only. There is deliberately no update or delete.
type SnapshotStore interface {
	// AppendSnapshot inserts s and sets s.Seq
	AppendSnapshot(ctx context.Context, s *models.PriceSnapshot) error
	// LatestSnapshot orders by captured_at then seq, both descending
	LatestSnapshot(ctx context.Context, unitID uuid.UUID) (*models.PriceSnapshot, error)
	ListSnapshots(ctx context.Context, unitID uuid.UUID) ([]models.PriceSnapshot, error)
}

type AmenityStore interface {
	GetOrCreateAmenity(ctx context.Context, name, category string) (*models.Amenity, error)
	LinkAmenity(ctx context.Context, link *models.TargetAmenity) error
	ListTargetAmenities(ctx context.Context, targetID uuid.UUID) ([]models.TargetAmenity, error)
}

type StatusStore interface {
	GetStatus(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode) (*models.ScrapeStatus, error)
	ListStatuses(ctx context.Context, targetID uuid.UUID) ([]models.ScrapeStatus, error)
	ListStatusesByMode(ctx context.Context, mode models.ScrapeMode) ([]models.ScrapeStatus, error)
	// RecordSuccess sets last_success_at, clears last_error and stores the unit count
	RecordSuccess(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode, o models.Outcome) error
	// RecordFailure sets last_failure_at and last_error, leaving last_success_at untouched
	RecordFailure(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode, o models.Outcome) error
	SetScrapeEnabled(ctx context.Context, targetID uuid.UUID, enabled bool) error
	// ListDueTargets returns enabled targets whose last attempt for mode is missing
	// or before cutoff, never-attempted first, then oldest attempt first.
	ListDueTargets(ctx context.Context, filter models.TargetFilter, mode models.ScrapeMode, cutoff time.Time, limit int) ([]models.Target, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, j *models.ScrapeJob) error
	// UpdateJob returns ErrJobFinalized when the stored row is terminal
	UpdateJob(ctx context.Context, j *models.ScrapeJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error)
	ListRecentJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error)
	// FailStaleJobs moves running jobs with heartbeat before cutoff to failed
	FailStaleJobs(ctx context.Context, cutoff time.Time, reason string) (int, error)
}

type CommandStore interface {
	EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (int64, error)
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error
}

// Store is the full catalog used by the pipeline
type Store interface {
	TargetStore
	UnitStore
	SnapshotStore
	AmenityStore
	StatusStore
	JobStore
	CommandStore
	Close() error
}
