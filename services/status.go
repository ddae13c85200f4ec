package services

import (
	"context"
	"time"

	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

const maxStatusError = 1000

// StatusRecorder keeps the per-(target, mode) outcome of the last attempt
type StatusRecorder struct {
	store storage.StatusStore
	now   func() time.Time
}

func NewStatusRecorder(store storage.StatusStore) *StatusRecorder {
	return &StatusRecorder{store: store, now: time.Now}
}

func (r *StatusRecorder) Success(ctx context.Context, t *models.Target, mode models.ScrapeMode, unitCount int) error {
	o := models.Outcome{Success: true, UnitCount: unitCount, WebsiteURL: t.WebsiteURL, At: r.now().UTC()}
	return eris.Wrapf(r.store.RecordSuccess(ctx, t.ID, mode, o), "status: record success for %s", t.ID)
}

// Failure stores the message; the previous success timestamp is kept
func (r *StatusRecorder) Failure(ctx context.Context, t *models.Target, mode models.ScrapeMode, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxStatusError {
		msg = msg[:maxStatusError]
	}
	o := models.Outcome{Success: false, Error: msg, WebsiteURL: t.WebsiteURL, At: r.now().UTC()}
	return eris.Wrapf(r.store.RecordFailure(ctx, t.ID, mode, o), "status: record failure for %s", t.ID)
}

func (r *StatusRecorder) Get(ctx context.Context, targetID uuid.UUID, mode models.ScrapeMode) ([]models.ScrapeStatus, error) {
	if mode != "" {
		s, err := r.store.GetStatus(ctx, targetID, mode)
		if err != nil {
			return nil, eris.Wrap(err, "status: get")
		}
		if s == nil {
			return nil, nil
		}
		return []models.ScrapeStatus{*s}, nil
	}
	rows, err := r.store.ListStatuses(ctx, targetID)
	return rows, eris.Wrap(err, "status: list")
}

func (r *StatusRecorder) SetEnabled(ctx context.Context, targetID uuid.UUID, enabled bool) error {
	return eris.Wrapf(r.store.SetScrapeEnabled(ctx, targetID, enabled), "status: set enabled for %s", targetID)
}
