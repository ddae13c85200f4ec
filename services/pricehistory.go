package services

import (
	"context"
	"time"

	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// PriceHistory appends rent observations. It has no way to change or remove one.
type PriceHistory struct {
	store storage.SnapshotStore
}

func NewPriceHistory(store storage.SnapshotStore) *PriceHistory {
	return &PriceHistory{store: store}
}

// Observation is one rent reading for a unit
type Observation struct {
	Rent             float64
	NetEffectiveRent *float64
	LeaseTermMonths  *int
	CapturedAt       time.Time
	JobID            *uuid.UUID
}

func (p *PriceHistory) Append(ctx context.Context, unitID uuid.UUID, obs Observation) (*models.PriceSnapshot, error) {
	if obs.Rent <= 0 {
		return nil, eris.Errorf("price history: rent must be positive, got %v", obs.Rent)
	}
	snap := &models.PriceSnapshot{
		UnitID:           unitID,
		Rent:             obs.Rent,
		NetEffectiveRent: obs.NetEffectiveRent,
		LeaseTermMonths:  obs.LeaseTermMonths,
		CapturedAt:       obs.CapturedAt.UTC(),
		JobID:            obs.JobID,
	}
	if err := p.store.AppendSnapshot(ctx, snap); err != nil {
		return nil, eris.Wrapf(err, "price history: append for unit %s", unitID)
	}
	return snap, nil
}

// Current returns the snapshot with the latest capture time, or nil
func (p *PriceHistory) Current(ctx context.Context, unitID uuid.UUID) (*models.PriceSnapshot, error) {
	snap, err := p.store.LatestSnapshot(ctx, unitID)
	if err != nil {
		return nil, eris.Wrapf(err, "price history: latest for unit %s", unitID)
	}
	return snap, nil
}

func (p *PriceHistory) History(ctx context.Context, unitID uuid.UUID) ([]models.PriceSnapshot, error) {
	snaps, err := p.store.ListSnapshots(ctx, unitID)
	if err != nil {
		return nil, eris.Wrapf(err, "price history: list for unit %s", unitID)
	}
	return snaps, nil
}
