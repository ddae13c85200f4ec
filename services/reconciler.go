package services

import (
	"context"
	"time"

	"bldg_sync/identity"
	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SkippedUnit is one extracted record that could not be applied
type SkippedUnit struct {
	Index      int    `json:"index"`
	UnitNumber string `json:"unit_number"`
	Reason     string `json:"reason"`
}

// ReconcileResult summarizes one target's unit diff
type ReconcileResult struct {
	UnitsFound     int           `json:"units_found"`
	UnitsCreated   int           `json:"units_created"`
	UnitsUpdated   int           `json:"units_updated"`
	UnitsUnchanged int           `json:"units_unchanged"`
	UnitsRetired   int           `json:"units_retired"`
	UnitsSkipped   int           `json:"units_skipped"`
	Snapshots      int           `json:"snapshots"`
	Retired        []string      `json:"retired,omitempty"`
	Skipped        []SkippedUnit `json:"skipped,omitempty"`
	// RetirementSkipped is set when too few valid units were extracted to trust absence
	RetirementSkipped bool `json:"retirement_skipped"`
}

// Reconciler applies extracted units to the catalog: create, update, retire,
// and append one price snapshot per unit it touched.
type Reconciler struct {
	units          storage.UnitStore
	prices         *PriceHistory
	retireMinUnits int
}

func NewReconciler(units storage.UnitStore, prices *PriceHistory, retireMinUnits int) *Reconciler {
	if retireMinUnits < 1 {
		retireMinUnits = 1
	}
	return &Reconciler{units: units, prices: prices, retireMinUnits: retireMinUnits}
}

type validUnit struct {
	index  int
	number string
	src    models.ExtractedUnit
}

func (r *Reconciler) Reconcile(ctx context.Context, targetID uuid.UUID, extracted []models.ExtractedUnit, capturedAt time.Time, jobID *uuid.UUID) (*ReconcileResult, error) {
	res := &ReconcileResult{UnitsFound: len(extracted)}
	log := zap.L().With(zap.String("target_id", targetID.String()))

	valid := r.validate(extracted, res)
	for _, s := range res.Skipped {
		log.Warn("skipping malformed unit", zap.Int("index", s.Index), zap.String("unit", s.UnitNumber), zap.String("reason", s.Reason))
	}

	writeFailures := 0
	for _, v := range valid {
		unit, err := r.apply(ctx, targetID, v, res)
		if err != nil {
			writeFailures++
			res.skip(v.index, v.number, err.Error())
			log.Warn("unit write failed", zap.String("unit", v.number), zap.Error(err))
			continue
		}

		if v.src.Rent == nil {
			continue
		}
		_, err = r.prices.Append(ctx, unit.ID, Observation{
			Rent:             *v.src.Rent,
			NetEffectiveRent: v.src.NetEffectiveRent,
			LeaseTermMonths:  v.src.LeaseTermMonths,
			CapturedAt:       capturedAt,
			JobID:            jobID,
		})
		if err != nil {
			log.Warn("price snapshot failed", zap.String("unit", v.number), zap.Error(err))
			continue
		}
		res.Snapshots++
	}

	if len(valid) > 0 && writeFailures == len(valid) {
		return res, eris.Errorf("reconcile: all %d unit writes failed for target %s", writeFailures, targetID)
	}

	// An empty or thin extraction is not evidence of vacancy
	if len(valid) < r.retireMinUnits {
		res.RetirementSkipped = true
		return res, nil
	}

	keep := make([]string, len(valid))
	for i, v := range valid {
		keep[i] = v.number
	}
	retired, err := r.units.RetireUnits(ctx, targetID, keep, capturedAt)
	if err != nil {
		return res, eris.Wrapf(err, "reconcile: retire units for target %s", targetID)
	}
	res.Retired = retired
	res.UnitsRetired = len(retired)
	if len(retired) > 0 {
		log.Info("retired units", zap.Strings("units", retired))
	}
	return res, nil
}

// validate drops records that cannot be keyed or priced. The first
// occurrence of a duplicated unit number wins.
func (r *Reconciler) validate(extracted []models.ExtractedUnit, res *ReconcileResult) []validUnit {
	seen := make(map[string]bool, len(extracted))
	valid := make([]validUnit, 0, len(extracted))
	for i, u := range extracted {
		number := identity.NormalizeUnitNumber(u.UnitNumber)
		switch {
		case number == "":
			res.skip(i, u.UnitNumber, "missing unit number")
		case u.Rent != nil && *u.Rent <= 0:
			res.skip(i, number, "rent must be positive")
		case u.Beds != nil && *u.Beds < 0:
			res.skip(i, number, "negative bedroom count")
		case u.Baths != nil && *u.Baths < 0:
			res.skip(i, number, "negative bathroom count")
		case u.SqFt != nil && *u.SqFt < 0:
			res.skip(i, number, "negative area")
		case seen[number]:
			res.skip(i, number, "duplicate unit number")
		default:
			seen[number] = true
			valid = append(valid, validUnit{index: i, number: number, src: u})
		}
	}
	return valid
}

func (r *Reconciler) apply(ctx context.Context, targetID uuid.UUID, v validUnit, res *ReconcileResult) (*models.Unit, error) {
	existing, err := r.units.GetUnit(ctx, targetID, v.number)
	if err != nil {
		return nil, eris.Wrap(err, "lookup unit")
	}

	next := mergeUnit(existing, targetID, v.number, v.src)
	if existing != nil && existing.IsAvailable && sameAttributes(existing, next) {
		res.UnitsUnchanged++
		return existing, nil
	}

	created, err := r.units.UpsertUnit(ctx, next)
	if err != nil {
		return nil, eris.Wrap(err, "upsert unit")
	}
	if created {
		res.UnitsCreated++
	} else {
		res.UnitsUpdated++
	}
	return next, nil
}

func (r *ReconcileResult) skip(index int, number, reason string) {
	r.UnitsSkipped++
	r.Skipped = append(r.Skipped, SkippedUnit{Index: index, UnitNumber: number, Reason: reason})
}

// mergeUnit overlays extracted fields on the stored row. A field the page
// did not show keeps its stored value.
func mergeUnit(existing *models.Unit, targetID uuid.UUID, number string, src models.ExtractedUnit) *models.Unit {
	u := &models.Unit{TargetID: targetID, UnitNumber: number, IsAvailable: true}
	if existing != nil {
		cp := *existing
		u = &cp
		u.IsAvailable = true
	}
	if src.Floor != nil {
		u.Floor = src.Floor
	}
	if src.Beds != nil {
		u.Beds = src.Beds
	}
	if src.Baths != nil {
		u.Baths = src.Baths
	}
	if src.SqFt != nil {
		u.SqFt = src.SqFt
	}
	if src.Rent != nil {
		u.Rent = src.Rent
	}
	if src.AvailableOn != nil {
		u.AvailableOn = src.AvailableOn
	}
	if src.FloorplanName != nil {
		u.FloorplanName = src.FloorplanName
	}
	if src.View != nil {
		u.View = src.View
	}
	return u
}

func sameAttributes(a, b *models.Unit) bool {
	return eqPtr(a.Floor, b.Floor) &&
		eqPtr(a.Beds, b.Beds) &&
		eqPtr(a.Baths, b.Baths) &&
		eqPtr(a.SqFt, b.SqFt) &&
		eqPtr(a.Rent, b.Rent) &&
		eqPtr(a.FloorplanName, b.FloorplanName) &&
		eqPtr(a.View, b.View) &&
		eqTime(a.AvailableOn, b.AvailableOn)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
