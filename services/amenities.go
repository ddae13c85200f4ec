package services

import (
	"context"
	"strings"

	"bldg_sync/identity"
	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type amenityStore interface {
	storage.AmenityStore
	UpdateTargetPolicies(ctx context.Context, id uuid.UUID, pet, parking, specials *string) error
}

// AmenityWriter links extracted amenities to a target and overwrites its policies
type AmenityWriter struct {
	store amenityStore
}

func NewAmenityWriter(store amenityStore) *AmenityWriter {
	return &AmenityWriter{store: store}
}

type AmenityResult struct {
	AmenitiesFound  int `json:"amenities_found"`
	AmenitiesLinked int `json:"amenities_linked"`
	Skipped         int `json:"skipped"`
}

// Link upserts each amenity into the shared catalog by normalized name and
// links it to the target. One bad amenity never blocks the rest.
func (w *AmenityWriter) Link(ctx context.Context, targetID uuid.UUID, amenities []models.ExtractedAmenity) (*AmenityResult, error) {
	res := &AmenityResult{AmenitiesFound: len(amenities)}
	failures := 0

	for _, a := range amenities {
		name := identity.NormalizeAmenityName(a.Name)
		if name == "" {
			res.Skipped++
			continue
		}
		category := strings.ToLower(strings.TrimSpace(a.Category))
		if category == "" {
			category = models.AmenityOther
		}

		amenity, err := w.store.GetOrCreateAmenity(ctx, name, category)
		if err != nil {
			failures++
			zap.L().Warn("amenity upsert failed", zap.String("amenity", name), zap.Error(err))
			continue
		}
		link := &models.TargetAmenity{TargetID: targetID, AmenityID: amenity.ID, Details: a.Details}
		if err := w.store.LinkAmenity(ctx, link); err != nil {
			failures++
			zap.L().Warn("amenity link failed", zap.String("amenity", name), zap.Error(err))
			continue
		}
		res.AmenitiesLinked++
	}

	if failures > 0 && res.AmenitiesLinked == 0 {
		return res, eris.Errorf("amenities: all %d writes failed for target %s", failures, targetID)
	}
	return res, nil
}

// UpdatePolicies overwrites the policy fields that were discovered; nil keeps the stored value
func (w *AmenityWriter) UpdatePolicies(ctx context.Context, targetID uuid.UUID, pet, parking, specials *string) error {
	if pet == nil && parking == nil && specials == nil {
		return nil
	}
	return eris.Wrapf(w.store.UpdateTargetPolicies(ctx, targetID, pet, parking, specials), "amenities: update policies for %s", targetID)
}
