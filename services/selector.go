package services

import (
	"context"
	"time"

	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TargetSelector picks the targets due for a scrape
type TargetSelector struct {
	store storage.StatusStore
	now   func() time.Time
}

func NewTargetSelector(store storage.StatusStore) *TargetSelector {
	return &TargetSelector{store: store, now: time.Now}
}

// Select returns up to sel.Limit enabled targets whose last attempt for
// sel.Mode is missing or older than the staleness window. Never-attempted
// targets come first, then the oldest attempt. An empty result is not an error.
func (s *TargetSelector) Select(ctx context.Context, sel models.Selection) ([]models.Target, error) {
	if !sel.Mode.Valid() {
		return nil, eris.Errorf("selector: unknown mode %q", sel.Mode)
	}
	if sel.Limit < 0 {
		sel.Limit = 0
	}
	cutoff := s.now().UTC().Add(-sel.StaleAfter())

	targets, err := s.store.ListDueTargets(ctx, sel.Filter(), sel.Mode, cutoff, sel.Limit)
	if err != nil {
		return nil, eris.Wrap(err, "selector: list due targets")
	}

	zap.L().Debug("selected targets",
		zap.String("mode", string(sel.Mode)),
		zap.String("group", sel.Group),
		zap.String("city", sel.City),
		zap.Time("cutoff", cutoff),
		zap.Int("count", len(targets)),
	)
	return targets, nil
}
