package services

import (
	"context"
	"testing"
	"time"

	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func ptr[T any](v T) *T { return &v }

var t0 = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func clock(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func seedTarget(t *testing.T, store *storage.MemoryStore, name string) models.Target {
	t.Helper()
	site := "https://" + name + ".example"
	tg := models.Target{Name: name, WebsiteURL: &site, City: "nyc", Group: "uptown"}
	require.NoError(t, store.UpsertTarget(context.Background(), &tg))
	return tg
}
