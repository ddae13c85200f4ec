package main

import (
	"testing"

	"bldg_sync/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetFromSeed(t *testing.T) {
	a, err := targetFromSeed(config.TargetSeed{Name: "The Aldyn", WebsiteURL: " https://thealdyn.com ", City: "nyc"})
	require.NoError(t, err)
	b, err := targetFromSeed(config.TargetSeed{Name: "the aldyn", City: "NYC"})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID, "derived ids ignore case")
	require.NotNil(t, a.WebsiteURL)
	assert.Equal(t, "https://thealdyn.com", *a.WebsiteURL)
	assert.Nil(t, b.WebsiteURL)

	c, err := targetFromSeed(config.TargetSeed{ID: "6f1c1b7e-2f7a-4c55-9d59-0d6c2f1f4a10", Name: "Explicit"})
	require.NoError(t, err)
	assert.Equal(t, "6f1c1b7e-2f7a-4c55-9d59-0d6c2f1f4a10", c.ID.String())

	_, err = targetFromSeed(config.TargetSeed{ID: "nope", Name: "Bad"})
	assert.Error(t, err)
}

func TestWaitSelector(t *testing.T) {
	cfg := &config.Config{Sites: map[string]*config.SiteProfile{
		"example-residences.com": {Host: "example-residences.com", WaitFor: ".unit-card"},
	}}

	assert.Equal(t, ".unit-card", waitSelector(cfg, "https://www.Example-Residences.com/floorplans"))
	assert.Equal(t, "", waitSelector(cfg, "https://other.com/"))
	assert.Equal(t, "", waitSelector(cfg, "::bad"))
}
