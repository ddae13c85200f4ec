package scraper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bldg_sync/config"
	"bldg_sync/models"
	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func parseFixture(t *testing.T, name string, profile *config.SiteProfile) *parsed {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytesReader(loadFixture(t, name)))
	require.NoError(t, err)
	return parsePage(doc, profile, fixedNow)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParsePage_Table(t *testing.T) {
	p := parseFixture(t, "table.html", nil)

	require.Len(t, p.Units, 3)
	assert.Equal(t, "heuristic", p.Method)

	u := p.Units[0]
	assert.Equal(t, "Apt #1204", u.UnitNumber)
	assert.Equal(t, 2, *u.Beds)
	assert.Equal(t, 2.0, *u.Baths)
	assert.Equal(t, 1100, *u.SqFt)
	assert.Equal(t, 3500.0, *u.Rent)
	require.NotNil(t, u.AvailableOn)
	assert.True(t, u.AvailableOn.Equal(day(2025, 2, 1)))
	assert.Equal(t, "The Summit", *u.FloorplanName)

	studio := p.Units[1]
	assert.Equal(t, "305", studio.UnitNumber)
	assert.Equal(t, 0, *studio.Beds)
	assert.Nil(t, studio.AvailableOn, "available now has no date")

	ph := p.Units[2]
	assert.Equal(t, "PH-2", ph.UnitNumber)
	assert.Equal(t, 2.5, *ph.Baths)
	assert.True(t, ph.AvailableOn.Equal(day(2025, 3, 15)))

	require.NotNil(t, p.PetPolicy)
	assert.Contains(t, *p.PetPolicy, "$500 deposit")
	require.NotNil(t, p.ParkingPolicy)
	assert.Contains(t, *p.ParkingPolicy, "$150/month")
	require.NotNil(t, p.MoveInSpecials)
	assert.Contains(t, *p.MoveInSpecials, "1 month free")
	assert.False(t, p.NoAvailability)
}

func TestParsePage_Cards(t *testing.T) {
	p := parseFixture(t, "cards.html", nil)

	require.Len(t, p.Units, 3)
	assert.Equal(t, "4B", p.Units[0].UnitNumber)
	assert.Equal(t, 1, *p.Units[0].Beds)
	assert.Equal(t, 725, *p.Units[0].SqFt)
	assert.Equal(t, 2400.0, *p.Units[0].Rent)
	assert.True(t, p.Units[0].AvailableOn.Equal(day(2025, 3, 1)))

	assert.Equal(t, "7C", p.Units[1].UnitNumber)
	assert.Equal(t, 3150.0, *p.Units[1].Rent)
	assert.Nil(t, p.Units[1].AvailableOn)

	assert.Equal(t, "9A", p.Units[2].UnitNumber)
	assert.Equal(t, 0, *p.Units[2].Beds)
}

func TestParsePage_JSONLD(t *testing.T) {
	p := parseFixture(t, "jsonld.html", nil)

	require.Len(t, p.Units, 2)
	assert.Equal(t, "jsonld", p.Method)
	assert.Equal(t, "210", p.Units[0].UnitNumber)
	assert.Equal(t, 640, *p.Units[0].SqFt)
	assert.Equal(t, 2450.0, *p.Units[0].Rent)
	assert.True(t, p.Units[0].AvailableOn.Equal(day(2025, 4, 1)))
	assert.Equal(t, "311", p.Units[1].UnitNumber)
	assert.Equal(t, 3325.0, *p.Units[1].Rent)
}

func TestParsePage_Amenities(t *testing.T) {
	p := parseFixture(t, "amenities.html", nil)

	require.Len(t, p.Amenities, 5, "duplicate rooftop pool collapses")
	byName := map[string]models.ExtractedAmenity{}
	for _, a := range p.Amenities {
		byName[a.Name] = a
	}
	assert.Equal(t, models.AmenityOutdoor, byName["Rooftop Pool"].Category)
	assert.Equal(t, models.AmenityFitness, byName["24/7 Fitness Center"].Category)
	assert.Equal(t, models.AmenitySocial, byName["Resident Lounge"].Category)
	assert.Equal(t, models.AmenityConvenience, byName["EV Charging"].Category)

	spa := byName["Pet Spa"]
	assert.Equal(t, models.AmenityPet, spa.Category)
	require.NotNil(t, spa.Details)
	assert.Equal(t, "self-service grooming station", *spa.Details)

	require.NotNil(t, p.PetPolicy)
	assert.Contains(t, *p.PetPolicy, "pet rent")
	assert.Empty(t, p.Units)
}

func TestParsePage_NoAvailability(t *testing.T) {
	p := parseFixture(t, "no_availability.html", nil)
	assert.True(t, p.NoAvailability)
	assert.Empty(t, p.Units)
}

func TestParsePage_Blank(t *testing.T) {
	p := parseFixture(t, "blank.html", nil)
	assert.True(t, p.empty())
	assert.False(t, p.NoAvailability)
}

func TestParsePage_ProfileSelectors(t *testing.T) {
	html := `<html><body>
<div class="fp-row"><span class="num">1501</span><span class="price">$4,100</span><span class="bd">2 Bed</span></div>
<div class="fp-row"><span class="num">1502</span><span class="price">$4,250</span><span class="bd">2 Bed</span></div>
<ul><li class="amen">Sky Lounge</li><li class="amen">Cold Plunge</li></ul>
</body></html>`
	profile := &config.SiteProfile{
		Host: "example.com",
		Selectors: config.ProfileSelectors{
			Unit:       ".fp-row",
			UnitNumber: ".num",
			Rent:       ".price",
			Beds:       ".bd",
			Amenity:    "li.amen",
		},
	}
	doc, err := goquery.NewDocumentFromReader(bytesReader([]byte(html)))
	require.NoError(t, err)

	p := parsePage(doc, profile, fixedNow)
	require.Len(t, p.Units, 2)
	assert.Equal(t, "profile", p.Method)
	assert.Equal(t, "1502", p.Units[1].UnitNumber)
	assert.Equal(t, 4250.0, *p.Units[1].Rent)
	assert.Equal(t, 2, *p.Units[1].Beds)

	require.Len(t, p.Amenities, 2)
	assert.Equal(t, models.AmenityWellness, p.Amenities[1].Category)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want *time.Time
	}{
		{"2025-06-01", ptrTime(day(2025, 6, 1))},
		{"6/1/2025", ptrTime(day(2025, 6, 1))},
		{"June 1, 2025", ptrTime(day(2025, 6, 1))},
		{"Jun 1", ptrTime(day(2025, 6, 1))},
		{"Dec 20", ptrTime(day(2024, 12, 20))},
		{"Nov 1", ptrTime(day(2025, 11, 1))},
		{"2025-06-01T00:00:00Z", ptrTime(day(2025, 6, 1))},
		{"now", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseDate(tt.in, fixedNow)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s", got)
		})
	}
}

func TestParseRentAndSize(t *testing.T) {
	assert.Equal(t, 2150.0, *parseRent("From $2,150 - $2,400"))
	assert.Equal(t, 1999.5, *parseRent("$1,999.50"))
	assert.Equal(t, 2800.0, *parseRent("2800"))
	assert.Nil(t, parseRent("Call for pricing"))

	assert.Equal(t, 1250, *parseSqft("1,250 sq. ft."))
	assert.Equal(t, 800, *parseSqft("800 SF"))
	assert.Nil(t, parseSqft("spacious"))

	assert.Equal(t, 0, *parseBeds("Studio"))
	assert.Equal(t, 3, *parseBeds("3BR"))
	assert.Equal(t, 1.5, *parseBaths("1.5 Bath"))
}

func TestCategorizeAmenity(t *testing.T) {
	assert.Equal(t, models.AmenityWellness, CategorizeAmenity("Infrared Sauna"))
	assert.Equal(t, models.AmenitySecurity, CategorizeAmenity("24-Hour Concierge"))
	assert.Equal(t, models.AmenityTech, CategorizeAmenity("Smart Home Technology"))
	assert.Equal(t, models.AmenityComfort, CategorizeAmenity("In-Unit Washer & Dryer"))
	assert.Equal(t, models.AmenityOther, CategorizeAmenity("Art Gallery"))

	assert.Equal(t, models.AmenityOutdoor, normalizeCategory("Outdoor", "anything"))
	assert.Equal(t, models.AmenityFitness, normalizeCategory("recreation", "Yoga Studio"))
}

func ptrTime(t time.Time) *time.Time { return &t }
