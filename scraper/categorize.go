package scraper

import (
	"strings"

	"bldg_sync/models"
)

// categoryKeywords is checked in order; the first matching category wins
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{models.AmenityPet, []string{"pet", "dog", "cat ", "bark park", "grooming"}},
	{models.AmenityWellness, []string{"spa", "sauna", "steam room", "cold plunge", "hot tub", "jacuzzi", "massage"}},
	{models.AmenityFitness, []string{"gym", "fitness", "yoga", "pilates", "weight room", "cycling studio", "basketball", "tennis", "squash"}},
	{models.AmenityOutdoor, []string{"pool", "rooftop", "roof deck", "garden", "courtyard", "barbecue", "grill", "fire pit", "terrace", "sundeck", "playground"}},
	{models.AmenitySocial, []string{"lounge", "game room", "billiards", "theater", "theatre", "screening room", "coworking", "co-working", "business center", "clubhouse", "party room", "library", "golf simulator"}},
	{models.AmenitySecurity, []string{"doorman", "concierge", "security", "controlled access", "keyless", "gated", "video intercom"}},
	{models.AmenityTech, []string{"smart home", "wifi", "wi-fi", "internet", "fiber", "smart lock", "nest", "usb"}},
	{models.AmenityConvenience, []string{"parking", "garage", "ev charging", "bike", "package", "storage", "valet", "elevator", "dry cleaning", "laundry room"}},
	{models.AmenityComfort, []string{"in-unit", "washer", "dryer", "balcony", "floor-to-ceiling", "hardwood", "stainless", "quartz", "granite", "dishwasher", "air conditioning", "walk-in closet", "view"}},
}

var knownCategories = map[string]bool{
	models.AmenityFitness:     true,
	models.AmenityOutdoor:     true,
	models.AmenitySocial:      true,
	models.AmenityPet:         true,
	models.AmenitySecurity:    true,
	models.AmenityConvenience: true,
	models.AmenityWellness:    true,
	models.AmenityTech:        true,
	models.AmenityComfort:     true,
	models.AmenityOther:       true,
}

// CategorizeAmenity assigns a category by keyword, or "other"
func CategorizeAmenity(name string) string {
	lower := " " + strings.ToLower(name) + " "
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.category
			}
		}
	}
	return models.AmenityOther
}

// normalizeCategory keeps a supplied category when it is one we know
func normalizeCategory(category, name string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if knownCategories[c] {
		return c
	}
	return CategorizeAmenity(name)
}

func looksLikeAmenity(text string) bool {
	return CategorizeAmenity(text) != models.AmenityOther
}
