package identity

import (
	"regexp"
	"strings"
)

var (
	unitPrefixRegex = regexp.MustCompile(`^(?:apartment|apt|unit|suite|ste|residence|home|no)\b\.?\s*`)
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	dashSpaceRegex  = regexp.MustCompile(`\s*-\s*`)
	bulletRegex     = regexp.MustCompile(`^[\s\-\*•·✓✔]+`)
	trailingPunct   = regexp.MustCompile(`[\s\.,;:!]+$`)
)

var amenityReplacements = map[string]string{
	"&":              "and",
	"w/":             "with ",
	"24/7":           "24-hour",
	"24 hour":        "24-hour",
	"fitness centre": "fitness center",
	"bbq":            "barbecue",
}

// NormalizeUnitNumber canonicalizes the natural-key half that comes from the site.
// "Apt #1204" and "unit 1204" both become "1204"; "ph - 2" becomes "PH-2".
func NormalizeUnitNumber(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "#", " ")
	for {
		trimmed := strings.TrimSpace(unitPrefixRegex.ReplaceAllString(s, ""))
		if trimmed == s {
			break
		}
		s = trimmed
	}
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	s = dashSpaceRegex.ReplaceAllString(s, "-")
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeAmenityName produces the shared-catalog key for an amenity label
func NormalizeAmenityName(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = bulletRegex.ReplaceAllString(s, "")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	for from, to := range amenityReplacements {
		s = strings.ReplaceAll(s, from, to)
	}
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	s = trailingPunct.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
