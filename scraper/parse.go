package scraper

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bldg_sync/config"
	"bldg_sync/identity"
	"bldg_sync/models"
	"github.com/PuerkitoBio/goquery"
)

var (
	priceRe     = regexp.MustCompile(`\$\s*([\d,]{3,}(?:\.\d{2})?)`)
	unitLabelRe = regexp.MustCompile(`(?i)(?:\b(?:unit|apt\.?|apartment|residence|suite|home)\s*#?\s*|#\s*)([A-Za-z]{0,3}\d[\w-]*)`)
	bedsRe      = regexp.MustCompile(`(?i)(\d+)\s*(?:bed(?:room)?s?|br|bd)\b`)
	studioRe    = regexp.MustCompile(`(?i)\bstudio\b`)
	bathsRe     = regexp.MustCompile(`(?i)(\d+(?:\.\d)?)\s*(?:bath(?:room)?s?|ba)\b`)
	sqftRe      = regexp.MustCompile(`(?i)([\d,]{3,})\s*(?:sq\.?\s*\.?\s*ft\.?|sf\b|square\s+feet)`)
	floorRe     = regexp.MustCompile(`(?i)\bfloor\s*:?\s*(\d{1,3})\b|\b(\d{1,3})(?:st|nd|rd|th)\s+floor\b`)
	availRe     = regexp.MustCompile(`(?i)available\s*(?:on|from|:)?\s*([A-Za-z]{3,9}\.?\s+\d{1,2}(?:,?\s*\d{4})?|\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2})`)
	leaseRe     = regexp.MustCompile(`(?i)(\d{1,2})[- ]?month`)
	numberRe    = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)

	cardClassRe    = regexp.MustCompile(`(?i)unit|apartment|residence|listing|floorplan|fp-`)
	amenityBlockRe = regexp.MustCompile(`(?i)amenit|feature`)
	specialClassRe = regexp.MustCompile(`(?i)special|promo|concession|incentive`)
	specialTextRe  = regexp.MustCompile(`(?i)\d+\s*(?:weeks?|months?)\s*free|move[- ]in special|look\s*(?:&|and)\s*lease|free rent`)
	petTextRe      = regexp.MustCompile(`(?i)pet[^.]{0,40}(?:policy|friendly|welcome|deposit|fee|rent|allowed)|(?:cats?|dogs?)[^.]{0,40}(?:allowed|welcome|accepted)|no\s*pets?\s*allowed`)
	parkingTextRe  = regexp.MustCompile(`(?i)parking[^.]{0,60}(?:\$|month|available|garage|included|space|spot)|garage\s+parking`)
	noAvailRe      = regexp.MustCompile(`(?i)no\s+(?:units|apartments|homes|residences)\s+(?:are\s+)?(?:currently\s+)?available|there\s+are\s+(?:currently\s+)?no\s+(?:available\s+)?(?:units|apartments|homes)|currently\s+fully\s+leased|no\s+availability|join\s+(?:our|the)\s+wait\s*list`)
)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"1/2/06",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Jan. 2, 2006",
	"January 2",
	"Jan 2",
}

// parsed holds what the heuristic parser found on one page
type parsed struct {
	Units          []models.ExtractedUnit
	Amenities      []models.ExtractedAmenity
	PetPolicy      *string
	ParkingPolicy  *string
	MoveInSpecials *string
	NoAvailability bool
	Method         string
}

func (p *parsed) merge(o *parsed) {
	if len(p.Units) == 0 && len(o.Units) > 0 {
		p.Units = o.Units
		p.Method = o.Method
	}
	if len(o.Amenities) > 0 {
		p.Amenities = dedupeAmenities(append(p.Amenities, o.Amenities...))
	}
	if p.PetPolicy == nil {
		p.PetPolicy = o.PetPolicy
	}
	if p.ParkingPolicy == nil {
		p.ParkingPolicy = o.ParkingPolicy
	}
	if p.MoveInSpecials == nil {
		p.MoveInSpecials = o.MoveInSpecials
	}
	p.NoAvailability = p.NoAvailability || o.NoAvailability
}

func (p *parsed) empty() bool {
	return len(p.Units) == 0 && len(p.Amenities) == 0 &&
		p.PetPolicy == nil && p.ParkingPolicy == nil && p.MoveInSpecials == nil
}

// parsePage runs the structural strategies in order of reliability:
// site profile, JSON-LD, tables, then cards.
func parsePage(doc *goquery.Document, profile *config.SiteProfile, now time.Time) *parsed {
	out := &parsed{}

	if profile != nil && profile.Selectors.Unit != "" {
		out.Units = unitsFromProfile(doc, profile.Selectors, now)
		out.Method = "profile"
	}
	if len(out.Units) == 0 {
		out.Units = unitsFromJSONLD(doc, now)
		out.Method = "jsonld"
	}
	if len(out.Units) == 0 {
		out.Units = unitsFromTables(doc, now)
		out.Method = "heuristic"
	}
	if len(out.Units) == 0 {
		out.Units = unitsFromCards(doc, now)
	}
	out.Units = dedupeUnits(out.Units)

	var amenitySel string
	if profile != nil {
		amenitySel = profile.Selectors.Amenity
	}
	out.Amenities = amenitiesFromDoc(doc, amenitySel)

	var sel config.ProfileSelectors
	if profile != nil {
		sel = profile.Selectors
	}
	out.PetPolicy = textFor(doc, sel.PetPolicy, petTextRe)
	out.ParkingPolicy = textFor(doc, sel.ParkingPolicy, parkingTextRe)
	out.MoveInSpecials = specialsFromDoc(doc, sel.Specials)
	out.NoAvailability = noAvailRe.MatchString(cleanText(doc.Find("body").Text()))

	return out
}

func unitsFromProfile(doc *goquery.Document, sel config.ProfileSelectors, now time.Time) []models.ExtractedUnit {
	var units []models.ExtractedUnit
	doc.Find(sel.Unit).Each(func(_ int, s *goquery.Selection) {
		field := func(q string) string {
			if q == "" {
				return ""
			}
			return cleanText(s.Find(q).First().Text())
		}
		all := cleanText(s.Text())

		u := models.ExtractedUnit{}
		if num := field(sel.UnitNumber); num != "" {
			u.UnitNumber = num
		} else if v, ok := s.Attr("data-unit"); ok {
			u.UnitNumber = v
		} else if m := unitLabelRe.FindStringSubmatch(all); m != nil {
			u.UnitNumber = m[1]
		}
		u.Beds = parseBeds(firstNonEmpty(field(sel.Beds), all))
		u.Baths = parseBaths(firstNonEmpty(field(sel.Baths), all))
		u.SqFt = parseSqft(firstNonEmpty(field(sel.SqFt), all))
		u.Rent = parseRent(firstNonEmpty(field(sel.Rent), all))
		u.AvailableOn = parseAvailable(firstNonEmpty(field(sel.AvailableOn), all), now)
		if fp := field(sel.Floorplan); fp != "" {
			u.FloorplanName = &fp
		}
		u.Floor = parseFloor(all)
		fillLeaseTerm(&u, all)
		units = append(units, u)
	})
	return units
}

// unitsFromJSONLD reads schema.org Apartment/Accommodation nodes
func unitsFromJSONLD(doc *goquery.Document, now time.Time) []models.ExtractedUnit {
	var units []models.ExtractedUnit
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return
		}
		walkJSONLD(data, func(node map[string]any) {
			if !isUnitType(node["@type"]) {
				return
			}
			u := models.ExtractedUnit{}
			if v := jsonString(node["unitNumber"]); v != "" {
				u.UnitNumber = v
			} else {
				name := jsonString(node["name"])
				if m := unitLabelRe.FindStringSubmatch(name); m != nil {
					u.UnitNumber = m[1]
				} else {
					u.UnitNumber = name
				}
			}
			if n, ok := jsonNumber(node["numberOfBedrooms"]); ok {
				b := int(n)
				u.Beds = &b
			} else if n, ok := jsonNumber(node["numberOfRooms"]); ok {
				b := int(n)
				u.Beds = &b
			}
			if n, ok := jsonNumber(node["numberOfBathroomsTotal"]); ok {
				u.Baths = &n
			}
			if fs, ok := node["floorSize"].(map[string]any); ok {
				if n, ok := jsonNumber(fs["value"]); ok {
					sq := int(n)
					u.SqFt = &sq
				}
			}
			if n, ok := jsonNumber(node["floorLevel"]); ok {
				f := int(n)
				u.Floor = &f
			}
			if offers := firstOffer(node["offers"]); offers != nil {
				if n, ok := jsonNumber(offers["price"]); ok {
					u.Rent = &n
				}
				if d := jsonString(offers["availabilityStarts"]); d != "" {
					u.AvailableOn = parseDate(d, now)
				}
			}
			if u.Rent == nil {
				if n, ok := jsonNumber(node["price"]); ok {
					u.Rent = &n
				}
			}
			units = append(units, u)
		})
	})
	return units
}

func walkJSONLD(v any, visit func(map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		visit(t)
		for _, child := range t {
			walkJSONLD(child, visit)
		}
	case []any:
		for _, child := range t {
			walkJSONLD(child, visit)
		}
	}
}

func isUnitType(v any) bool {
	match := func(s string) bool {
		switch s {
		case "Apartment", "Accommodation", "SingleFamilyResidence", "House", "Room":
			return true
		}
		return false
	}
	switch t := v.(type) {
	case string:
		return match(t)
	case []any:
		for _, x := range t {
			if s, ok := x.(string); ok && match(s) {
				return true
			}
		}
	}
	return false
}

func firstOffer(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		if len(t) > 0 {
			if m, ok := t[0].(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func jsonString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func jsonNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		m := numberRe.FindString(t)
		if m == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		return n, err == nil
	}
	return 0, false
}

type tableColumns struct {
	unit, floor, beds, baths, sqft, rent, avail, plan int
}

// unitsFromTables maps header cells onto unit fields. A table needs at least
// a unit column and a rent column to count.
func unitsFromTables(doc *goquery.Document, now time.Time) []models.ExtractedUnit {
	var units []models.ExtractedUnit
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		cols := tableColumns{-1, -1, -1, -1, -1, -1, -1, -1}
		header := table.Find("thead tr").First()
		if header.Length() == 0 {
			header = table.Find("tr").First()
		}
		header.Find("th, td").Each(func(i int, c *goquery.Selection) {
			h := strings.ToLower(cleanText(c.Text()))
			switch {
			case strings.Contains(h, "unit") || strings.Contains(h, "apt") || strings.Contains(h, "residence"):
				setCol(&cols.unit, i)
			case strings.Contains(h, "bed"):
				setCol(&cols.beds, i)
			case strings.Contains(h, "bath"):
				setCol(&cols.baths, i)
			case strings.Contains(h, "sq") || strings.Contains(h, "size") || strings.Contains(h, "area"):
				setCol(&cols.sqft, i)
			case strings.Contains(h, "rent") || strings.Contains(h, "price"):
				setCol(&cols.rent, i)
			case strings.Contains(h, "avail") || strings.Contains(h, "move"):
				setCol(&cols.avail, i)
			case strings.Contains(h, "plan") || strings.Contains(h, "layout"):
				setCol(&cols.plan, i)
			case h == "floor" || h == "level":
				setCol(&cols.floor, i)
			}
		})
		if cols.unit < 0 || cols.rent < 0 {
			return
		}

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() == 0 {
				return
			}
			cell := func(i int) string {
				if i < 0 || i >= cells.Length() {
					return ""
				}
				return cleanText(cells.Eq(i).Text())
			}

			u := models.ExtractedUnit{UnitNumber: cell(cols.unit)}
			u.Beds = parseBeds(cell(cols.beds))
			u.Baths = parseBaths(cell(cols.baths))
			u.SqFt = parseSqft(cell(cols.sqft))
			u.Rent = parseRent(cell(cols.rent))
			u.AvailableOn = parseAvailable(cell(cols.avail), now)
			if f, err := strconv.Atoi(cell(cols.floor)); err == nil {
				u.Floor = &f
			}
			if fp := cell(cols.plan); fp != "" {
				u.FloorplanName = &fp
			}
			fillLeaseTerm(&u, cleanText(row.Text()))
			units = append(units, u)
		})
	})
	return units
}

func setCol(col *int, i int) {
	if *col < 0 {
		*col = i
	}
}

// unitsFromCards finds repeated blocks that each carry one unit label and one price
func unitsFromCards(doc *goquery.Document, now time.Time) []models.ExtractedUnit {
	var units []models.ExtractedUnit
	doc.Find("[class], [data-unit]").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		dataUnit, hasDataUnit := s.Attr("data-unit")
		if !hasDataUnit && !cardClassRe.MatchString(class) {
			return
		}

		text := cleanText(s.Text())
		if len(priceRe.FindAllString(text, 2)) != 1 {
			return
		}

		u := models.ExtractedUnit{}
		if hasDataUnit {
			u.UnitNumber = dataUnit
		} else if m := unitLabelRe.FindStringSubmatch(text); m != nil {
			u.UnitNumber = m[1]
		} else {
			return
		}
		u.Beds = parseBeds(text)
		u.Baths = parseBaths(text)
		u.SqFt = parseSqft(text)
		u.Rent = parseRent(text)
		u.Floor = parseFloor(text)
		u.AvailableOn = parseAvailable(text, now)
		fillLeaseTerm(&u, text)
		units = append(units, u)
	})
	return units
}

// dedupeUnits keeps the first occurrence of each normalized unit number.
// Nested card containers repeat the same unit.
func dedupeUnits(units []models.ExtractedUnit) []models.ExtractedUnit {
	seen := make(map[string]bool, len(units))
	out := make([]models.ExtractedUnit, 0, len(units))
	for _, u := range units {
		key := identity.NormalizeUnitNumber(u.UnitNumber)
		if key == "" {
			// left for the reconciler to report as skipped
			out = append(out, u)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, u)
	}
	return out
}

func amenitiesFromDoc(doc *goquery.Document, selector string) []models.ExtractedAmenity {
	var items []models.ExtractedAmenity
	add := func(text string, strict bool) {
		text = cleanText(text)
		if len(text) < 3 || len(text) > 100 {
			return
		}
		if strict && !looksLikeAmenity(text) {
			return
		}
		name, details := splitDetails(text)
		items = append(items, models.ExtractedAmenity{
			Name:     name,
			Category: CategorizeAmenity(name),
			Details:  details,
		})
	}

	if selector != "" {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) { add(s.Text(), false) })
		return dedupeAmenities(items)
	}

	// Sections labelled as amenities: trust every list item
	doc.Find("section, div, ul").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		class, _ := s.Attr("class")
		if !amenityBlockRe.MatchString(id + " " + class) {
			return
		}
		s.Find("li").Each(func(_ int, li *goquery.Selection) { add(li.Text(), false) })
	})
	doc.Find("h1, h2, h3, h4").Each(func(_ int, h *goquery.Selection) {
		if !amenityBlockRe.MatchString(h.Text()) {
			return
		}
		h.NextAllFiltered("ul").First().Find("li").Each(func(_ int, li *goquery.Selection) { add(li.Text(), false) })
	})

	// Elsewhere only keyword matches count
	if len(items) == 0 {
		doc.Find("li").Each(func(_ int, li *goquery.Selection) {
			if li.Find("a, li").Length() > 0 {
				return
			}
			add(li.Text(), true)
		})
	}

	items = dedupeAmenities(items)
	if len(items) > 50 {
		items = items[:50]
	}
	return items
}

func splitDetails(text string) (string, *string) {
	for _, sep := range []string{" - ", ": ", " – "} {
		if i := strings.Index(text, sep); i > 0 {
			d := strings.TrimSpace(text[i+len(sep):])
			if d != "" {
				return strings.TrimSpace(text[:i]), &d
			}
		}
	}
	return text, nil
}

func dedupeAmenities(items []models.ExtractedAmenity) []models.ExtractedAmenity {
	seen := make(map[string]bool, len(items))
	out := make([]models.ExtractedAmenity, 0, len(items))
	for _, a := range items {
		key := identity.NormalizeAmenityName(a.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// textFor returns the profile selector's text, or the first short block
// whose text matches pattern
func textFor(doc *goquery.Document, selector string, pattern *regexp.Regexp) *string {
	if selector != "" {
		if t := cleanText(doc.Find(selector).First().Text()); t != "" {
			return &t
		}
		return nil
	}
	var found *string
	doc.Find("p, li, dd, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := cleanText(s.Text())
		if len(t) > 300 || !pattern.MatchString(t) {
			return true
		}
		found = &t
		return false
	})
	return found
}

func specialsFromDoc(doc *goquery.Document, selector string) *string {
	if selector != "" {
		return textFor(doc, selector, specialTextRe)
	}
	var found *string
	doc.Find("[class]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		if !specialClassRe.MatchString(class) {
			return true
		}
		t := cleanText(s.Text())
		if t == "" || len(t) > 300 {
			return true
		}
		found = &t
		return false
	})
	if found != nil {
		return found
	}
	return textFor(doc, "", specialTextRe)
}

func parseBeds(s string) *int {
	if s == "" {
		return nil
	}
	if studioRe.MatchString(s) {
		z := 0
		return &z
	}
	if m := bedsRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return &n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return &n
	}
	return nil
}

func parseBaths(s string) *float64 {
	if s == "" {
		return nil
	}
	if m := bathsRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.ParseFloat(m[1], 64)
		return &n
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return &n
	}
	return nil
}

func parseSqft(s string) *int {
	if s == "" {
		return nil
	}
	raw := ""
	if m := sqftRe.FindStringSubmatch(s); m != nil {
		raw = m[1]
	} else if m := numberRe.FindString(s); m != "" && m == strings.TrimSpace(s) {
		raw = m
	}
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return nil
	}
	return &n
}

// parseRent takes the first dollar amount; ranges report their low end
func parseRent(s string) *float64 {
	raw := ""
	if m := priceRe.FindStringSubmatch(s); m != nil {
		raw = m[1]
	} else if m := numberRe.FindString(s); m != "" && m == strings.TrimSpace(s) {
		raw = m
	}
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &n
}

func parseFloor(s string) *int {
	m := floorRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

func fillLeaseTerm(u *models.ExtractedUnit, s string) {
	if m := leaseRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 && n <= 24 {
			u.LeaseTermMonths = &n
		}
	}
}

// parseAvailable returns nil for "now"/"today" and unparseable text
func parseAvailable(s string, now time.Time) *time.Time {
	if s == "" {
		return nil
	}
	if m := availRe.FindStringSubmatch(s); m != nil {
		return parseDate(m[1], now)
	}
	return parseDate(s, now)
}

// parseDate understands the formats property sites commonly print.
// A date without a year lands within a month behind or ten months ahead of now.
func parseDate(s string, now time.Time) *time.Time {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
	if len(s) >= 10 {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = t.AddDate(now.Year(), 0, 0)
			switch {
			case t.Before(now.AddDate(0, -1, 0)):
				t = t.AddDate(1, 0, 0)
			case t.After(now.AddDate(0, 10, 0)):
				t = t.AddDate(-1, 0, 0)
			}
		}
		return &t
	}
	return nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
