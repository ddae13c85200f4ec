package models

import "time"

// ExtractedUnit is one unit row as parsed from a site, before reconciliation
type ExtractedUnit struct {
	UnitNumber       string     `json:"unit_number"`
	Floor            *int       `json:"floor,omitempty"`
	Beds             *int       `json:"beds,omitempty"`
	Baths            *float64   `json:"baths,omitempty"`
	SqFt             *int       `json:"sqft,omitempty"`
	Rent             *float64   `json:"rent,omitempty"`
	NetEffectiveRent *float64   `json:"net_effective_rent,omitempty"`
	LeaseTermMonths  *int       `json:"lease_term_months,omitempty"`
	AvailableOn      *time.Time `json:"available_on,omitempty"`
	FloorplanName    *string    `json:"floorplan_name,omitempty"`
	View             *string    `json:"view,omitempty"`
}

type ExtractedAmenity struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Details  *string `json:"details,omitempty"`
}

// ExtractResult is the pure output of one extraction
type ExtractResult struct {
	Units          []ExtractedUnit    `json:"units"`
	Amenities      []ExtractedAmenity `json:"amenities"`
	PetPolicy      *string            `json:"pet_policy,omitempty"`
	ParkingPolicy  *string            `json:"parking_policy,omitempty"`
	MoveInSpecials *string            `json:"move_in_specials,omitempty"`
	SourceURL      string             `json:"source_url"`
	ScrapedAt      time.Time          `json:"scraped_at"`
	HTMLLength     int                `json:"html_length"`
	Method         string             `json:"method"` // profile, jsonld, heuristic, llm
}
