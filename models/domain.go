package models

import (
	"time"

	"github.com/google/uuid"
)

// Target is a building whose website is scraped for availability
type Target struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	WebsiteURL     *string   `json:"website_url" db:"website_url"` // nil is valid, extraction always fails
	City           string    `json:"city" db:"city"`
	Group          string    `json:"group" db:"grouping"` // neighborhood or portfolio slug
	PetPolicy      *string   `json:"pet_policy" db:"pet_policy"`
	ParkingPolicy  *string   `json:"parking_policy" db:"parking_policy"`
	MoveInSpecials *string   `json:"move_in_specials" db:"move_in_specials"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// HasWebsite reports whether the target can be fetched at all
func (t *Target) HasWebsite() bool {
	return t.WebsiteURL != nil && *t.WebsiteURL != ""
}

// Unit is a rentable apartment. Natural key is (TargetID, UnitNumber).
type Unit struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	TargetID      uuid.UUID  `json:"target_id" db:"target_id"`
	UnitNumber    string     `json:"unit_number" db:"unit_number"`
	Floor         *int       `json:"floor" db:"floor"`
	Beds          *int       `json:"beds" db:"beds"` // 0 = studio
	Baths         *float64   `json:"baths" db:"baths"`
	SqFt          *int       `json:"sqft" db:"sqft"`
	Rent          *float64   `json:"rent" db:"rent"`
	IsAvailable   bool       `json:"is_available" db:"is_available"`
	AvailableOn   *time.Time `json:"available_on" db:"available_on"`
	FloorplanName *string    `json:"floorplan_name" db:"floorplan_name"`
	View          *string    `json:"view" db:"view"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// UnitWithPrice pairs a unit with its current snapshot, if any
type UnitWithPrice struct {
	Unit
	CurrentPrice *PriceSnapshot `json:"current_price"`
}

// Amenity is a shared catalog entry keyed by normalized name
type Amenity struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Category  string    `json:"category" db:"category"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TargetAmenity links an amenity to a building with free-form details
type TargetAmenity struct {
	TargetID  uuid.UUID `json:"target_id" db:"target_id"`
	AmenityID uuid.UUID `json:"amenity_id" db:"amenity_id"`
	Details   *string   `json:"details" db:"details"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Amenity categories
const (
	AmenityFitness     = "fitness"
	AmenityOutdoor     = "outdoor"
	AmenitySocial      = "social"
	AmenityPet         = "pet"
	AmenitySecurity    = "security"
	AmenityConvenience = "convenience"
	AmenityWellness    = "wellness"
	AmenityTech        = "tech"
	AmenityComfort     = "comfort"
	AmenityOther       = "other"
)

// TargetFilter restricts selection to a city and/or group
type TargetFilter struct {
	City  string `json:"city,omitempty"`
	Group string `json:"group,omitempty"`
}

// Matches reports whether the target passes the filter
func (f TargetFilter) Matches(t *Target) bool {
	if f.City != "" && t.City != f.City {
		return false
	}
	if f.Group != "" && t.Group != f.Group {
		return false
	}
	return true
}
