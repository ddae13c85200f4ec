package identity

import "testing"

func TestNormalizeUnitNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1204", "1204"},
		{"Apt #1204", "1204"},
		{"apt. 1204", "1204"},
		{"Unit 3b", "3B"},
		{"  Suite  PH - 2 ", "PH-2"},
		{"#12", "12"},
		{"Residence 7", "7"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeUnitNumber(tt.in); got != tt.want {
			t.Errorf("NormalizeUnitNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeAmenityName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Fitness Centre", "fitness center"},
		{"• Rooftop Deck & BBQ.", "rooftop deck and barbecue"},
		{"  24 Hour   Concierge ", "24-hour concierge"},
		{"✓ Pet Spa", "pet spa"},
	}

	for _, tt := range tests {
		if got := NormalizeAmenityName(tt.in); got != tt.want {
			t.Errorf("NormalizeAmenityName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
