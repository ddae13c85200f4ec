package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"bldg_sync/models"
	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const maxPromptHTML = 100000

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

const unitsPrompt = `You extract apartment availability from building websites.

List every rental unit currently offered on this page. For each unit return:
- unit_number: the unit or apartment number
- floor: floor number if shown
- beds: bedrooms (0 for studio)
- baths: bathrooms
- sqft: square footage
- rent: monthly rent in dollars, number only
- available_on: move-in date as YYYY-MM-DD if shown
- floorplan_name: floor plan name if shown
- view: view type if mentioned (city, water, park)

Respond with one JSON object:
{"units": [{"unit_number": "1204", "beds": 2, "baths": 2, "sqft": 1100, "rent": 3500, "available_on": "2025-02-01"}], "move_in_specials": ["2 months free on 13+ month lease"]}

If the page lists no units, respond {"units": []}. JSON only.`

const amenitiesPrompt = `You extract building amenities from apartment websites.

Categorize each amenity as one of:
- fitness: gym, yoga studio, fitness center
- outdoor: pool, rooftop, garden, barbecue
- social: lounge, game room, theater, coworking
- pet: pet spa, dog park, dog run
- security: doorman, concierge, 24/7 security
- convenience: parking, EV charging, bike storage, package room
- wellness: spa, sauna, steam room, cold plunge, hot tub
- tech: smart home, high-speed internet
- comfort: in-unit laundry, balcony, floor-to-ceiling windows

Respond with one JSON object:
{"amenities": [{"name": "Rooftop Pool", "category": "outdoor", "description": "50th floor infinity pool"}], "pet_policy": "Pets welcome, $500 deposit", "parking_policy": "$150/month covered parking"}

JSON only.`

// Completer sends one prompt to a language model and returns its text reply
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// AnthropicCompleter implements Completer on the Messages API
type AnthropicCompleter struct {
	client sdk.Client
	model  string
}

func NewAnthropicCompleter(apiKey, model string, httpClient *http.Client, opts ...option.RequestOption) *AnthropicCompleter {
	base := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		base = append(base, option.WithHTTPClient(httpClient))
	}
	return &AnthropicCompleter{
		client: sdk.NewClient(append(base, opts...)...),
		model:  model,
	}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   4096,
		System:      []sdk.TextBlockParam{{Text: system}},
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Temperature: sdk.Float(0.1),
	})
	if err != nil {
		return "", eris.Wrap(err, "anthropic: create message")
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	zap.L().Debug("llm extraction",
		zap.String("model", c.model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)
	return sb.String(), nil
}

type llmUnit struct {
	UnitNumber    any      `json:"unit_number"`
	Floor         *float64 `json:"floor"`
	Beds          *float64 `json:"beds"`
	Baths         *float64 `json:"baths"`
	SqFt          *float64 `json:"sqft"`
	Rent          *float64 `json:"rent"`
	AvailableOn   string   `json:"available_on"`
	FloorplanName string   `json:"floorplan_name"`
	View          string   `json:"view"`
}

type llmUnitsReply struct {
	Units          []llmUnit `json:"units"`
	MoveInSpecials []string  `json:"move_in_specials"`
}

type llmAmenity struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type llmAmenitiesReply struct {
	Amenities     []llmAmenity `json:"amenities"`
	PetPolicy     string       `json:"pet_policy"`
	ParkingPolicy string       `json:"parking_policy"`
}

func truncateHTML(html []byte) string {
	if len(html) > maxPromptHTML {
		return string(html[:maxPromptHTML]) + "\n... [truncated]"
	}
	return string(html)
}

// decodeReply pulls the outermost JSON object out of a model reply
func decodeReply(reply string, v any) error {
	raw := jsonObjectRe.FindString(reply)
	if raw == "" {
		return eris.New("no JSON object in model reply")
	}
	return eris.Wrap(json.Unmarshal([]byte(raw), v), "decode model reply")
}

func llmUnits(ctx context.Context, c Completer, sourceURL string, html []byte, now time.Time) (*parsed, error) {
	reply, err := c.Complete(ctx, unitsPrompt, "URL: "+sourceURL+"\n\nHTML:\n"+truncateHTML(html))
	if err != nil {
		return nil, err
	}
	var r llmUnitsReply
	if err := decodeReply(reply, &r); err != nil {
		return nil, err
	}

	out := &parsed{Method: "llm"}
	for _, lu := range r.Units {
		u := models.ExtractedUnit{
			UnitNumber: jsonString(lu.UnitNumber),
			Baths:      lu.Baths,
			Rent:       lu.Rent,
		}
		u.Floor = floatToInt(lu.Floor)
		u.Beds = floatToInt(lu.Beds)
		u.SqFt = floatToInt(lu.SqFt)
		if lu.AvailableOn != "" {
			u.AvailableOn = parseDate(lu.AvailableOn, now)
		}
		if lu.FloorplanName != "" {
			fp := lu.FloorplanName
			u.FloorplanName = &fp
		}
		if lu.View != "" {
			v := lu.View
			u.View = &v
		}
		out.Units = append(out.Units, u)
	}
	if len(r.MoveInSpecials) > 0 {
		s := strings.Join(r.MoveInSpecials, "; ")
		out.MoveInSpecials = &s
	}
	out.Units = dedupeUnits(out.Units)
	return out, nil
}

func llmAmenities(ctx context.Context, c Completer, sourceURL string, html []byte) (*parsed, error) {
	reply, err := c.Complete(ctx, amenitiesPrompt, "URL: "+sourceURL+"\n\nHTML:\n"+truncateHTML(html))
	if err != nil {
		return nil, err
	}
	var r llmAmenitiesReply
	if err := decodeReply(reply, &r); err != nil {
		return nil, err
	}

	out := &parsed{Method: "llm"}
	for _, a := range r.Amenities {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		am := models.ExtractedAmenity{Name: name, Category: normalizeCategory(a.Category, name)}
		if d := strings.TrimSpace(a.Description); d != "" {
			am.Details = &d
		}
		out.Amenities = append(out.Amenities, am)
	}
	out.Amenities = dedupeAmenities(out.Amenities)
	if p := strings.TrimSpace(r.PetPolicy); p != "" {
		out.PetPolicy = &p
	}
	if p := strings.TrimSpace(r.ParkingPolicy); p != "" {
		out.ParkingPolicy = &p
	}
	return out, nil
}

func floatToInt(f *float64) *int {
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}
