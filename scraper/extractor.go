package scraper

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"time"

	"bldg_sync/config"
	"bldg_sync/models"
	"bldg_sync/storage"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Extractor turns a building website into units, amenities and policies.
// It never writes to the store; callers reconcile the result.
type Extractor struct {
	fetcher  Fetcher
	browser  Fetcher
	llm      Completer
	archiver storage.Archiver
	profiles map[string]*config.SiteProfile
	now      func() time.Time
}

type ExtractorOption func(*Extractor)

// WithBrowser sets the fetcher used for profiles that need JavaScript rendering
func WithBrowser(f Fetcher) ExtractorOption {
	return func(e *Extractor) { e.browser = f }
}

// WithCompleter enables the language-model fallback
func WithCompleter(c Completer) ExtractorOption {
	return func(e *Extractor) { e.llm = c }
}

func WithArchiver(a storage.Archiver) ExtractorOption {
	return func(e *Extractor) { e.archiver = a }
}

func WithProfiles(p map[string]*config.SiteProfile) ExtractorOption {
	return func(e *Extractor) { e.profiles = p }
}

func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) { e.now = now }
}

func NewExtractor(fetcher Fetcher, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		fetcher:  fetcher,
		archiver: storage.NoOpArchiver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// fetchedPage pairs a fetched document with its parse
type fetchedPage struct {
	page   *Page
	parsed *parsed
}

// Extract fetches websiteURL and whatever sub-pages mode needs.
// Errors are *Failure values.
func (e *Extractor) Extract(ctx context.Context, websiteURL string, mode models.ScrapeMode) (*models.ExtractResult, error) {
	res, _, err := e.extract(ctx, websiteURL, mode)
	return res, err
}

// ExtractTarget is Extract plus raw page archiving for a known target
func (e *Extractor) ExtractTarget(ctx context.Context, t *models.Target, mode models.ScrapeMode) (*models.ExtractResult, error) {
	if !t.HasWebsite() {
		return nil, configFailure("target has no website")
	}
	res, pages, err := e.extract(ctx, *t.WebsiteURL, mode)
	for _, p := range pages {
		if _, aerr := e.archiver.Archive(ctx, t.ID, string(mode), p.page.HTML); aerr != nil {
			zap.L().Warn("archive raw page failed", zap.String("target", t.Name), zap.Error(aerr))
		}
	}
	return res, err
}

func (e *Extractor) extract(ctx context.Context, websiteURL string, mode models.ScrapeMode) (*models.ExtractResult, []fetchedPage, error) {
	if !mode.Valid() {
		return nil, nil, configFailure("unknown scrape mode " + string(mode))
	}
	home, err := normalizeWebsite(websiteURL)
	if err != nil {
		return nil, nil, err
	}

	profile := e.profileFor(home)
	fetcher := e.fetcher
	if profile.UsesBrowser() && e.browser != nil {
		fetcher = e.browser
	}
	now := e.now().UTC()

	var pages []fetchedPage
	homePage, err := e.fetchAndParse(ctx, fetcher, home, profile, now)
	if err != nil {
		return nil, nil, err
	}
	pages = append(pages, *homePage)

	links := DiscoverSubPages(homePage.page.URL, homePage.page.HTML)
	if profile != nil {
		if p := ResolvePath(home, profile.UnitsPath); p != "" {
			links.Units = p
		}
		if p := ResolvePath(home, profile.AmenitiesPath); p != "" {
			links.Amenities = p
		}
	}

	combined := &parsed{}
	unitsSource := homePage
	amenitySource := homePage

	if mode.WantsUnits() && links.Units != "" && links.Units != homePage.page.URL {
		if sub, err := e.fetchAndParse(ctx, fetcher, links.Units, profile, now); err != nil {
			zap.L().Warn("units page fetch failed", zap.String("url", links.Units), zap.Error(err))
		} else {
			pages = append(pages, *sub)
			combined.merge(sub.parsed)
			unitsSource = sub
		}
	}
	if mode.WantsAmenities() && links.Amenities != "" && links.Amenities != homePage.page.URL {
		if sub, err := e.fetchAndParse(ctx, fetcher, links.Amenities, profile, now); err != nil {
			zap.L().Warn("amenities page fetch failed", zap.String("url", links.Amenities), zap.Error(err))
		} else {
			pages = append(pages, *sub)
			combined.merge(sub.parsed)
			amenitySource = sub
		}
	}
	combined.merge(homePage.parsed)

	if e.llm != nil {
		if mode.WantsUnits() && len(combined.Units) == 0 && !combined.NoAvailability {
			if got, err := llmUnits(ctx, e.llm, unitsSource.page.URL, unitsSource.page.HTML, now); err != nil {
				zap.L().Warn("llm unit extraction failed", zap.String("url", unitsSource.page.URL), zap.Error(err))
			} else {
				combined.merge(got)
			}
		}
		if mode.WantsAmenities() && len(combined.Amenities) == 0 {
			if got, err := llmAmenities(ctx, e.llm, amenitySource.page.URL, amenitySource.page.HTML); err != nil {
				zap.L().Warn("llm amenity extraction failed", zap.String("url", amenitySource.page.URL), zap.Error(err))
			} else {
				combined.merge(got)
			}
		}
	}

	if !foundFor(mode, combined) {
		return nil, pages, parseFailure(home, "no recognizable unit or amenity structure")
	}

	res := &models.ExtractResult{
		Units:     []models.ExtractedUnit{},
		Amenities: []models.ExtractedAmenity{},
		SourceURL: home,
		ScrapedAt: now,
		Method:    combined.Method,
	}
	for _, p := range pages {
		res.HTMLLength += len(p.page.HTML)
	}
	if mode.WantsUnits() {
		if combined.Units != nil {
			res.Units = combined.Units
		}
		res.MoveInSpecials = combined.MoveInSpecials
	}
	if mode.WantsAmenities() {
		if combined.Amenities != nil {
			res.Amenities = combined.Amenities
		}
		res.PetPolicy = combined.PetPolicy
		res.ParkingPolicy = combined.ParkingPolicy
	}
	if res.Method == "" {
		res.Method = "heuristic"
	}

	zap.L().Info("extracted",
		zap.String("url", home),
		zap.String("mode", string(mode)),
		zap.String("method", res.Method),
		zap.Int("units", len(res.Units)),
		zap.Int("amenities", len(res.Amenities)),
		zap.Int("pages", len(pages)),
	)
	return res, pages, nil
}

// foundFor reports whether the page held anything the mode asked for.
// An explicit "no availability" notice counts as a valid empty listing.
func foundFor(mode models.ScrapeMode, p *parsed) bool {
	units := len(p.Units) > 0 || p.NoAvailability
	amenities := len(p.Amenities) > 0 || p.PetPolicy != nil || p.ParkingPolicy != nil
	switch mode {
	case models.ModeUnits:
		return units
	case models.ModeAmenities:
		return amenities
	default:
		return units || amenities
	}
}

func (e *Extractor) fetchAndParse(ctx context.Context, f Fetcher, target string, profile *config.SiteProfile, now time.Time) (*fetchedPage, error) {
	page, err := f.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return nil, parseFailure(target, "invalid HTML")
	}
	return &fetchedPage{page: page, parsed: parsePage(doc, profile, now)}, nil
}

func (e *Extractor) profileFor(rawURL string) *config.SiteProfile {
	if len(e.profiles) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return e.profiles[strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")]
}

// normalizeWebsite accepts bare hostnames and rejects anything that is not http(s)
func normalizeWebsite(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", configFailure("target has no website")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", configFailure("invalid website url " + raw)
	}
	return u.String(), nil
}
