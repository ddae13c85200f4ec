package main

import (
	"context"
	"net/url"
	"strings"
	"time"

	"bldg_sync/config"
	"bldg_sync/httputil"
	"bldg_sync/ratelimit"
	"bldg_sync/scraper"
	"bldg_sync/services"
	"bldg_sync/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// app holds every long-lived component, built once per command
type app struct {
	store   storage.Store
	limiter *ratelimit.Limiter
	browser *scraper.BrowserFetcher
	status  *services.StatusRecorder
	prices  *services.PriceHistory
	jobs    *services.JobTracker
	admin   *services.Admin
	orch    *scraper.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	zap.L().Info("loaded site profiles", zap.Int("count", len(cfg.Sites)))

	clients, err := httputil.NewClients(cfg.Scraper.ProxyURL, cfg.Scraper.Timeout)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(
		time.Duration(cfg.Scraper.DelayMS)*time.Millisecond,
		time.Duration(cfg.Scraper.HostDelayMS)*time.Millisecond,
	)
	for host, p := range cfg.Sites {
		if p.RateLimitMS > 0 {
			limiter.SetHostInterval(host, time.Duration(p.RateLimitMS)*time.Millisecond)
		}
	}

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &app{store: store, limiter: limiter}

	opts := []scraper.ExtractorOption{scraper.WithProfiles(cfg.Sites)}
	if cfg.Scraper.Browser {
		a.browser = scraper.NewBrowserFetcher(limiter, cfg.Scraper.UserAgent, func(raw string) string {
			return waitSelector(cfg, raw)
		})
		opts = append(opts, scraper.WithBrowser(a.browser))
		zap.L().Info("browser rendering enabled")
	}
	if cfg.Extract.AnthropicKey != "" {
		opts = append(opts, scraper.WithCompleter(
			scraper.NewAnthropicCompleter(cfg.Extract.AnthropicKey, cfg.Extract.Model, clients.API),
		))
		zap.L().Info("llm fallback enabled", zap.String("model", cfg.Extract.Model))
	}
	if cfg.Archive.Enabled() {
		archiver, err := storage.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			a.Close()
			return nil, eris.Wrap(err, "init archive")
		}
		opts = append(opts, scraper.WithArchiver(archiver))
		zap.L().Info("raw page archive enabled", zap.String("bucket", cfg.Archive.Bucket))
	}

	fetcher := scraper.NewHTTPFetcher(clients.Scraping, limiter, cfg.Scraper.UserAgent, cfg.Scraper.MaxBodyBytes)
	extractor := scraper.NewExtractor(fetcher, opts...)

	a.status = services.NewStatusRecorder(store)
	a.prices = services.NewPriceHistory(store)
	a.jobs = services.NewJobTracker(store, cfg.Jobs.FlushEvery, cfg.Jobs.MaxErrors)
	a.admin = services.NewAdmin(store)

	a.orch = scraper.NewOrchestrator(scraper.OrchestratorDeps{
		Store:      store,
		Extractor:  extractor,
		Limiter:    limiter,
		Selector:   services.NewTargetSelector(store),
		Reconciler: services.NewReconciler(store, a.prices, cfg.Jobs.RetireMinUnits),
		Amenities:  services.NewAmenityWriter(store),
		Status:     a.status,
		Jobs:       a.jobs,
		Workers:    cfg.Scraper.Workers,
		StaleJobs:  cfg.Jobs.StaleAfter,
	})

	return a, nil
}

func (a *app) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if err := a.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func waitSelector(cfg *config.Config, raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if p := cfg.Profile(strings.ToLower(u.Hostname())); p != nil {
		return p.WaitFor
	}
	return ""
}
