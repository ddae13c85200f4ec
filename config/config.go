package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store     StoreConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Jobs      JobsConfig
	Server    ServerConfig
	Extract   ExtractConfig
	Archive   ArchiveConfig
	Log       LogConfig
	SitesDir  string
	Sites     map[string]*SiteProfile // keyed by host
}

type StoreConfig struct {
	Driver      string // postgres, sqlite, memory
	DatabaseURL string
	DBPath      string
}

type SchedulerConfig struct {
	Interval  time.Duration
	Cron      string
	Mode      string
	Limit     int
	DaysStale int
}

type ScraperConfig struct {
	DelayMS      int
	HostDelayMS  int
	Workers      int
	Timeout      time.Duration
	MaxBodyBytes int64
	ProxyURL     string
	UserAgent    string
	Browser      bool
}

type JobsConfig struct {
	FlushEvery     int
	MaxErrors      int
	StaleAfter     time.Duration
	RetireMinUnits int
}

type ServerConfig struct {
	Addr       string
	CronSecret string
}

type ExtractConfig struct {
	AnthropicKey string
	Model        string
}

type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

// SiteProfile holds per-host extraction hints for sites the generic parser misreads
type SiteProfile struct {
	Host          string           `yaml:"host"`
	Name          string           `yaml:"name"`
	Render        string           `yaml:"render"` // "" or "browser"
	WaitFor       string           `yaml:"wait_for"`
	UnitsPath     string           `yaml:"units_path"`
	AmenitiesPath string           `yaml:"amenities_path"`
	RateLimitMS   int              `yaml:"rate_limit_ms"`
	Selectors     ProfileSelectors `yaml:"selectors"`
}

type ProfileSelectors struct {
	Unit          string `yaml:"unit"`
	UnitNumber    string `yaml:"unit_number"`
	Beds          string `yaml:"beds"`
	Baths         string `yaml:"baths"`
	SqFt          string `yaml:"sqft"`
	Rent          string `yaml:"rent"`
	AvailableOn   string `yaml:"available_on"`
	Floorplan     string `yaml:"floorplan"`
	Amenity       string `yaml:"amenity"`
	PetPolicy     string `yaml:"pet_policy"`
	ParkingPolicy string `yaml:"parking_policy"`
	Specials      string `yaml:"specials"`
}

func (p *SiteProfile) UsesBrowser() bool {
	return p != nil && p.Render == "browser"
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Store: StoreConfig{
			Driver:      getEnv("STORE_DRIVER", "sqlite"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			DBPath:      getEnv("DB_PATH", "bldg_sync.db"),
		},
		Scheduler: SchedulerConfig{
			Cron:      os.Getenv("SCRAPE_CRON"),
			Mode:      getEnv("SCRAPE_MODE", "units"),
			Limit:     getEnvInt("SCRAPE_LIMIT", 20),
			DaysStale: getEnvInt("SCRAPE_STALE_DAYS", 7),
		},
		Scraper: ScraperConfig{
			DelayMS:      getEnvInt("SCRAPE_DELAY_MS", 3000),
			HostDelayMS:  getEnvInt("SCRAPE_HOST_DELAY_MS", 2000),
			Workers:      getEnvInt("SCRAPE_WORKERS", 1),
			Timeout:      getEnvDuration("SCRAPE_TIMEOUT", 20*time.Second),
			MaxBodyBytes: int64(getEnvInt("SCRAPE_MAX_BODY_BYTES", 2*1024*1024)),
			ProxyURL:     os.Getenv("SCRAPE_PROXY_URL"),
			UserAgent:    getEnv("SCRAPE_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			Browser:      os.Getenv("BROWSER_ENABLED") == "true",
		},
		Jobs: JobsConfig{
			FlushEvery:     getEnvInt("JOB_FLUSH_EVERY", 5),
			MaxErrors:      getEnvInt("JOB_MAX_ERRORS", 10),
			StaleAfter:     getEnvDuration("JOB_STALE_AFTER", 2*time.Hour),
			RetireMinUnits: getEnvInt("RETIRE_MIN_UNITS", 1),
		},
		Server: ServerConfig{
			Addr:       getEnv("HTTP_ADDR", ":8080"),
			CronSecret: os.Getenv("CRON_SECRET"),
		},
		Extract: ExtractConfig{
			AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:        getEnv("EXTRACT_MODEL", "claude-haiku-4-5-20251001"),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_S3_BUCKET"),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", "daemon.log"),
		},
		SitesDir: getEnv("SITES_DIR", "config/sites"),
		Sites:    make(map[string]*SiteProfile),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.loadSiteProfiles(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: DATABASE_URL is required for the postgres driver")
		}
	case "sqlite", "memory":
	default:
		return eris.Errorf("config: unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Scraper.Workers < 1 {
		c.Scraper.Workers = 1
	}
	if c.Jobs.FlushEvery < 1 {
		c.Jobs.FlushEvery = 1
	}
	if c.Jobs.MaxErrors < 0 {
		c.Jobs.MaxErrors = 0
	}
	return nil
}

// Profile returns the extraction profile for a host, ignoring a leading "www."
func (c *Config) Profile(host string) *SiteProfile {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	return c.Sites[host]
}

func (c *Config) loadSiteProfiles() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrap(err, "config: read sites dir")
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(c.SitesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "config: read %s", path)
		}

		var site SiteProfile
		if err := yaml.Unmarshal(data, &site); err != nil {
			return eris.Wrapf(err, "config: parse %s", path)
		}
		if site.Host == "" {
			return eris.Errorf("config: %s has no host", path)
		}

		c.Sites[strings.TrimPrefix(strings.ToLower(site.Host), "www.")] = &site
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
