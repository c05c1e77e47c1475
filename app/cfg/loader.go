package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath      string `long:"db-path" env:"DB_PATH" default:"./data/trustfetch.db" description:"SQLite database file"`
	SourcesFile string `long:"sources-file" env:"SOURCES_FILE" default:"./config/sources.yml" description:"Source catalog YAML file"`

	// Application configuration
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl           string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://updates.example.com)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers for ingestion tasks"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"3600" description:"Ingestion interval in seconds (0 disables scheduling)"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	Once              bool   `long:"once" env:"ONCE" description:"Run a single ingestion and exit"`

	// Outbound fetch configuration
	FetchTimeout     int   `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"15" description:"Per-request timeout in seconds"`
	MaxRedirects     int   `long:"max-redirects" env:"MAX_REDIRECTS" default:"5" description:"Maximum redirect hops per request"`
	HostRateInterval int   `long:"host-rate-interval" env:"HOST_RATE_INTERVAL" default:"250" description:"Minimum milliseconds between requests to one host (0 disables)"`
	MaxBodyBytes     int64 `long:"max-body-bytes" env:"MAX_BODY_BYTES" default:"5242880" description:"Maximum response body size in bytes"`

	// Trust cache configuration
	TrustTTL       int `long:"trust-ttl" env:"TRUST_TTL" default:"60" description:"Agent verification cache TTL in minutes"`
	TrustCacheSize int `long:"trust-cache-size" env:"TRUST_CACHE_SIZE" default:"4096" description:"Maximum number of cached agent domains"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"trustfetch/1.0 (+https://github.com/lysyi3m/trustfetch)" description:"User agent string for outbound requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validate(&raw); err != nil {
		return nil, err
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		SourcesFile:       raw.SourcesFile,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		APIAccessKey:      raw.APIAccessKey,
		Once:              raw.Once,
		FetchTimeout:      time.Duration(raw.FetchTimeout) * time.Second,
		MaxRedirects:      raw.MaxRedirects,
		HostRateInterval:  time.Duration(raw.HostRateInterval) * time.Millisecond,
		MaxBodyBytes:      raw.MaxBodyBytes,
		TrustTTL:          time.Duration(raw.TrustTTL) * time.Minute,
		TrustCacheSize:    raw.TrustCacheSize,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(raw *rawCfg) error {
	positiveFields := map[string]int64{
		"worker count":     int64(raw.WorkerCount),
		"fetch timeout":    int64(raw.FetchTimeout),
		"trust ttl":        int64(raw.TrustTTL),
		"trust cache size": int64(raw.TrustCacheSize),
		"max body bytes":   raw.MaxBodyBytes,
		"max redirects":    int64(raw.MaxRedirects),
	}
	for fieldName, fieldValue := range positiveFields {
		if fieldValue <= 0 {
			return fmt.Errorf("%s must be positive", fieldName)
		}
	}

	nonNegativeFields := map[string]int{
		"scheduler interval": raw.SchedulerInterval,
		"host rate interval": raw.HostRateInterval,
	}
	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
