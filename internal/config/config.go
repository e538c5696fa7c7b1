// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

// DateLayout is the format of date_from and date_to.
const DateLayout = time.DateOnly

// KnownSources lists every adapter the binary ships.
var KnownSources = []string{"chemrxiv", "openreview"}

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	RunName     string            `mapstructure:"run_name"`
	OutputDir   string            `mapstructure:"output_dir"`
	DateFrom    string            `mapstructure:"date_from"`
	DateTo      string            `mapstructure:"date_to"`
	UserAgent   string            `mapstructure:"user_agent"`
	Sources     []string          `mapstructure:"sources"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	OCR         OCRConfig         `mapstructure:"ocr"`
	Math        MathConfig        `mapstructure:"math"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	ChemRxiv    ChemRxivConfig    `mapstructure:"chemrxiv"`
	OpenReview  OpenReviewConfig  `mapstructure:"openreview"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
}

// RateLimitConfig bounds the shared request budget.
type RateLimitConfig struct {
	MaxRequestsPerMinute int     `mapstructure:"max_requests_per_minute"`
	Burst                int     `mapstructure:"burst"`
	BackoffInitialS      float64 `mapstructure:"backoff_initial_s"`
	BackoffMaxS          float64 `mapstructure:"backoff_max_s"`
}

// BackoffInitial returns the first failure backoff.
func (c RateLimitConfig) BackoffInitial() time.Duration {
	return seconds(c.BackoffInitialS)
}

// BackoffMax returns the backoff ceiling.
func (c RateLimitConfig) BackoffMax() time.Duration {
	return seconds(c.BackoffMaxS)
}

// RetryConfig controls attempts per request.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// ConcurrencyConfig sizes the worker pools.
type ConcurrencyConfig struct {
	Downloads int `mapstructure:"downloads"`
	Parsing   int `mapstructure:"parsing"`
}

// OCRConfig toggles the scanned PDF fallback.
type OCRConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Language string `mapstructure:"language"`
}

// MathConfig controls math markup handling.
type MathConfig struct {
	PreserveLaTeX bool `mapstructure:"preserve_latex"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-request timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HeadlessConfig configures the headless renderer.
type HeadlessConfig struct {
	MaxParallel   int     `mapstructure:"max_parallel"`
	NavTimeoutSec int     `mapstructure:"nav_timeout_seconds"`
	QPS           float64 `mapstructure:"qps"`
}

// NavTimeout returns the navigation timeout.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// ChemRxivConfig holds the dashboard location and selectors.
type ChemRxivConfig struct {
	ListingURL          string `mapstructure:"listing_url"`
	ListingWaitSelector string `mapstructure:"listing_wait_selector"`
	ItemLinkSelector    string `mapstructure:"item_link_selector"`
	PDFLinkSelector     string `mapstructure:"pdf_link_selector"`
}

// OpenReviewConfig holds API endpoints.
type OpenReviewConfig struct {
	APIBase         string `mapstructure:"api_base"`
	SearchPath      string `mapstructure:"search_path"`
	DiscussionsPath string `mapstructure:"discussions_path"`
	ForumBase       string `mapstructure:"forum_base"`
	PageSize        int    `mapstructure:"page_size"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// StorageConfig enables the GCS archive when a bucket is set.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig enables the Postgres catalog when a DSN is set.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig enables record notifications when a topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// ScheduleConfig holds the default cron expression.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// Load builds a Config from disk and environment. Every failure is an
// *ingest.ConfigError.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &ingest.ConfigError{Err: fmt.Errorf("read config: %w", err)}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &ingest.ConfigError{Err: fmt.Errorf("unmarshal config: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, &ingest.ConfigError{Err: err}
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run_name", "trial-aug-2025")
	v.SetDefault("output_dir", "data")
	v.SetDefault("date_from", "2025-08-01")
	v.SetDefault("date_to", "2025-08-31")
	v.SetDefault("user_agent", "ResearchScrapeBot/0.1 (+contact: team@example.com)")
	v.SetDefault("sources", []string{"chemrxiv", "openreview"})
	v.SetDefault("rate_limit.max_requests_per_minute", 12)
	v.SetDefault("rate_limit.burst", 6)
	v.SetDefault("rate_limit.backoff_initial_s", 1.0)
	v.SetDefault("rate_limit.backoff_max_s", 30.0)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("concurrency.downloads", 4)
	v.SetDefault("concurrency.parsing", 4)
	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("math.preserve_latex", true)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.qps", 0.5)
	v.SetDefault("chemrxiv.listing_url", "https://chemrxiv.org/engage/chemrxiv/public-dashboard")
	v.SetDefault("chemrxiv.listing_wait_selector", "div[role='grid']")
	v.SetDefault("chemrxiv.item_link_selector", "a[href*='/engage/chemrxiv/article/']")
	v.SetDefault("chemrxiv.pdf_link_selector", "a[href$='.pdf']")
	v.SetDefault("openreview.api_base", "https://api.openreview.net")
	v.SetDefault("openreview.search_path", "/notes/search")
	v.SetDefault("openreview.discussions_path", "/notes")
	v.SetDefault("openreview.forum_base", "https://openreview.net")
	v.SetDefault("openreview.page_size", 1000)
	v.SetDefault("logging.development", false)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("storage.prefix", "preprints")
	v.SetDefault("db.table", "records")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "preprint-crawler")
}

// Validate enforces required values and reasonable limits. It reports
// every violation at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("sources must not be empty"))
	}
	for _, name := range c.Sources {
		if !slices.Contains(KnownSources, name) {
			errs = append(errs, fmt.Errorf("unknown source %q", name))
		}
	}
	from, fromErr := time.Parse(DateLayout, c.DateFrom)
	if fromErr != nil {
		errs = append(errs, fmt.Errorf("date_from: %w", fromErr))
	}
	to, toErr := time.Parse(DateLayout, c.DateTo)
	if toErr != nil {
		errs = append(errs, fmt.Errorf("date_to: %w", toErr))
	}
	if fromErr == nil && toErr == nil && from.After(to) {
		errs = append(errs, fmt.Errorf("date_from %s is after date_to %s", c.DateFrom, c.DateTo))
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		errs = append(errs, errors.New("user_agent must be set"))
	}
	if c.RateLimit.MaxRequestsPerMinute <= 0 {
		errs = append(errs, errors.New("rate_limit.max_requests_per_minute must be > 0"))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.burst must be > 0"))
	}
	if c.RateLimit.BackoffInitialS <= 0 {
		errs = append(errs, errors.New("rate_limit.backoff_initial_s must be > 0"))
	}
	if c.RateLimit.BackoffMaxS < c.RateLimit.BackoffInitialS {
		errs = append(errs, errors.New("rate_limit.backoff_max_s must be >= backoff_initial_s"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 1"))
	}
	if c.Concurrency.Downloads <= 0 {
		errs = append(errs, errors.New("concurrency.downloads must be > 0"))
	}
	if c.Concurrency.Parsing <= 0 {
		errs = append(errs, errors.New("concurrency.parsing must be > 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0 when the server is enabled"))
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic is set"))
	}
	return errors.Join(errs...)
}

// Window returns the parsed date window. The upper bound is the last
// instant of date_to.
func (c Config) Window() (time.Time, time.Time, error) {
	from, err := time.Parse(DateLayout, c.DateFrom)
	if err != nil {
		return time.Time{}, time.Time{}, &ingest.ConfigError{Err: fmt.Errorf("date_from: %w", err)}
	}
	to, err := time.Parse(DateLayout, c.DateTo)
	if err != nil {
		return time.Time{}, time.Time{}, &ingest.ConfigError{Err: fmt.Errorf("date_to: %w", err)}
	}
	return from, to.Add(24*time.Hour - time.Nanosecond), nil
}

// JSONLPath is the primary record file.
func (c Config) JSONLPath() string {
	return filepath.Join(c.OutputDir, "jsonl", "records.jsonl")
}

// ReportsDir holds the CSV reports.
func (c Config) ReportsDir() string {
	return filepath.Join(c.OutputDir, "reports")
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
