package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds importer configuration.
type Config struct {
	// Backend selects the hosted-backend adapter: "sql" or "rest".
	Backend          string
	DatabaseDriver   string // postgres or sqlite3
	DatabaseURL      string
	DatabaseAdminURL string // privileged DSN; empty reuses DatabaseURL
	SupabaseURL      string
	SupabaseAnonKey  string
	SupabaseKey      string // service role key, privileged capability

	AmazonAPIURL    string
	RapidAPIKey     string
	RapidAPIHost    string
	AmazonCountry   string
	AmazonSiteURL   string
	AssociateTag    string
	PriceSource     string // api or page
	YouTubeAPIURL   string
	YouTubeAPIKey   string
	UserAgent       string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	RequestsPerSec  float64
	CacheSize       int
	CacheTTL        time.Duration

	VerifyChunkSize int
	VerifyPause     time.Duration
	PriceTolerance  float64

	OnError      string // prompt, continue or abort
	FeedCharset  string
	FeedSheet    string // XLSX sheet; empty means the first
	ReportFile   string
	ReportFormat string // csv, json or dual

	RedisAddr      string
	RedisStatusTTL time.Duration
	ListenAddr     string
	MetricsAddr    string
	CORSOrigins    []string
	Verbose        bool
}

// DefaultConfig returns defaults for a local SQLite setup.
func DefaultConfig() *Config {
	return &Config{
		Backend:        "sql",
		DatabaseDriver: "sqlite3",
		DatabaseURL:    "file:pawfect.db?_foreign_keys=on",

		AmazonAPIURL:    "https://real-time-amazon-data.p.rapidapi.com",
		RapidAPIHost:    "real-time-amazon-data.p.rapidapi.com",
		AmazonCountry:   "US",
		AmazonSiteURL:   "https://www.amazon.com",
		AssociateTag:    "pawfectfind-20",
		PriceSource:     "api",
		YouTubeAPIURL:   "https://www.googleapis.com/youtube/v3",
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 5 * time.Second,
		RequestsPerSec:  5,
		CacheSize:       1024,
		CacheTTL:        10 * time.Minute,

		VerifyChunkSize: 5,
		VerifyPause:     time.Second,
		PriceTolerance:  0.01,

		OnError:      "prompt",
		FeedCharset:  "utf-8",
		ReportFormat: "csv",

		RedisStatusTTL: 24 * time.Hour,
		ListenAddr:     ":8080",
		CORSOrigins:    []string{"http://localhost:5173"},
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	switch c.Backend {
	case "sql":
		if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite3" {
			return fmt.Errorf("database driver must be postgres or sqlite3")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL cannot be empty")
		}
	case "rest":
		if err := validateURL("supabase URL", c.SupabaseURL); err != nil {
			return err
		}
		if c.SupabaseAnonKey == "" {
			return fmt.Errorf("supabase anon key cannot be empty")
		}
	default:
		return fmt.Errorf("backend must be sql or rest")
	}

	if err := validateURL("amazon API URL", c.AmazonAPIURL); err != nil {
		return err
	}
	if err := validateURL("amazon site URL", c.AmazonSiteURL); err != nil {
		return err
	}
	if err := validateURL("youtube API URL", c.YouTubeAPIURL); err != nil {
		return err
	}
	if c.PriceSource != "api" && c.PriceSource != "page" {
		return fmt.Errorf("price source must be api or page")
	}
	if c.AssociateTag == "" {
		return fmt.Errorf("associate tag cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RequestsPerSec <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.VerifyChunkSize <= 0 {
		return fmt.Errorf("verify chunk size must be positive")
	}
	if c.VerifyPause < 0 {
		return fmt.Errorf("verify pause cannot be negative")
	}
	if c.PriceTolerance < 0 {
		return fmt.Errorf("price tolerance cannot be negative")
	}
	if c.OnError != "prompt" && c.OnError != "continue" && c.OnError != "abort" {
		return fmt.Errorf("on-error policy must be prompt, continue, or abort")
	}
	if c.ReportFormat != "csv" && c.ReportFormat != "json" && c.ReportFormat != "dual" {
		return fmt.Errorf("report format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// PrivilegedDatabaseURL returns the DSN used for writes.
func (c *Config) PrivilegedDatabaseURL() string {
	if c.DatabaseAdminURL != "" {
		return c.DatabaseAdminURL
	}
	return c.DatabaseURL
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
