package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads the given .env files (default ".env") without overriding variables
// already present in the environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// FromEnv returns DefaultConfig with environment overrides applied.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	strs := map[string]*string{
		"PAWFECT_BACKEND":            &cfg.Backend,
		"PAWFECT_DB_DRIVER":          &cfg.DatabaseDriver,
		"PAWFECT_DATABASE_URL":       &cfg.DatabaseURL,
		"PAWFECT_DATABASE_ADMIN_URL": &cfg.DatabaseAdminURL,
		"SUPABASE_URL":               &cfg.SupabaseURL,
		"SUPABASE_ANON_KEY":          &cfg.SupabaseAnonKey,
		"SUPABASE_SERVICE_ROLE_KEY":  &cfg.SupabaseKey,
		"PAWFECT_AMAZON_API_URL":     &cfg.AmazonAPIURL,
		"RAPIDAPI_KEY":               &cfg.RapidAPIKey,
		"RAPIDAPI_HOST":              &cfg.RapidAPIHost,
		"PAWFECT_AMAZON_COUNTRY":     &cfg.AmazonCountry,
		"PAWFECT_AMAZON_SITE_URL":    &cfg.AmazonSiteURL,
		"AMAZON_ASSOCIATE_TAG":       &cfg.AssociateTag,
		"PAWFECT_PRICE_SOURCE":       &cfg.PriceSource,
		"PAWFECT_YOUTUBE_API_URL":    &cfg.YouTubeAPIURL,
		"YOUTUBE_API_KEY":            &cfg.YouTubeAPIKey,
		"PAWFECT_USER_AGENT":         &cfg.UserAgent,
		"PAWFECT_ON_ERROR":           &cfg.OnError,
		"PAWFECT_FEED_CHARSET":       &cfg.FeedCharset,
		"PAWFECT_REPORT_FILE":        &cfg.ReportFile,
		"PAWFECT_REPORT_FORMAT":      &cfg.ReportFormat,
		"PAWFECT_REDIS_ADDR":         &cfg.RedisAddr,
		"PAWFECT_LISTEN_ADDR":        &cfg.ListenAddr,
		"PAWFECT_METRICS_ADDR":       &cfg.MetricsAddr,
	}
	for key, dst := range strs {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"PAWFECT_MAX_RETRIES":  &cfg.MaxRetries,
		"PAWFECT_CACHE_SIZE":   &cfg.CacheSize,
		"PAWFECT_VERIFY_CHUNK": &cfg.VerifyChunkSize,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(key)
		if err != nil {
			return nil, err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"PAWFECT_TIMEOUT":           &cfg.Timeout,
		"PAWFECT_RETRY_BACKOFF":     &cfg.RetryBackoff,
		"PAWFECT_RETRY_BACKOFF_MAX": &cfg.RetryBackoffMax,
		"PAWFECT_CACHE_TTL":         &cfg.CacheTTL,
		"PAWFECT_VERIFY_PAUSE":      &cfg.VerifyPause,
		"PAWFECT_REDIS_STATUS_TTL":  &cfg.RedisStatusTTL,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(key)
		if err != nil {
			return nil, err
		}
		if ok {
			*dst = value
		}
	}

	if value, ok, err := EnvFloat("PAWFECT_RPS"); err != nil {
		return nil, err
	} else if ok {
		cfg.RequestsPerSec = value
	}
	if value, ok, err := EnvFloat("PAWFECT_PRICE_TOLERANCE"); err != nil {
		return nil, err
	} else if ok {
		cfg.PriceTolerance = value
	}
	if value, ok, err := EnvBool("PAWFECT_VERBOSE"); err != nil {
		return nil, err
	} else if ok {
		cfg.Verbose = value
	}
	if value, ok := EnvString("PAWFECT_CORS_ORIGINS"); ok {
		cfg.CORSOrigins = splitList(value)
	}

	return cfg, nil
}

// EnvString returns a trimmed, non-empty environment value.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}

// EnvFloat parses a floating point environment value.
func EnvFloat(key string) (float64, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses a time.Duration environment value ("1s", "250ms").
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses a boolean environment value.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, true, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
