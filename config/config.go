package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all library configuration.
type Config struct {
	Browser Browser
	Fetcher Fetcher
	Cache   Cache
	Intel   Intel
	Limiter Limiter
	Log     Log
}

// Browser controls the Rod browser instances and the page pool.
type Browser struct {
	// Headless controls whether browsers run headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// Bin overrides the Chromium binary path.
	Bin string

	// DefaultProxy is the default proxy URL for all requests.
	DefaultProxy string

	// WarmPages is the idle page queue target size.
	WarmPages int // default: 3

	// MaxConcurrentPages is the global ceiling on live pages across
	// the default, stealth, and profile browsers.
	MaxConcurrentPages int // default: 5
}

// Fetcher controls the individual fetch methods.
type Fetcher struct {
	// DefaultTimeout is the per-attempt deadline when the caller sets
	// none.
	DefaultTimeout time.Duration // default: 30s

	// MaxTimeout caps the caller-supplied timeout.
	MaxTimeout time.Duration // default: 120s

	// MaxBodyBytes is the hard response-size ceiling on the simple
	// fetch.
	MaxBodyBytes int64 // default: 10 MB

	// MinBodyBytes is the floor below which a response is treated as
	// blocked.
	MinBodyBytes int // default: 100

	// Retries is the attempt budget for transient network failures on
	// one rung.
	Retries int // default: 3

	// RetryBase is the base of the exponential backoff between
	// retries.
	RetryBase time.Duration // default: 1s

	// StealthSettleWait is the fixed extra wait on the stealth rung,
	// giving challenge scripts time to resolve.
	StealthSettleWait time.Duration // default: 2s

	// BlockedResourceTypes lists page sub-resource types to block.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string
}

// Cache controls the response cache.
type Cache struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000

	// TTL is the freshness window.
	TTL time.Duration // default: 5m

	// StaleWindow is the wider stale-while-revalidate window. Zero
	// disables SWR (stale entries miss).
	StaleWindow time.Duration // default: 30m
}

// Intel controls the per-domain method learner.
type Intel struct {
	// TTL after which a domain's history is discarded.
	TTL time.Duration // default: 1h

	// MaxDomains bounds the learner's memory.
	MaxDomains int // default: 500

	// MinSamples is the history size below which no recommendation is
	// made.
	MinSamples int // default: 3
}

// Limiter controls the per-domain politeness limiter.
type Limiter struct {
	// RequestsPerSecond is the sustained rate per hostname. <= 0
	// disables limiting.
	RequestsPerSecond float64 // default: 0 (off)

	// Burst is the per-hostname burst size.
	Burst int // default: 3
}

// Log controls structured logging.
type Log struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Browser: Browser{
			Headless:           envBoolOr("WEBPEEL_HEADLESS", true),
			NoSandbox:          envBoolOr("WEBPEEL_NO_SANDBOX", false),
			Bin:                os.Getenv("WEBPEEL_BROWSER_BIN"),
			DefaultProxy:       os.Getenv("WEBPEEL_PROXY"),
			WarmPages:          envIntOr("WEBPEEL_WARM_PAGES", 3),
			MaxConcurrentPages: envIntOr("WEBPEEL_MAX_PAGES", 5),
		},
		Fetcher: Fetcher{
			DefaultTimeout:    envDurationOr("WEBPEEL_DEFAULT_TIMEOUT", 30*time.Second),
			MaxTimeout:        envDurationOr("WEBPEEL_MAX_TIMEOUT", 120*time.Second),
			MaxBodyBytes:      envInt64Or("WEBPEEL_MAX_BODY_BYTES", 10<<20),
			MinBodyBytes:      envIntOr("WEBPEEL_MIN_BODY_BYTES", 100),
			Retries:           envIntOr("WEBPEEL_RETRIES", 3),
			RetryBase:         envDurationOr("WEBPEEL_RETRY_BASE", time.Second),
			StealthSettleWait: envDurationOr("WEBPEEL_STEALTH_SETTLE", 2*time.Second),
			BlockedResourceTypes: envSliceOr("WEBPEEL_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Cache: Cache{
			MaxEntries:  envIntOr("WEBPEEL_CACHE_MAX_ENTRIES", 1000),
			TTL:         envDurationOr("WEBPEEL_CACHE_TTL", 5*time.Minute),
			StaleWindow: envDurationOr("WEBPEEL_CACHE_STALE_WINDOW", 30*time.Minute),
		},
		Intel: Intel{
			TTL:        envDurationOr("WEBPEEL_INTEL_TTL", time.Hour),
			MaxDomains: envIntOr("WEBPEEL_INTEL_MAX_DOMAINS", 500),
			MinSamples: envIntOr("WEBPEEL_INTEL_MIN_SAMPLES", 3),
		},
		Limiter: Limiter{
			RequestsPerSecond: envFloatOr("WEBPEEL_DOMAIN_RPS", 0),
			Burst:             envIntOr("WEBPEEL_DOMAIN_BURST", 3),
		},
		Log: Log{
			Level:  envOr("WEBPEEL_LOG_LEVEL", "info"),
			Format: envOr("WEBPEEL_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
