// CLAUDE:SUMMARY Gateway configuration with explicit precedence: explicit override > environment > compiled-in default.
package gateway

import (
	"strconv"
	"time"

	"github.com/hazyhaar/scel/shield"
)

// Config configures the gateway. The upstream URL and key are held here
// and nowhere else; no handler ever serializes them, and the status
// endpoint exposes only a configured/reachable boolean.
type Config struct {
	// UpstreamURL is the base URL of the authoritative renderer.
	UpstreamURL string `yaml:"upstream_url"`

	// UpstreamKey is the bearer credential injected into every upstream
	// call. Never logged, never echoed.
	UpstreamKey string `yaml:"-"`

	// Timeout bounds every upstream call. A hung renderer must not hang
	// the caller.
	Timeout time.Duration `yaml:"timeout"`

	// MaxBodyBytes caps client request bodies (default 1 MiB).
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// RateLimit is the per-identity fixed window.
	RateLimit shield.RateLimitConfig `yaml:"rate_limit"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.RateLimit.MaxRequests <= 0 && c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit = shield.DefaultRateLimit()
	}
}

// Configured reports whether an upstream renderer is set.
func (c Config) Configured() bool { return c.UpstreamURL != "" }

// ResolveConfig merges an explicit config over environment values over
// compiled-in defaults. It is a pure function of its inputs: pass
// os.Getenv in production, a map lookup in tests. Precedence per field:
// explicit non-zero value > SCEL_* environment variable > default.
func ResolveConfig(explicit Config, getenv func(string) string) Config {
	cfg := explicit

	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = getenv("SCEL_UPSTREAM_URL")
	}
	if cfg.UpstreamKey == "" {
		cfg.UpstreamKey = getenv("SCEL_UPSTREAM_KEY")
	}
	if cfg.Timeout == 0 {
		if ms, err := strconv.Atoi(getenv("SCEL_UPSTREAM_TIMEOUT_MS")); err == nil && ms > 0 {
			cfg.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	if cfg.MaxBodyBytes == 0 {
		if n, err := strconv.ParseInt(getenv("SCEL_MAX_BODY_BYTES"), 10, 64); err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}
	if cfg.RateLimit.MaxRequests == 0 {
		if n, err := strconv.Atoi(getenv("SCEL_RATE_MAX_REQUESTS")); err == nil && n > 0 {
			cfg.RateLimit.MaxRequests = n
			cfg.RateLimit.Enabled = true
		}
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		if n, err := strconv.Atoi(getenv("SCEL_RATE_WINDOW_SECONDS")); err == nil && n > 0 {
			cfg.RateLimit.WindowSeconds = n
		}
	}

	cfg.defaults()
	return cfg
}
