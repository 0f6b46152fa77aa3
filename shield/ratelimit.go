package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/scel/kit"
)

// RateLimitConfig defines the fixed request window per client identity.
type RateLimitConfig struct {
	MaxRequests   int  `json:"max_requests" yaml:"max_requests"`
	WindowSeconds int  `json:"window_seconds" yaml:"window_seconds"`
	Enabled       bool `json:"enabled" yaml:"enabled"`
}

// DefaultRateLimit is the gateway default: 30 requests per 60 seconds.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{MaxRequests: 30, WindowSeconds: 60, Enabled: true}
}

// Store counts requests per client identity. The in-process MemoryStore
// is the default; an injected implementation can back the counters with a
// shared cache when the gateway is horizontally scaled. The built-in
// limiter is best-effort and in-process only — that limitation is
// documented, not hidden.
type Store interface {
	// Increment bumps the counter for key, starting a new window of the
	// given length when none is active, and returns the count within the
	// current window together with the window's reset time.
	Increment(key string, window time.Duration, now time.Time) (count int, resetAt time.Time)

	// SweepExpired drops windows that ended before now and returns how
	// many were removed.
	SweepExpired(now time.Time) int
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	buckets sync.Map
}

// NewMemoryStore creates an empty in-process counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Increment implements Store.
func (s *MemoryStore) Increment(key string, window time.Duration, now time.Time) (int, time.Time) {
	val, _ := s.buckets.LoadOrStore(key, &bucket{})
	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 || now.After(b.resetAt) {
		b.count = 1
		b.resetAt = now.Add(window)
		return 1, b.resetAt
	}
	b.count++
	return b.count, b.resetAt
}

// SweepExpired implements Store.
func (s *MemoryStore) SweepExpired(now time.Time) int {
	removed := 0
	s.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := b.count > 0 && now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			s.buckets.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// RateLimiter enforces a fixed window per client identity at the gateway
// boundary. Identity is derived from the first X-Forwarded-For hop with a
// documented "unknown" fallback bucket; a malicious direct caller can
// spoof the header, so deployments needing a stronger signal must put an
// authenticating proxy in front.
type RateLimiter struct {
	mu    sync.RWMutex
	cfg   RateLimitConfig
	store Store
	now   func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithStore injects a Store implementation. Default: NewMemoryStore().
func WithStore(s Store) RateLimiterOption {
	return func(rl *RateLimiter) { rl.store = s }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) { rl.now = fn }
}

// NewRateLimiter creates a limiter with the given window configuration.
func NewRateLimiter(cfg RateLimitConfig, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		cfg:   cfg,
		store: NewMemoryStore(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(rl)
	}
	return rl
}

// SetConfig replaces the window configuration. Used by the config file
// watcher for hot reload.
func (rl *RateLimiter) SetConfig(cfg RateLimitConfig) {
	rl.mu.Lock()
	rl.cfg = cfg
	rl.mu.Unlock()
	slog.Info("ratelimit: config updated",
		"max_requests", cfg.MaxRequests,
		"window_seconds", cfg.WindowSeconds,
		"enabled", cfg.Enabled)
}

// Config returns the current window configuration.
func (rl *RateLimiter) Config() RateLimitConfig {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.cfg
}

// StartSweeper starts a background goroutine that garbage-collects
// expired windows every 5 minutes. Stops when done is closed.
func (rl *RateLimiter) StartSweeper(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Minute)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				removed := rl.store.SweepExpired(rl.now())
				if removed > 0 {
					slog.Debug("ratelimit: swept expired windows", "removed", removed)
				}
			}
		}
	}()
}

// Allow records one request for identity and reports whether it fits the
// window. On refusal it also returns how long until the window resets.
func (rl *RateLimiter) Allow(identity string) (ok bool, retryAfter time.Duration) {
	cfg := rl.Config()
	if !cfg.Enabled {
		return true, 0
	}
	now := rl.now()
	window := time.Duration(cfg.WindowSeconds) * time.Second
	count, resetAt := rl.store.Increment(identity, window, now)
	if count <= cfg.MaxRequests {
		return true, 0
	}
	return false, resetAt.Sub(now)
}

// Middleware enforces the limit and answers 429 with a Retry-After hint
// so clients can back off instead of treating throttling as a
// verification failure.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := ClientIdentity(r)
		ok, retryAfter := rl.Allow(identity)
		if ok {
			next.ServeHTTP(w, r.WithContext(kit.WithClientID(r.Context(), identity)))
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "identity", identity)

		secs := int(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"success":     false,
			"error":       "rate limit exceeded",
			"retry_after": secs,
		})
	})
}

// ClientIdentity derives the rate-limit key from the first
// X-Forwarded-For hop, falling back to the RemoteAddr host, then to the
// shared "unknown" bucket when neither yields an address.
func ClientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		if f := strings.TrimSpace(first); f != "" {
			return f
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
