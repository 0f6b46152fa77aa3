package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/scel/gateway"
	"github.com/hazyhaar/scel/observability"
	"github.com/hazyhaar/scel/shield"
)

// fileConfig is the optional YAML config file. Environment variables
// still win for the upstream URL and key so secrets stay out of files.
type fileConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Gateway    struct {
		UpstreamURL  string                 `yaml:"upstream_url"`
		TimeoutMs    int                    `yaml:"timeout_ms"`
		MaxBodyBytes int64                  `yaml:"max_body_bytes"`
		RateLimit    shield.RateLimitConfig `yaml:"rate_limit"`
	} `yaml:"gateway"`
	Retention observability.RetentionConfig `yaml:"retention"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

func (fc fileConfig) gatewayConfig() gateway.Config {
	return gateway.Config{
		UpstreamURL:  fc.Gateway.UpstreamURL,
		Timeout:      time.Duration(fc.Gateway.TimeoutMs) * time.Millisecond,
		MaxBodyBytes: fc.Gateway.MaxBodyBytes,
		RateLimit:    fc.Gateway.RateLimit,
	}
}

// watchRateLimit hot-reloads the rate-limit section when the config file
// changes. Only the limiter is updated at runtime; upstream and listener
// settings require a restart.
func watchRateLimit(done <-chan struct{}, path string, limiter *shield.RateLimiter) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watch unavailable", "error", err)
		return
	}
	defer w.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		slog.Warn("config watch add", "error", err)
		return
	}
	base := filepath.Base(path)

	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			fc, err := loadFileConfig(path)
			if err != nil {
				slog.Warn("config reload failed", "error", err)
				continue
			}
			limiter.SetConfig(fc.Gateway.RateLimit)
			slog.Info("rate limit reloaded",
				"max_requests", fc.Gateway.RateLimit.MaxRequests,
				"window_seconds", fc.Gateway.RateLimit.WindowSeconds,
				"enabled", fc.Gateway.RateLimit.Enabled)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("config watch", "error", err)
		}
	}
}
