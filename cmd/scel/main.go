// CLAUDE:SUMMARY Entry point for the scel gateway — chi router, shield stack, claims admin API, hot-reloaded rate limits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/scel/claims"
	"github.com/hazyhaar/scel/dbopen"
	"github.com/hazyhaar/scel/gateway"
	"github.com/hazyhaar/scel/idgen"
	"github.com/hazyhaar/scel/kit"
	"github.com/hazyhaar/scel/observability"
	"github.com/hazyhaar/scel/scelsafe"
	"github.com/hazyhaar/scel/shield"
)

func main() {
	port := env("PORT", "8090")
	logLevel := env("LOG_LEVEL", "info")
	configPath := os.Getenv("SCEL_CONFIG")
	claimsPath := env("SCEL_DB", "db/scel.db")
	obsPath := env("SCEL_OBS_DB", "db/observability.db")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Optional YAML config; environment and defaults fill the rest.
	var fc fileConfig
	if configPath != "" {
		var err error
		fc, err = loadFileConfig(configPath)
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
	}
	cfg := gateway.ResolveConfig(fc.gatewayConfig(), os.Getenv)

	if cfg.Configured() {
		if err := scelsafe.ValidateUpstreamURL(cfg.UpstreamURL); err != nil {
			slog.Error("upstream url", "error", err)
			os.Exit(1)
		}
		if cfg.UpstreamKey != "" {
			if err := scelsafe.ValidateKey(cfg.UpstreamKey); err != nil {
				slog.Error("upstream key", "error", err)
				os.Exit(1)
			}
		}
	} else {
		slog.Warn("no upstream configured, render and verify will refuse with 503")
	}

	// Claims DB.
	claimsDB, err := dbopen.Open(claimsPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("claims db", "error", err)
		os.Exit(1)
	}
	defer claimsDB.Close()
	store := claims.NewStore(claimsDB, claims.WithIDFunc(idgen.Prefixed("clm_", idgen.Default)))
	if err := store.Init(ctx); err != nil {
		slog.Error("claims init", "error", err)
		os.Exit(1)
	}

	// Observability DB.
	obsDB, err := dbopen.Open(obsPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(ctx, obsDB); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}
	rec := observability.NewRecorder(obsDB)

	// Gateway with the event sink feeding the recorder.
	gw := gateway.New(cfg, gateway.WithEventSink(
		func(ctx context.Context, kind, mode, outcome string, d time.Duration) {
			rec.Record(ctx, observability.Event{
				Kind:       kind,
				Mode:       mode,
				Outcome:    outcome,
				TraceID:    kit.GetTraceID(ctx),
				ClientID:   kit.GetClientID(ctx),
				DurationMs: d.Milliseconds(),
			})
		}))
	gw.RateLimiter().StartSweeper(ctx.Done())

	if configPath != "" {
		go watchRateLimit(ctx.Done(), configPath, gw.RateLimiter())
	}

	// Retention cleanup, once at startup then daily.
	if fc.Retention.EventsDays > 0 || fc.Retention.RequestLogsDays > 0 {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				if err := observability.Cleanup(ctx, obsDB, fc.Retention); err != nil {
					slog.Warn("retention cleanup", "error", err)
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}

	// Admin token. The plaintext is hashed immediately and discarded; the
	// middleware compares presented tokens against the hash.
	var adminHash []byte
	if token := os.Getenv("SCEL_ADMIN_TOKEN"); token != "" {
		adminHash, err = bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("admin token hash", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("SCEL_ADMIN_TOKEN not set, admin endpoints disabled")
	}

	// Router.
	r := chi.NewRouter()
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.TraceID)
	r.Use(rec.RequestLogger())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/api", gw.Routes())

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAdmin(adminHash))

		r.Route("/claims", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				list, err := store.List(r.Context(), queryInt(r, "limit", 50))
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				if list == nil {
					list = []*claims.Claim{}
				}
				writeJSON(w, http.StatusOK, list)
			})

			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var c claims.Claim
				if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				if err := store.Put(r.Context(), &c); err != nil {
					var verr *claims.ValidationError
					if errors.As(err, &verr) {
						writeJSON(w, http.StatusBadRequest, map[string]any{
							"error":      "claim rejected",
							"violations": verr.Violations,
						})
						return
					}
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusCreated, c)
			})

			r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				c, err := store.Get(r.Context(), chi.URLParam(r, "id"))
				if errors.Is(err, claims.ErrNotFound) {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
					return
				}
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusOK, c)
			})

			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				err := store.Delete(r.Context(), chi.URLParam(r, "id"))
				if errors.Is(err, claims.ErrNotFound) {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
					return
				}
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
			})
		})

		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			events, err := rec.Recent(r.Context(), r.URL.Query().Get("kind"), queryInt(r, "limit", 50))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if events == nil {
				events = []observability.Event{}
			}
			writeJSON(w, http.StatusOK, events)
		})
	})

	addr := fc.ListenAddr
	if addr == "" {
		addr = ":" + port
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", addr, "upstream_configured", cfg.Configured())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// requireAdmin returns 403 unless the request bears the admin token.
// With no token configured, every admin call is refused.
func requireAdmin(hash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == nil {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin access disabled"})
				return
			}
			token, ok := bearerToken(r)
			if !ok || bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid admin token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
