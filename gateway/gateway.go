// CLAUDE:SUMMARY The trust boundary: allow-listed routes, payload bounds, preflight, protocol translation, re-render verification.
// Package gateway is the only network egress point between untrusted
// callers and the authoritative renderer. It holds the upstream location
// and credentials server-side, forwards a fixed allow-list of operations
// (health, render, verify, status), bounds payloads, rate-limits callers,
// and normalizes the renderer's responses into one stable client contract.
//
// The load-bearing anti-tamper property lives in the verify handler: the
// gateway never trusts a client-supplied expected-vs-actual comparison.
// It re-renders the supplied snapshot itself, hashes the fresh bytes, and
// compares against the declared hash — a client cannot forge a PASS by
// lying about either side.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/scel/preflight"
	"github.com/hazyhaar/scel/shield"
	"github.com/hazyhaar/scel/snapshot"
	"github.com/hazyhaar/scel/verify"
)

// Gateway mediates all calls to the authoritative renderer.
type Gateway struct {
	cfg      Config
	upstream *Upstream
	engine   *verify.Engine
	limiter  *shield.RateLimiter
	sink     EventSink
}

// EventSink receives the outcome of each render or verify operation.
// Sinks must not block; slow recording belongs behind a goroutine or a
// short detached context on the sink's side.
type EventSink func(ctx context.Context, kind, mode, outcome string, duration time.Duration)

// Option configures a Gateway.
type Option func(*Gateway)

// WithEventSink wires an operational event recorder.
func WithEventSink(sink EventSink) Option {
	return func(g *Gateway) { g.sink = sink }
}

// WithHTTPClient overrides the upstream HTTP client (custom TLS, proxy).
// The caller owns the client's timeout in that case.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.upstream.client = c }
}

// WithRateLimitStore injects a rate-limit counter store (e.g. a shared
// cache when the gateway is horizontally scaled).
func WithRateLimitStore(s shield.Store) Option {
	return func(g *Gateway) {
		g.limiter = shield.NewRateLimiter(g.cfg.RateLimit, shield.WithStore(s))
	}
}

// New creates a gateway from a resolved configuration.
func New(cfg Config, opts ...Option) *Gateway {
	cfg.defaults()
	up := NewUpstream(cfg.UpstreamURL, cfg.UpstreamKey, cfg.Timeout)
	g := &Gateway{
		cfg:      cfg,
		upstream: up,
		engine:   verify.New(up),
		limiter:  shield.NewRateLimiter(cfg.RateLimit),
		sink:     func(context.Context, string, string, string, time.Duration) {},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// RateLimiter exposes the limiter for sweeping and hot reload.
func (g *Gateway) RateLimiter() *shield.RateLimiter { return g.limiter }

// Routes returns the allow-listed router. Anything outside the fixed
// operation set is answered 404 before any upstream contact, so the
// gateway can never become an open relay to arbitrary upstream paths.
func (g *Gateway) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(shield.MaxBody(g.cfg.MaxBodyBytes))
	r.Use(g.limiter.Middleware)

	r.Post("/render", g.handleRender)
	r.Post("/verify", g.handleVerify)
	r.Get("/health", g.handleHealth)
	r.Get("/status", g.handleStatus)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "unknown operation")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// RenderRequest is the public render contract. The vars array maps to the
// upstream's params array; seed maps to the upstream's random_seed.
type RenderRequest struct {
	Code      string             `json:"code"`
	Seed      int64              `json:"seed"`
	Vars      []float64          `json:"vars,omitempty"`
	Execution snapshot.Execution `json:"execution,omitempty"`
}

// RenderResponse is the public render result envelope.
type RenderResponse struct {
	Success  bool                `json:"success"`
	Result   verify.RenderResult `json:"result"`
	Warnings []preflight.Finding `json:"warnings,omitempty"`
}

// VerifyRequest is the public verify contract. Static mode requires
// ExpectedHash; loop mode requires both ExpectedPosterHash and
// ExpectedAnimationHash.
type VerifyRequest struct {
	Snapshot              snapshot.Snapshot `json:"snapshot"`
	ExpectedHash          string            `json:"expectedHash,omitempty"`
	ExpectedPosterHash    string            `json:"expectedPosterHash,omitempty"`
	ExpectedAnimationHash string            `json:"expectedAnimationHash,omitempty"`
}

// VerifyResponse is the public verify result envelope.
type VerifyResponse struct {
	Success bool          `json:"success"`
	Result  verify.Result `json:"result"`
}

// HealthResponse is the public health contract.
type HealthResponse struct {
	Available bool   `json:"available"`
	LatencyMs int64  `json:"latencyMs"`
	Protocol  string `json:"protocol,omitempty"`
	Version   string `json:"version,omitempty"`
}

// StatusResponse exposes only whether an upstream is configured — never
// its URL or credentials.
type StatusResponse struct {
	Configured bool `json:"configured"`
}

func (g *Gateway) handleRender(w http.ResponseWriter, r *http.Request) {
	snap, report, ok := g.decodeSnapshot(w, r)
	if !ok {
		return
	}

	start := time.Now()
	rr, err := g.upstream.Render(r.Context(), snap)
	if err != nil {
		g.sink(r.Context(), "render", snap.Execution.Mode(), "error", time.Since(start))
		g.writeUpstreamError(w, r, err)
		return
	}
	g.sink(r.Context(), "render", rr.Mode, "ok", time.Since(start))
	writeJSON(w, http.StatusOK, RenderResponse{Success: true, Result: rr, Warnings: report.Warnings})
}

func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Snapshot.Code == "" {
		writeError(w, http.StatusBadRequest, "snapshot.code must be a non-empty string")
		return
	}
	if err := snapshot.Validate(req.Snapshot); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		res verify.Result
		err error
	)
	start := time.Now()
	mode := req.Snapshot.Execution.Mode()
	if req.Snapshot.Execution.Loop {
		res, err = g.engine.VerifyLoop(r.Context(), req.Snapshot, req.ExpectedPosterHash, req.ExpectedAnimationHash)
	} else {
		res, err = g.engine.VerifyStatic(r.Context(), req.Snapshot, req.ExpectedHash)
	}
	if err != nil {
		if errors.Is(err, verify.ErrMissingExpectedHash) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.sink(r.Context(), "verify", mode, "error", time.Since(start))
		g.writeUpstreamError(w, r, err)
		return
	}
	outcome := "mismatch"
	if res.Verified {
		outcome = "verified"
	}
	g.sink(r.Context(), "verify", mode, outcome, time.Since(start))
	writeJSON(w, http.StatusOK, VerifyResponse{Success: true, Result: res})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	available, latency, meta := g.upstream.Health(r.Context())
	writeJSON(w, http.StatusOK, HealthResponse{
		Available: available,
		LatencyMs: latency.Milliseconds(),
		Protocol:  meta.Protocol,
		Version:   meta.Version,
	})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Configured: g.cfg.Configured()})
}

// decodeSnapshot reads a render request, applies the coarse shape check
// (code present and non-empty — independent of preflight, defense in
// depth), validates parameters, and runs preflight. Preflight errors
// refuse execution before any network call.
func (g *Gateway) decodeSnapshot(w http.ResponseWriter, r *http.Request) (snapshot.Snapshot, preflight.Report, bool) {
	var req RenderRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return snapshot.Snapshot{}, preflight.Report{}, false
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code must be a non-empty string")
		return snapshot.Snapshot{}, preflight.Report{}, false
	}

	vars := req.Vars
	if len(vars) == 0 {
		vars = snapshot.DefaultVars()
	}
	snap := snapshot.Snapshot{Code: req.Code, Seed: req.Seed, Vars: vars, Execution: req.Execution}
	if err := snapshot.Validate(snap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return snapshot.Snapshot{}, preflight.Report{}, false
	}

	report := preflight.Validate(snap.Code)
	if !report.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"success":  false,
			"error":    "code failed preflight validation",
			"findings": report.Errors,
			"warnings": report.Warnings,
		})
		return snapshot.Snapshot{}, preflight.Report{}, false
	}
	return snap, report, true
}

// writeUpstreamError maps the error taxonomy onto the HTTP surface:
// unreachable → 504, upstream 5xx → 502, upstream 4xx forwarded, protocol
// confusion → 502.
// decodeBody decodes a JSON request body, classifying failures. A body
// truncated by the size cap keeps the MaxBytesError in the chain; every
// other failure joins the malformed-payload class. Only the declared
// size is trusted up front, so the cap can still trip here mid-read.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func (g *Gateway) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	logger := shield.GetLogger(r.Context())
	var ue *UpstreamError
	switch {
	case errors.Is(err, ErrNotConfigured):
		logger.Warn("gateway: render refused, no upstream configured")
		writeError(w, http.StatusServiceUnavailable, "renderer not configured")
	case errors.As(err, &ue):
		logger.Warn("gateway: upstream error", "status", ue.Status, "body", ue.Body)
		if ue.BadGateway() {
			writeError(w, http.StatusBadGateway, "renderer failed: "+ue.Body)
			return
		}
		writeError(w, ue.Status, ue.Body)
	case errors.Is(err, ErrProtocol):
		logger.Error("gateway: upstream protocol error", "error", err)
		writeError(w, http.StatusBadGateway, "renderer returned an unrecognized response")
	case errors.Is(err, ErrUnreachable):
		logger.Warn("gateway: upstream unreachable", "error", err)
		writeError(w, http.StatusGatewayTimeout, "renderer unreachable")
	default:
		logger.Error("gateway: render failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
