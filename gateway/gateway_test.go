package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/scel/canon"
	"github.com/hazyhaar/scel/shield"
	"github.com/hazyhaar/scel/snapshot"
)

// fakeUpstream simulates the authoritative renderer: deterministic bytes
// derived from the request, bearer auth assertion, call counting.
type fakeUpstream struct {
	t       *testing.T
	calls   atomic.Int64
	mode    string // "image" | "animation" | "binary" | "error" | "garbage" | "status:500"
	wantKey string
}

func (f *fakeUpstream) pngBytes(req upstreamRequest) []byte {
	return []byte("png|" + req.Source + "|" + canon.FormatInt(req.RandomSeed))
}

func (f *fakeUpstream) mp4Bytes(req upstreamRequest) []byte {
	return []byte("mp4|" + req.Source + "|" + canon.FormatInt(req.RandomSeed))
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v2/health" {
		json.NewEncoder(w).Encode(upstreamHealth{OK: true, Protocol: "scel/2", Version: "3.1.4"})
		return
	}
	if r.URL.Path != "/v2/render" {
		http.NotFound(w, r)
		return
	}
	f.calls.Add(1)
	if f.wantKey != "" && r.Header.Get("Authorization") != "Bearer "+f.wantKey {
		f.t.Errorf("missing or wrong bearer credential: %q", r.Header.Get("Authorization"))
	}
	var req upstreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch f.mode {
	case "binary":
		w.Header().Set("Content-Type", "image/png")
		w.Write(f.pngBytes(req))
	case "animation":
		json.NewEncoder(w).Encode(upstreamResponse{
			Type:          "animation",
			Poster:        base64.StdEncoding.EncodeToString(f.pngBytes(req)),
			Data:          base64.StdEncoding.EncodeToString(f.mp4Bytes(req)),
			Frames:        60,
			FPS:           30,
			Width:         800,
			Height:        800,
			Protocol:      "scel/2",
			Deterministic: true,
		})
	case "error":
		json.NewEncoder(w).Encode(upstreamResponse{Type: "error", Message: "shader compile failed"})
	case "garbage":
		w.Write([]byte(`{"weird":"shape"}`))
	case "status:500":
		http.Error(w, "renderer crashed", http.StatusInternalServerError)
	default:
		json.NewEncoder(w).Encode(upstreamResponse{
			Type:          "image",
			Data:          base64.StdEncoding.EncodeToString(f.pngBytes(req)),
			Mime:          "image/png",
			Protocol:      "scel/2",
			Version:       "3.1.4",
			Deterministic: true,
		})
	}
}

func newTestGateway(t *testing.T, f *fakeUpstream) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	g := New(Config{
		UpstreamURL: srv.URL,
		UpstreamKey: f.wantKey,
		Timeout:     2 * time.Second,
		RateLimit:   shield.RateLimitConfig{MaxRequests: 1000, WindowSeconds: 60, Enabled: true},
	})
	return g, srv
}

func postJSON(t *testing.T, h http.Handler, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRender_StaticHashComputedByGateway(t *testing.T) {
	// WHAT: The gateway hashes the exact bytes the upstream returned and
	// the response carries hash + base64 payload.
	// WHY: The hash the client sees must cover bytes the gateway actually
	// received, not bytes the client trusts were sent.
	f := &fakeUpstream{t: t, wantKey: strings.Repeat("k", 32)}
	g, _ := newTestGateway(t, f)
	r := g.Routes()

	rec := postJSON(t, r, "/render", RenderRequest{Code: "function draw(){}", Seed: 42})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp RenderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	wantHash := canon.Sum([]byte("png|function draw(){}|42"))
	if resp.Result.PrimaryHash != wantHash {
		t.Errorf("hash = %s, want %s", resp.Result.PrimaryHash, wantHash)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Result.PrimaryPayload)
	if err != nil || canon.Sum(raw) != wantHash {
		t.Error("payload does not match its hash")
	}
	if resp.Result.Mode != "static" || resp.Result.MimeType != "image/png" {
		t.Errorf("result = %+v", resp.Result)
	}
}

func TestRender_RawBinaryUpstream(t *testing.T) {
	// WHAT: A raw image/png upstream response is hashed and base64-encoded
	// by the gateway.
	// WHY: Binary output handling is the gateway's job, not the client's.
	f := &fakeUpstream{t: t, mode: "binary"}
	g, _ := newTestGateway(t, f)

	rec := postJSON(t, g.Routes(), "/render", RenderRequest{Code: "draw();", Seed: 7})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp RenderResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Result.PrimaryHash != canon.Sum([]byte("png|draw();|7")) {
		t.Errorf("hash = %s", resp.Result.PrimaryHash)
	}
}

func TestRender_LoopCarriesBothHashes(t *testing.T) {
	// WHAT: Loop renders carry poster and animation hashes plus frame
	// metadata.
	// WHY: Loop mode has exactly two content hashes by contract.
	f := &fakeUpstream{t: t, mode: "animation"}
	g, _ := newTestGateway(t, f)

	rec := postJSON(t, g.Routes(), "/render", RenderRequest{
		Code: "draw();", Seed: 7,
		Execution: snapshot.Execution{Frames: 60, Loop: true},
	})
	var resp RenderResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Result.Mode != "loop" {
		t.Fatalf("mode = %q", resp.Result.Mode)
	}
	if resp.Result.PrimaryHash != canon.Sum([]byte("png|draw();|7")) {
		t.Error("poster hash wrong")
	}
	if resp.Result.AnimationHash != canon.Sum([]byte("mp4|draw();|7")) {
		t.Error("animation hash wrong")
	}
	if resp.Result.Frames != 60 || resp.Result.FPS != 30 {
		t.Errorf("frame metadata = %+v", resp.Result)
	}
}

func TestRoutes_AllowListOnly(t *testing.T) {
	// WHAT: Paths outside the fixed operation set answer 404 before any
	// upstream contact.
	// WHY: The proxy must not become an open relay to arbitrary upstream
	// paths.
	f := &fakeUpstream{t: t}
	g, _ := newTestGateway(t, f)
	r := g.Routes()

	for _, path := range []string{"/admin", "/render/../secret", "/v2/render", "/debug/pprof"} {
		req := httptest.NewRequest("POST", path, strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", path, rec.Code)
		}
	}
	if f.calls.Load() != 0 {
		t.Errorf("upstream contacted %d times for disallowed paths", f.calls.Load())
	}
}

func TestStatus_NeverLeaksCredentials(t *testing.T) {
	// WHAT: /status exposes only a configured boolean; neither the
	// upstream URL nor the key appears anywhere in the response.
	// WHY: Credential isolation is the point of the gateway.
	key := strings.Repeat("s", 32)
	f := &fakeUpstream{t: t, wantKey: key}
	g, srv := newTestGateway(t, f)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, req)
	body := rec.Body.String()
	if !strings.Contains(body, `"configured":true`) {
		t.Errorf("body = %s", body)
	}
	if strings.Contains(body, srv.URL) || strings.Contains(body, key) {
		t.Error("status response leaks upstream location or credential")
	}
}

func TestRender_ShapeValidation(t *testing.T) {
	// WHAT: Missing code, wrong-typed code, bad seed, and wrong vars
	// length are each a structured 400.
	// WHY: This coarse layer is independent of preflight — the gateway
	// does not trust that validation happened upstream of it.
	f := &fakeUpstream{t: t}
	g, _ := newTestGateway(t, f)
	r := g.Routes()

	cases := []string{
		`{"seed":1}`,
		`{"code":"","seed":1}`,
		`{"code":42,"seed":1}`,
		`{"code":"draw();","seed":-5}`,
		`{"code":"draw();","seed":1,"vars":[1,2,3]}`,
		`{"code":"draw();","seed":1,"vars":[50,50,50,50,50,50,50,50,50,200]}`,
		`not json`,
	}
	for _, body := range cases {
		req := httptest.NewRequest("POST", "/render", strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status %d, want 400", body, rec.Code)
		}
	}
	if f.calls.Load() != 0 {
		t.Error("invalid payloads must never reach the upstream")
	}
}

func TestRender_PreflightRejection(t *testing.T) {
	// WHAT: Code with a canvas-sizing call is refused with 422 and the
	// finding's line number; the upstream is never contacted.
	// WHY: Preflight rejections block execution entirely.
	f := &fakeUpstream{t: t}
	g, _ := newTestGateway(t, f)

	rec := postJSON(t, g.Routes(), "/render", RenderRequest{Code: "createCanvas(500,500);", Seed: 1})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"line":1`) {
		t.Errorf("findings missing line number: %s", rec.Body.String())
	}
	if f.calls.Load() != 0 {
		t.Error("preflight-rejected code must never be forwarded upstream")
	}
}

func TestRender_PayloadTooLarge(t *testing.T) {
	// WHAT: A body over the cap is rejected with 413.
	// WHY: Payload bounds protect both the gateway and the renderer.
	f := &fakeUpstream{t: t}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	g := New(Config{UpstreamURL: srv.URL, MaxBodyBytes: 256,
		RateLimit: shield.RateLimitConfig{MaxRequests: 1000, WindowSeconds: 60, Enabled: true}})

	big := RenderRequest{Code: strings.Repeat("x", 1024), Seed: 1}
	rec := postJSON(t, g.Routes(), "/render", big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status %d, want 413", rec.Code)
	}
	if f.calls.Load() != 0 {
		t.Error("oversized payloads must never reach the upstream")
	}
}

func TestVerify_PayloadTooLargeUndeclaredLength(t *testing.T) {
	// WHAT: A verify body over the cap with no declared Content-Length is
	// rejected with 413 when the reader cap trips mid-decode, not 400.
	// WHY: Size rejections and shape rejections stay distinct classes on
	// every route, including for clients that omit or lie about length.
	f := &fakeUpstream{t: t}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	g := New(Config{UpstreamURL: srv.URL, MaxBodyBytes: 256,
		RateLimit: shield.RateLimitConfig{MaxRequests: 1000, WindowSeconds: 60, Enabled: true}})

	body, err := json.Marshal(VerifyRequest{
		Snapshot:     snapshot.Snapshot{Code: strings.Repeat("x", 1024), Seed: 1},
		ExpectedHash: strings.Repeat("a", 64),
	})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = -1

	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status %d, want 413; body %s", rec.Code, rec.Body.String())
	}
	if f.calls.Load() != 0 {
		t.Error("oversized payloads must never reach the upstream")
	}
}

func TestRender_UpstreamErrorClasses(t *testing.T) {
	// WHAT: Upstream 5xx maps to 502, a declared error response maps to
	// 422, an unrecognized shape maps to 502, and an unreachable upstream
	// maps to 504 — all distinguishable.
	// WHY: Callers must tell "renderer broken" from "renderer refused"
	// from "renderer absent" to react correctly.
	cases := []struct {
		mode string
		want int
	}{
		{"status:500", http.StatusBadGateway},
		{"error", http.StatusUnprocessableEntity},
		{"garbage", http.StatusBadGateway},
	}
	for _, tc := range cases {
		f := &fakeUpstream{t: t, mode: tc.mode}
		g, _ := newTestGateway(t, f)
		rec := postJSON(t, g.Routes(), "/render", RenderRequest{Code: "draw();", Seed: 1})
		if rec.Code != tc.want {
			t.Errorf("mode %s: status %d, want %d", tc.mode, rec.Code, tc.want)
		}
	}

	// Unreachable: point at a closed port.
	g := New(Config{UpstreamURL: "http://127.0.0.1:1", Timeout: 500 * time.Millisecond,
		RateLimit: shield.RateLimitConfig{MaxRequests: 1000, WindowSeconds: 60, Enabled: true}})
	rec := postJSON(t, g.Routes(), "/render", RenderRequest{Code: "draw();", Seed: 1})
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("unreachable: status %d, want 504", rec.Code)
	}
}

func TestVerify_ReRenderDefeatsForgery(t *testing.T) {
	// WHAT: The gateway recomputes the hash by re-rendering; a client
	// declaring a bogus expected hash gets FAIL, a correct one gets PASS.
	// WHY: This is the load-bearing anti-tamper property — neither side
	// of the comparison is client-controlled.
	f := &fakeUpstream{t: t}
	g, _ := newTestGateway(t, f)
	r := g.Routes()
	snap := snapshot.Snapshot{Code: "function draw(){}", Seed: 42, Vars: snapshot.DefaultVars()}

	rec := postJSON(t, r, "/verify", VerifyRequest{Snapshot: snap, ExpectedHash: canon.Sum([]byte("forged"))})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp VerifyResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Result.Verified {
		t.Error("forged expected hash must not verify")
	}
	if len(resp.Result.Mismatches) == 0 {
		t.Error("FAIL must carry a structured mismatch report")
	}

	genuine := canon.Sum([]byte("png|function draw(){}|42"))
	rec = postJSON(t, r, "/verify", VerifyRequest{Snapshot: snap, ExpectedHash: genuine})
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Result.Verified {
		t.Errorf("genuine hash must verify: %+v", resp.Result)
	}
}

func TestVerify_LoopRejectsSingleHash(t *testing.T) {
	// WHAT: A loop-mode verify with only one hash is a 400.
	// WHY: Loop verification requires both poster and animation hashes.
	f := &fakeUpstream{t: t, mode: "animation"}
	g, _ := newTestGateway(t, f)
	snap := snapshot.Snapshot{Code: "draw();", Seed: 7, Vars: snapshot.DefaultVars(),
		Execution: snapshot.Execution{Loop: true}}

	rec := postJSON(t, g.Routes(), "/verify", VerifyRequest{
		Snapshot:           snap,
		ExpectedPosterHash: canon.Sum([]byte("png|draw();|7")),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
	if f.calls.Load() != 0 {
		t.Error("incomplete loop request must not trigger a render")
	}
}

func TestVerify_LoopPartialIsFail(t *testing.T) {
	// WHAT: Poster matching while animation mismatches yields
	// verified=false with per-hash flags.
	// WHY: Loop verification is all-or-nothing.
	f := &fakeUpstream{t: t, mode: "animation"}
	g, _ := newTestGateway(t, f)
	snap := snapshot.Snapshot{Code: "draw();", Seed: 7, Vars: snapshot.DefaultVars(),
		Execution: snapshot.Execution{Loop: true}}

	rec := postJSON(t, g.Routes(), "/verify", VerifyRequest{
		Snapshot:              snap,
		ExpectedPosterHash:    canon.Sum([]byte("png|draw();|7")),
		ExpectedAnimationHash: canon.Sum([]byte("tampered")),
	})
	var resp VerifyResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Result.Verified {
		t.Error("partial match reported as verified")
	}
	if !resp.Result.PosterVerified || resp.Result.AnimationVerified {
		t.Errorf("per-hash flags = %+v", resp.Result)
	}
}

func TestHealth_ReportsUpstream(t *testing.T) {
	// WHAT: /health reports availability, latency, and renderer metadata.
	// WHY: Callers need reachability without learning the upstream URL.
	f := &fakeUpstream{t: t}
	g, _ := newTestGateway(t, f)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, req)
	var resp HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Available || resp.Protocol != "scel/2" {
		t.Errorf("health = %+v", resp)
	}
}

func TestRender_Determinism(t *testing.T) {
	// WHAT: Rendering the same snapshot twice yields the same hash;
	// seed 43 yields a different hash than seed 42.
	// WHY: Scenarios A and B of the determinism contract.
	f := &fakeUpstream{t: t}
	g, _ := newTestGateway(t, f)
	r := g.Routes()
	req := RenderRequest{Code: "<valid program>", Seed: 42,
		Vars: []float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50}}

	var hashes []string
	for i := 0; i < 2; i++ {
		var resp RenderResponse
		rec := postJSON(t, r, "/render", req)
		json.Unmarshal(rec.Body.Bytes(), &resp)
		hashes = append(hashes, resp.Result.PrimaryHash)
	}
	if hashes[0] != hashes[1] {
		t.Error("identical snapshots must render to identical hashes")
	}

	req.Seed = 43
	var resp RenderResponse
	rec := postJSON(t, r, "/render", req)
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Result.PrimaryHash == hashes[0] {
		t.Error("seed 43 must hash differently than seed 42")
	}
}

func TestGateway_RateLimitWindow(t *testing.T) {
	// WHAT: The (N+1)th request within the window is a 429 with
	// Retry-After; the limiter key is the forwarded client address.
	// WHY: Throttling is enforced at the gateway boundary for every
	// operation, render included.
	f := &fakeUpstream{t: t}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	g := New(Config{UpstreamURL: srv.URL,
		RateLimit: shield.RateLimitConfig{MaxRequests: 2, WindowSeconds: 60, Enabled: true}})
	r := g.Routes()

	for i := 0; i < 2; i++ {
		rec := postJSON(t, r, "/render", RenderRequest{Code: "draw();", Seed: 1})
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}
	rec := postJSON(t, r, "/render", RenderRequest{Code: "draw();", Seed: 1})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 must carry a Retry-After hint")
	}
}

func TestGateway_EventSinkReceivesOutcomes(t *testing.T) {
	// WHAT: The sink sees one event per operation with the right kind,
	// mode, and outcome, including the mismatch case.
	// WHY: Operational recording hangs off this hook; a silent sink means
	// blind operators.
	f := &fakeUpstream{t: t, wantKey: strings.Repeat("k", 32)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	type event struct{ kind, mode, outcome string }
	var mu sync.Mutex
	var events []event
	g := New(Config{
		UpstreamURL: srv.URL,
		UpstreamKey: f.wantKey,
		Timeout:     2 * time.Second,
	}, WithEventSink(func(_ context.Context, kind, mode, outcome string, _ time.Duration) {
		mu.Lock()
		events = append(events, event{kind, mode, outcome})
		mu.Unlock()
	}))
	r := g.Routes()

	rec := postJSON(t, r, "/render", RenderRequest{Code: "draw();", Seed: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("render status %d", rec.Code)
	}
	rec = postJSON(t, r, "/verify", VerifyRequest{
		Snapshot:     snapshot.Snapshot{Code: "draw();", Seed: 1, Vars: snapshot.DefaultVars()},
		ExpectedHash: canon.SumString("not the real bytes"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status %d", rec.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("want 2 events, got %d", len(events))
	}
	if events[0] != (event{"render", "static", "ok"}) {
		t.Errorf("render event = %+v", events[0])
	}
	if events[1] != (event{"verify", "static", "mismatch"}) {
		t.Errorf("verify event = %+v", events[1])
	}
}
