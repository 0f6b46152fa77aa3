// CLAUDE:SUMMARY Upstream renderer client: credential injection, tagged-union response decoding, binary output hashing.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/scel/canon"
	"github.com/hazyhaar/scel/scelsafe"
	"github.com/hazyhaar/scel/snapshot"
	"github.com/hazyhaar/scel/verify"
)

// upstreamRequest is the renderer's native request shape. The public
// Snapshot fields are translated here so that upstream renames never leak
// into the client contract.
type upstreamRequest struct {
	Source     string    `json:"source"`
	RandomSeed int64     `json:"random_seed"`
	Params     []float64 `json:"params"`
	FrameCount int       `json:"frame_count,omitempty"`
	Loop       bool      `json:"loop,omitempty"`
}

// upstreamResponse is the renderer's tagged union, discriminated by the
// Type field which is validated on receipt — never inferred from
// opportunistic field presence.
type upstreamResponse struct {
	Type string `json:"type"` // "image" | "animation" | "error"

	// image + animation
	Data string `json:"data,omitempty"` // base64 primary output
	Mime string `json:"mime,omitempty"`

	// animation only
	Poster string `json:"poster,omitempty"` // base64 poster frame
	Frames int    `json:"frames,omitempty"`
	FPS    int    `json:"fps,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`

	// error only
	Message string `json:"message,omitempty"`

	// metadata
	Protocol      string `json:"protocol,omitempty"`
	Version       string `json:"renderer_version,omitempty"`
	RenderedAt    string `json:"rendered_at,omitempty"`
	Deterministic bool   `json:"deterministic,omitempty"`
}

// upstreamHealth is the renderer's health response.
type upstreamHealth struct {
	OK       bool   `json:"ok"`
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Upstream calls the authoritative renderer. It holds the URL and
// credential, injects the bearer header on every call, and normalizes the
// renderer's heterogeneous response shapes into verify.RenderResult. It
// implements verify.Renderer, so the verification engine re-renders
// through the exact same path.
type Upstream struct {
	baseURL string
	key     string
	client  *http.Client
}

// NewUpstream creates a renderer client with the given bounded timeout.
func NewUpstream(baseURL, key string, timeout time.Duration) *Upstream {
	return &Upstream{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		client:  &http.Client{Timeout: timeout},
	}
}

// Render executes a snapshot on the authoritative renderer. All content
// hashes in the result are computed HERE over the exact bytes received,
// so the hash a client sees was never client-supplied.
func (u *Upstream) Render(ctx context.Context, snap snapshot.Snapshot) (verify.RenderResult, error) {
	if u.baseURL == "" {
		return verify.RenderResult{}, ErrNotConfigured
	}

	payload, err := json.Marshal(upstreamRequest{
		Source:     snap.Code,
		RandomSeed: snap.Seed,
		Params:     snap.Vars,
		FrameCount: snap.Execution.Frames,
		Loop:       snap.Execution.Loop,
	})
	if err != nil {
		return verify.RenderResult{}, fmt.Errorf("gateway: encode upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/v2/render", bytes.NewReader(payload))
	if err != nil {
		return verify.RenderResult{}, fmt.Errorf("gateway: build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.key)

	resp, err := u.client.Do(req)
	if err != nil {
		return verify.RenderResult{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := scelsafe.LimitedReadAll(resp.Body, scelsafe.MaxResponseBody)
	if err != nil {
		return verify.RenderResult{}, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return verify.RenderResult{}, &UpstreamError{
			Status: resp.StatusCode,
			Body:   scelsafe.Truncate(string(body), 200),
		}
	}

	// Raw binary output: the renderer may answer with image bytes
	// directly. The gateway hashes exactly what it received.
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "image/") {
		return verify.RenderResult{
			Mode:           "static",
			PrimaryHash:    canon.Sum(body),
			PrimaryPayload: base64.StdEncoding.EncodeToString(body),
			MimeType:       ct,
		}, nil
	}

	var ur upstreamResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return verify.RenderResult{}, fmt.Errorf("%w: %v (body: %s)", ErrProtocol, err, scelsafe.Truncate(string(body), 200))
	}
	return u.normalize(ur)
}

// normalize translates a decoded upstream response into the stable
// client-facing result, recomputing every hash from the decoded bytes.
func (u *Upstream) normalize(ur upstreamResponse) (verify.RenderResult, error) {
	meta := verify.Meta{
		Protocol:      ur.Protocol,
		Version:       ur.Version,
		Timestamp:     ur.RenderedAt,
		Deterministic: ur.Deterministic,
	}

	switch ur.Type {
	case "image":
		raw, err := base64.StdEncoding.DecodeString(ur.Data)
		if err != nil {
			return verify.RenderResult{}, fmt.Errorf("%w: bad image data: %v", ErrProtocol, err)
		}
		mime := ur.Mime
		if mime == "" {
			mime = "image/png"
		}
		return verify.RenderResult{
			Mode:           "static",
			PrimaryHash:    canon.Sum(raw),
			PrimaryPayload: ur.Data,
			MimeType:       mime,
			Meta:           meta,
		}, nil

	case "animation":
		poster, err := base64.StdEncoding.DecodeString(ur.Poster)
		if err != nil {
			return verify.RenderResult{}, fmt.Errorf("%w: bad poster data: %v", ErrProtocol, err)
		}
		anim, err := base64.StdEncoding.DecodeString(ur.Data)
		if err != nil {
			return verify.RenderResult{}, fmt.Errorf("%w: bad animation data: %v", ErrProtocol, err)
		}
		return verify.RenderResult{
			Mode:             "loop",
			PrimaryHash:      canon.Sum(poster),
			PrimaryPayload:   ur.Poster,
			MimeType:         "image/png",
			AnimationHash:    canon.Sum(anim),
			AnimationPayload: ur.Data,
			Frames:           ur.Frames,
			FPS:              ur.FPS,
			Width:            ur.Width,
			Height:           ur.Height,
			Meta:             meta,
		}, nil

	case "error":
		return verify.RenderResult{}, &UpstreamError{
			Status: http.StatusUnprocessableEntity,
			Body:   scelsafe.Truncate(ur.Message, 200),
		}

	default:
		return verify.RenderResult{}, fmt.Errorf("%w: type %q", ErrProtocol, ur.Type)
	}
}

// Health probes the renderer's health endpoint and reports availability
// with round-trip latency.
func (u *Upstream) Health(ctx context.Context) (available bool, latency time.Duration, meta verify.Meta) {
	if u.baseURL == "" {
		return false, 0, verify.Meta{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"/v2/health", nil)
	if err != nil {
		return false, 0, verify.Meta{}
	}
	req.Header.Set("Authorization", "Bearer "+u.key)

	start := time.Now()
	resp, err := u.client.Do(req)
	latency = time.Since(start)
	if err != nil {
		return false, latency, verify.Meta{}
	}
	defer resp.Body.Close()

	body, err := scelsafe.LimitedReadAll(resp.Body, 64*1024)
	if err != nil || resp.StatusCode != http.StatusOK {
		return false, latency, verify.Meta{}
	}
	var h upstreamHealth
	if err := json.Unmarshal(body, &h); err != nil {
		return false, latency, verify.Meta{}
	}
	return h.OK, latency, verify.Meta{Protocol: h.Protocol, Version: h.Version}
}
