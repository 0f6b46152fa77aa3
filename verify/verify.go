// CLAUDE:SUMMARY Verification engine: static/loop hash policies, re-render comparison, bundle integrity checks, mismatch reports.
// Package verify decides whether a claimed render result is authentic. It
// re-derives the expected hashes — by asking a Renderer to re-execute the
// snapshot — and compares them against the declared ones using exact
// normalized equality.
//
// A verification that ran and failed is a normal Result with Verified set
// to false, never an error value. Errors are reserved for "verification
// could not run": unreachable renderer, malformed input, cancelled context.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/scel/canon"
	"github.com/hazyhaar/scel/snapshot"
)

// Renderer re-executes a snapshot against the authoritative renderer.
// Implementations must be deterministic: the same snapshot yields the
// same bytes, hence the same hashes.
type Renderer interface {
	Render(ctx context.Context, snap snapshot.Snapshot) (RenderResult, error)
}

// Meta carries renderer-reported protocol information.
type Meta struct {
	Protocol      string `json:"protocol,omitempty"`
	Version       string `json:"version,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	Deterministic bool   `json:"deterministic,omitempty"`
}

// RenderResult is the output of one render invocation. Static mode
// carries exactly one content hash; loop mode carries two (poster +
// animation), and loop verification requires both.
type RenderResult struct {
	Mode             string `json:"mode"` // "static" | "loop"
	PrimaryHash      string `json:"primaryHash"`
	PrimaryPayload   string `json:"primaryPayload,omitempty"` // base64
	MimeType         string `json:"mimeType,omitempty"`
	AnimationHash    string `json:"animationHash,omitempty"`
	AnimationPayload string `json:"animationPayload,omitempty"` // base64
	Frames           int    `json:"frames,omitempty"`
	FPS              int    `json:"fps,omitempty"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	Meta             Meta   `json:"meta,omitempty"`
}

// MatchType classifies how the computed hashes relate to the declared
// ones. It is diagnostic only: a partial match never upgrades a result
// to verified.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchPartial MatchType = "partial"
	MatchNone    MatchType = "none"
)

// Mismatch is one expected/actual difference in a FAIL report.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Result is the outcome of a verification that ran to completion.
type Result struct {
	Mode                  string     `json:"mode"`
	Verified              bool       `json:"verified"`
	PosterVerified        bool       `json:"posterVerified,omitempty"`
	AnimationVerified     bool       `json:"animationVerified,omitempty"`
	ComputedHash          string     `json:"computedHash"`
	ComputedAnimationHash string     `json:"computedAnimationHash,omitempty"`
	MatchType             MatchType  `json:"hashMatchType"`
	Mismatches            []Mismatch `json:"mismatches,omitempty"`
}

// ErrMissingExpectedHash is returned when a required expected hash is
// absent: the single hash in static mode, or either of the two in loop
// mode. Loop mode never accepts a single hash — that would let a caller
// claim a sealed animation trustworthy on a technicality.
var ErrMissingExpectedHash = errors.New("verify: missing expected hash")

// ErrModeMismatch is returned when the renderer's result mode does not
// match the requested verification policy.
var ErrModeMismatch = errors.New("verify: render mode mismatch")

// Engine re-renders snapshots through a Renderer and compares hashes.
type Engine struct {
	renderer Renderer
}

// New creates a verification engine over the given renderer.
func New(r Renderer) *Engine {
	return &Engine{renderer: r}
}

// VerifyStatic re-renders snap and compares the computed primary hash
// against expectedHash. PASS iff they are equal after normalization.
func (e *Engine) VerifyStatic(ctx context.Context, snap snapshot.Snapshot, expectedHash string) (Result, error) {
	if expectedHash == "" {
		return Result{}, fmt.Errorf("%w: expectedHash", ErrMissingExpectedHash)
	}
	if err := snapshot.Validate(snap); err != nil {
		return Result{}, err
	}

	// The render must complete and its hash must be computed before any
	// comparison; a cancelled request is never reported as verified.
	rr, err := e.renderer.Render(ctx, snap)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if rr.Mode != "static" {
		return Result{}, fmt.Errorf("%w: got %q, want static", ErrModeMismatch, rr.Mode)
	}

	res := Result{Mode: "static", ComputedHash: rr.PrimaryHash}
	if canon.Equal(rr.PrimaryHash, expectedHash) {
		res.Verified = true
		res.MatchType = MatchExact
		return res, nil
	}
	res.MatchType = MatchNone
	res.Mismatches = []Mismatch{{Field: "primaryHash", Expected: expectedHash, Actual: rr.PrimaryHash}}
	return res, nil
}

// VerifyLoop re-renders snap and requires BOTH the poster hash and the
// animation hash to verify. A partial match is always a FAIL; the
// MatchType field surfaces partiality for diagnostics only.
func (e *Engine) VerifyLoop(ctx context.Context, snap snapshot.Snapshot, expectedPoster, expectedAnimation string) (Result, error) {
	if expectedPoster == "" {
		return Result{}, fmt.Errorf("%w: expectedPosterHash", ErrMissingExpectedHash)
	}
	if expectedAnimation == "" {
		return Result{}, fmt.Errorf("%w: expectedAnimationHash", ErrMissingExpectedHash)
	}
	if err := snapshot.Validate(snap); err != nil {
		return Result{}, err
	}

	rr, err := e.renderer.Render(ctx, snap)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if rr.Mode != "loop" {
		return Result{}, fmt.Errorf("%w: got %q, want loop", ErrModeMismatch, rr.Mode)
	}

	res := Result{
		Mode:                  "loop",
		ComputedHash:          rr.PrimaryHash,
		ComputedAnimationHash: rr.AnimationHash,
		PosterVerified:        canon.Equal(rr.PrimaryHash, expectedPoster),
		AnimationVerified:     rr.AnimationHash != "" && canon.Equal(rr.AnimationHash, expectedAnimation),
	}
	res.Verified = res.PosterVerified && res.AnimationVerified

	switch {
	case res.PosterVerified && res.AnimationVerified:
		res.MatchType = MatchExact
	case res.PosterVerified || res.AnimationVerified:
		res.MatchType = MatchPartial
	default:
		res.MatchType = MatchNone
	}

	if !res.PosterVerified {
		res.Mismatches = append(res.Mismatches, Mismatch{Field: "posterHash", Expected: expectedPoster, Actual: rr.PrimaryHash})
	}
	if !res.AnimationVerified {
		res.Mismatches = append(res.Mismatches, Mismatch{Field: "animationHash", Expected: expectedAnimation, Actual: rr.AnimationHash})
	}
	return res, nil
}
