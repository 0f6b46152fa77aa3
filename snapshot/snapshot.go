// CLAUDE:SUMMARY Snapshot type and builder: ten named parameter slots, defaults merge, bounds validation, legacy record adapter.
// Package snapshot defines the minimal deterministic input of a render:
// program source, seed, a fixed-length ordered parameter vector, and the
// execution mode. Two snapshots with byte-identical code, equal seed, and
// equal vars must yield byte-identical output from the authoritative
// renderer — that contract is what verification hashes against.
package snapshot

import (
	"errors"
	"fmt"
	"strings"
)

// VarCount is the length of the parameter vector. The name↔position
// mapping below is part of the wire protocol; both ends must agree.
const VarCount = 10

// VarNames maps slot names to vector positions. Positions are fixed
// forever; new parameters get new trailing slots in a new protocol
// version, never reordered ones.
var VarNames = [VarCount]string{
	"density",    // 0
	"scale",      // 1
	"speed",      // 2
	"hue",        // 3
	"saturation", // 4
	"brightness", // 5
	"complexity", // 6
	"variation",  // 7
	"symmetry",   // 8
	"contrast",   // 9
}

const (
	// DefaultVar is the default value of every slot.
	DefaultVar = 50.0

	// VarMin and VarMax bound every slot value, inclusive.
	VarMin = 0.0
	VarMax = 100.0
)

// Execution carries the mode flags of a render.
type Execution struct {
	Frames int  `json:"frames,omitempty"`
	Loop   bool `json:"loop,omitempty"`
}

// Mode returns "loop" or "static" for this execution.
func (e Execution) Mode() string {
	if e.Loop {
		return "loop"
	}
	return "static"
}

// Snapshot fully determines the renderer's output. Immutable once built;
// embedded verbatim into bundles for replay.
type Snapshot struct {
	Code      string    `json:"code"`
	Seed      int64     `json:"seed"`
	Vars      []float64 `json:"vars"`
	Execution Execution `json:"execution"`
}

// Clone returns a deep copy, for callers that store snapshots.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Vars = append([]float64(nil), s.Vars...)
	return out
}

// ErrInvalidParams wraps every parameter validation failure.
var ErrInvalidParams = errors.New("snapshot: invalid parameters")

// ParamError lists every violated rule of a build request. It is raised
// before any network I/O and is never partially reported.
type ParamError struct {
	Violations []string
}

func (e *ParamError) Error() string {
	return "snapshot: invalid parameters: " + strings.Join(e.Violations, "; ")
}

func (e *ParamError) Unwrap() error { return ErrInvalidParams }

// DefaultVars returns a fresh vector with every slot at its default.
func DefaultVars() []float64 {
	vars := make([]float64, VarCount)
	for i := range vars {
		vars[i] = DefaultVar
	}
	return vars
}

// Build assembles a Snapshot from a partial named parameter set merged
// over the defaults. It validates the seed and every slot value, and
// returns a *ParamError listing all violations when any rule fails.
func Build(code string, seed int64, partial map[string]float64, exec Execution) (Snapshot, error) {
	var violations []string

	if seed < 0 {
		violations = append(violations, fmt.Sprintf("seed must be a non-negative integer, got %d", seed))
	}

	vars := DefaultVars()
	for name, v := range partial {
		idx := slotIndex(name)
		if idx < 0 {
			violations = append(violations, fmt.Sprintf("unknown parameter %q", name))
			continue
		}
		vars[idx] = v
	}
	for i, v := range vars {
		if v < VarMin || v > VarMax {
			violations = append(violations, fmt.Sprintf("%s must be in [%g,%g], got %g", VarNames[i], VarMin, VarMax, v))
		}
	}

	if len(violations) > 0 {
		return Snapshot{}, &ParamError{Violations: violations}
	}
	return Snapshot{Code: code, Seed: seed, Vars: vars, Execution: exec}, nil
}

// Validate re-checks an already-assembled snapshot, for values that arrive
// over the wire rather than through Build.
func Validate(s Snapshot) error {
	var violations []string
	if s.Code == "" {
		violations = append(violations, "code must be a non-empty string")
	}
	if s.Seed < 0 {
		violations = append(violations, fmt.Sprintf("seed must be a non-negative integer, got %d", s.Seed))
	}
	if len(s.Vars) != VarCount {
		violations = append(violations, fmt.Sprintf("vars must have exactly %d elements, got %d", VarCount, len(s.Vars)))
	} else {
		for i, v := range s.Vars {
			if v < VarMin || v > VarMax {
				violations = append(violations, fmt.Sprintf("%s must be in [%g,%g], got %g", VarNames[i], VarMin, VarMax, v))
			}
		}
	}
	if len(violations) > 0 {
		return &ParamError{Violations: violations}
	}
	return nil
}

func slotIndex(name string) int {
	for i, n := range VarNames {
		if n == name {
			return i
		}
	}
	return -1
}

// LegacyParams is the superseded named-field parameter record still found
// in old sealed claims. FromLegacy remaps it onto the current vector.
type LegacyParams struct {
	Code       string   `json:"code"`
	RandomSeed int64    `json:"randomSeed"`
	Density    *float64 `json:"density,omitempty"`
	Scale      *float64 `json:"scale,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	Hue        *float64 `json:"hue,omitempty"`
	Saturation *float64 `json:"saturation,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Complexity *float64 `json:"complexity,omitempty"`
	Variation  *float64 `json:"variation,omitempty"`
	Symmetry   *float64 `json:"symmetry,omitempty"`
	Contrast   *float64 `json:"contrast,omitempty"`
	FrameCount int      `json:"frameCount,omitempty"`
	Animated   bool     `json:"animated,omitempty"`
}

// FromLegacy converts a legacy parameter record into a Snapshot. The
// adapter is pure and total: missing fields take their defaults, a
// negative legacy seed is clamped to zero, and no input ever fails.
// Out-of-range values are passed through; Validate catches them at the
// boundary where rejection is appropriate.
func FromLegacy(p LegacyParams) Snapshot {
	vars := DefaultVars()
	fields := [VarCount]*float64{
		p.Density, p.Scale, p.Speed, p.Hue, p.Saturation,
		p.Brightness, p.Complexity, p.Variation, p.Symmetry, p.Contrast,
	}
	for i, f := range fields {
		if f != nil {
			vars[i] = *f
		}
	}
	seed := p.RandomSeed
	if seed < 0 {
		seed = 0
	}
	return Snapshot{
		Code: p.Code,
		Seed: seed,
		Vars: vars,
		Execution: Execution{
			Frames: p.FrameCount,
			Loop:   p.Animated,
		},
	}
}
