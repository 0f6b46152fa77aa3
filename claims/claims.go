// CLAUDE:SUMMARY Sealed-claim rows on SQLite: bounded text fields, hash patterns, machine-readable write-time validation codes.
// Package claims persists sealed-claim records: a bounded set of
// descriptive text fields plus the JSON payload that embeds the snapshot
// and hashes of a sealed execution. Every write is structurally validated
// in Go before it reaches SQLite, and the schema repeats the critical
// constraints as CHECK clauses so that no other writer can sneak an
// invalid row in.
package claims

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/scel/bundle"
)

// Field bounds for sealed-claim rows.
const (
	MaxTitleLen     = 500
	MaxStatementLen = 5000
	MaxSubjectLen   = 500
	MaxKeywordsLen  = 2000
	MaxPayloadBytes = 200_000
	MaxSourcesBytes = 100_000
)

// Validation codes. Each violation kind maps to exactly one fixed tag so
// that callers can react programmatically; a generic failure is never
// returned.
const (
	CodeTitleTooLong     = "TITLE_TOO_LONG"
	CodeTitleMissing     = "TITLE_MISSING"
	CodeStatementTooLong = "STATEMENT_TOO_LONG"
	CodeSubjectTooLong   = "SUBJECT_TOO_LONG"
	CodeKeywordsTooLong  = "KEYWORDS_TOO_LONG"
	CodeBadVersion       = "BAD_VERSION"
	CodeBadMode          = "BAD_MODE"
	CodeBadHash          = "BAD_HASH"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodePayloadNotObject = "PAYLOAD_NOT_OBJECT"
	CodeSourcesTooLarge  = "SOURCES_TOO_LARGE"
	CodeSourcesNotArray  = "SOURCES_NOT_ARRAY"
	CodeSnapshotMissing  = "SNAPSHOT_MISSING"
	CodeCodeMissing      = "CODE_MISSING"
	CodeSeedInvalid      = "SEED_INVALID"
	CodeVarsLength       = "VARS_LENGTH"
	CodeLoopNoAnimation  = "LOOP_NO_ANIMATION"
)

var hashPattern = regexp.MustCompile(`^(sha256:)?[0-9a-f]{64}$`)

// Violation is one structural rule failure with its machine-readable code.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError aggregates every violation found at write time.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	codes := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		codes[i] = v.Code
	}
	return "claims: validation failed: " + strings.Join(codes, ", ")
}

// Has reports whether the error carries the given code.
func (e *ValidationError) Has(code string) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Claim is one sealed-claim row.
type Claim struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Statement     string          `json:"statement"`
	Subject       string          `json:"subject"`
	Keywords      string          `json:"keywords"`
	BundleVersion string          `json:"bundle_version"`
	Mode          string          `json:"mode"` // "static" | "loop"
	ImageHash     string          `json:"image_hash"`
	AnimationHash string          `json:"animation_hash,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Sources       json.RawMessage `json:"sources,omitempty"`
	CreatedAt     int64           `json:"created_at"`
}

// payloadShape is the subset of the payload the structural check reads.
// Fields are kept raw; the seed is re-unmarshaled into a float64 so that
// a string seed fails the check instead of being silently coerced.
type payloadShape struct {
	Snapshot *struct {
		Code json.RawMessage `json:"code"`
		Seed json.RawMessage `json:"seed"`
		Vars json.RawMessage `json:"vars"`
	} `json:"snapshot"`
}

// Validate structurally checks a claim before it is written. Every
// violated rule is collected; a nil return means the row is admissible.
func Validate(c *Claim) error {
	var vs []Violation
	add := func(code, msg string) { vs = append(vs, Violation{Code: code, Message: msg}) }

	if c.Title == "" {
		add(CodeTitleMissing, "title is required")
	}
	// Text bounds count characters, matching the schema's length() CHECK
	// clauses. Multibyte text must pass or fail identically in both layers.
	if utf8.RuneCountInString(c.Title) > MaxTitleLen {
		add(CodeTitleTooLong, fmt.Sprintf("title exceeds %d characters", MaxTitleLen))
	}
	if utf8.RuneCountInString(c.Statement) > MaxStatementLen {
		add(CodeStatementTooLong, fmt.Sprintf("statement exceeds %d characters", MaxStatementLen))
	}
	if utf8.RuneCountInString(c.Subject) > MaxSubjectLen {
		add(CodeSubjectTooLong, fmt.Sprintf("subject exceeds %d characters", MaxSubjectLen))
	}
	if utf8.RuneCountInString(c.Keywords) > MaxKeywordsLen {
		add(CodeKeywordsTooLong, fmt.Sprintf("keywords exceed %d characters", MaxKeywordsLen))
	}
	if !bundle.KnownVersions[c.BundleVersion] {
		add(CodeBadVersion, fmt.Sprintf("unknown bundle version %q", c.BundleVersion))
	}
	if c.Mode != "static" && c.Mode != "loop" {
		add(CodeBadMode, fmt.Sprintf("mode must be static or loop, got %q", c.Mode))
	}
	if !hashPattern.MatchString(c.ImageHash) {
		add(CodeBadHash, "image_hash must match (sha256:)?[0-9a-f]{64}")
	}
	if c.AnimationHash != "" && !hashPattern.MatchString(c.AnimationHash) {
		add(CodeBadHash, "animation_hash must match (sha256:)?[0-9a-f]{64}")
	}
	if c.Mode == "loop" && c.AnimationHash == "" {
		add(CodeLoopNoAnimation, "loop mode requires a non-empty animation hash")
	}

	vs = append(vs, validatePayload(c.Payload)...)

	if len(c.Sources) > 0 {
		if len(c.Sources) > MaxSourcesBytes {
			add(CodeSourcesTooLarge, fmt.Sprintf("sources exceed %d bytes", MaxSourcesBytes))
		}
		if !isJSONArray(c.Sources) {
			add(CodeSourcesNotArray, "sources must be a JSON array")
		}
	}

	if len(vs) > 0 {
		return &ValidationError{Violations: vs}
	}
	return nil
}

func validatePayload(payload json.RawMessage) []Violation {
	var vs []Violation
	add := func(code, msg string) { vs = append(vs, Violation{Code: code, Message: msg}) }

	if len(payload) > MaxPayloadBytes {
		add(CodePayloadTooLarge, fmt.Sprintf("payload exceeds %d bytes", MaxPayloadBytes))
	}
	if !isJSONObject(payload) {
		add(CodePayloadNotObject, "payload must be a JSON object")
		return vs
	}

	var ps payloadShape
	if err := json.Unmarshal(payload, &ps); err != nil || ps.Snapshot == nil {
		add(CodeSnapshotMissing, "payload.snapshot object is required")
		return vs
	}

	var code string
	if err := json.Unmarshal(ps.Snapshot.Code, &code); err != nil || code == "" {
		add(CodeCodeMissing, "payload.snapshot.code must be a non-empty string")
	}
	var seed float64
	if len(ps.Snapshot.Seed) == 0 || json.Unmarshal(ps.Snapshot.Seed, &seed) != nil {
		add(CodeSeedInvalid, "payload.snapshot.seed must be numeric")
	}
	var vars []json.RawMessage
	if err := json.Unmarshal(ps.Snapshot.Vars, &vars); err != nil || len(vars) != 10 {
		add(CodeVarsLength, "payload.snapshot.vars must be an array of exactly ten elements")
	}
	return vs
}

func isJSONObject(b []byte) bool {
	s := strings.TrimSpace(string(b))
	return strings.HasPrefix(s, "{") && json.Valid(b)
}

func isJSONArray(b []byte) bool {
	s := strings.TrimSpace(string(b))
	return strings.HasPrefix(s, "[") && json.Valid(b)
}
