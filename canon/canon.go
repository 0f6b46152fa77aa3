// CLAUDE:SUMMARY Canonical serialization and content hashing: sha256: namespace, normalization, deterministic field joins.
// Package canon defines the canonical byte representation and content-hash
// namespace used by the scel verification protocol. Every hash exchanged
// between the gateway, the bundle codec, and the offline replay tool is
// computed over a canonical string built here, so the rules in this package
// are part of the wire format, not an implementation detail: identical
// logical input must yield a byte-identical canonical string and therefore
// an identical hash, across platform, process, and time.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Prefix is the namespace of cryptographic content hashes.
const Prefix = "sha256:"

// PreviewPrefix is the namespace of the non-cryptographic display fallback.
// A preview hash is never accepted where a sha256: hash is required.
const PreviewPrefix = "fnv:"

// Delim separates scalar fields in a canonical string. The field order is
// always enumerated explicitly by the caller, never derived from map
// iteration order.
const Delim = "|"

// ErrMalformedHash is returned when a string is neither bare hex nor a
// sha256:-prefixed digest of the right length.
var ErrMalformedHash = errors.New("canon: malformed hash")

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Sum computes the content hash of raw bytes in the sha256: namespace.
func Sum(b []byte) string {
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:])
}

// SumString computes the content hash of the UTF-8 bytes of s.
func SumString(s string) string {
	return Sum([]byte(s))
}

// Preview computes a short non-cryptographic hash for display previews
// (draft thumbnails, list views). The fnv: prefix keeps it visually
// distinct from a sha256: hash; Normalize rejects it, so it can never
// leak into verification.
func Preview(b []byte) string {
	h := fnv.New64a()
	h.Write(b)
	return PreviewPrefix + fmt.Sprintf("%016x", h.Sum64())
}

// Normalize accepts a hash either bare-hex or sha256:-prefixed, in any
// case, and returns the canonical prefixed lowercase form. Comparisons and
// storage always use the normalized form.
func Normalize(h string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(h))
	s = strings.TrimPrefix(s, Prefix)
	if !hexDigest.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrMalformedHash, h)
	}
	return Prefix + s, nil
}

// Strip returns the bare lowercase hex form of a hash, for systems that
// store digests without the namespace prefix. Malformed input is returned
// lowercased as-is; use Normalize first when validity matters.
func Strip(h string) string {
	s := strings.ToLower(strings.TrimSpace(h))
	return strings.TrimPrefix(s, Prefix)
}

// Equal reports whether two hash strings denote the same digest. Both are
// normalized first; malformed input never compares equal to anything.
func Equal(a, b string) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return na == nb
}

// Valid reports whether h is a well-formed sha256: or bare-hex digest.
func Valid(h string) bool {
	_, err := Normalize(h)
	return err == nil
}

// FormatFloat renders a float64 as its shortest round-trippable decimal.
// This is the one fixed formatting routine used everywhere a float enters
// a canonical string; locale-sensitive or display formatting must never be
// substituted for it.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FormatInt renders an integer for canonical strings.
func FormatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

// Join builds a canonical string from explicitly ordered scalar fields.
func Join(fields ...string) string {
	return strings.Join(fields, Delim)
}

// MetricsString serializes a metrics record deterministically: sub-keys
// sorted lexicographically, each rendered as key=value with FormatFloat,
// cells joined with commas.
func MetricsString(metrics map[string]float64) string {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + FormatFloat(metrics[k])
	}
	return strings.Join(parts, ",")
}

// SeriesPoint is one sample of an ordered series (equity curve, frame
// metric, ...). The series order is the data order; it is never re-sorted.
type SeriesPoint struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// SeriesString serializes an ordered series deterministically, one t:v
// cell per point, joined with semicolons.
func SeriesString(series []SeriesPoint) string {
	parts := make([]string, len(series))
	for i, p := range series {
		parts[i] = FormatInt(p.T) + ":" + FormatFloat(p.V)
	}
	return strings.Join(parts, ";")
}

// OutputString builds the canonical form of a result's output data:
// canonical metrics first, then the series, joined with the primary
// delimiter.
func OutputString(metrics map[string]float64, series []SeriesPoint) string {
	return Join(MetricsString(metrics), SeriesString(series))
}

// OutputSum hashes the canonical output string.
func OutputSum(metrics map[string]float64, series []SeriesPoint) string {
	return SumString(OutputString(metrics, series))
}

// Manifest carries the provenance fields of a sealed execution. Field
// order in ManifestString is fixed by the protocol and documented below;
// reordering would change every manifest hash ever computed.
type Manifest struct {
	Seed         int64  `json:"seed"`
	DatasetHash  string `json:"dataset_hash"`
	StrategyHash string `json:"strategy_hash"`
	ParamsHash   string `json:"params_hash"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	Timestamp    string `json:"timestamp"`
}

// ManifestString joins the manifest fields in the protocol order:
// seed|datasetHash|strategyHash|paramsHash|startDate|endDate|timestamp.
func ManifestString(m Manifest) string {
	return Join(
		FormatInt(m.Seed),
		m.DatasetHash,
		m.StrategyHash,
		m.ParamsHash,
		m.StartDate,
		m.EndDate,
		m.Timestamp,
	)
}

// ManifestSum hashes the canonical manifest string.
func ManifestSum(m Manifest) string {
	return SumString(ManifestString(m))
}
