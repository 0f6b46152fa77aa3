package canon

import (
	"strings"
	"testing"
)

func TestSum_KnownVector(t *testing.T) {
	// WHAT: Sum produces the sha256: prefixed lowercase hex digest.
	// WHY: The hash namespace is part of the wire format; a drift here
	// invalidates every stored hash.
	got := Sum([]byte("abc"))
	want := "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Sum(abc) = %q, want %q", got, want)
	}
}

func TestNormalize_AcceptsBareAndPrefixed(t *testing.T) {
	// WHAT: Bare hex, prefixed, and mixed-case forms all normalize to the
	// same prefixed lowercase value.
	// WHY: Stored hashes arrive in either form; comparisons must not depend
	// on which one.
	digest := strings.Repeat("ab", 32)
	cases := []string{
		digest,
		"sha256:" + digest,
		strings.ToUpper(digest),
		"SHA256:" + strings.ToUpper(digest),
		"  sha256:" + digest + " ",
	}
	for _, in := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q) error: %v", in, err)
			continue
		}
		if got != "sha256:"+digest {
			t.Errorf("Normalize(%q) = %q", in, got)
		}
	}
}

func TestNormalize_RejectsMalformed(t *testing.T) {
	// WHAT: Short, non-hex, and preview-prefixed strings are rejected.
	// WHY: A preview (fnv:) hash must never be usable where a sha256: hash
	// is required; that is the whole point of the distinct prefix.
	cases := []string{
		"",
		"sha256:",
		"deadbeef",
		"fnv:0123456789abcdef",
		"sha256:" + strings.Repeat("g", 64),
		strings.Repeat("a", 63),
		strings.Repeat("a", 65),
	}
	for _, in := range cases {
		if _, err := Normalize(in); err == nil {
			t.Errorf("Normalize(%q): expected error", in)
		}
	}
}

func TestHashRoundTrip(t *testing.T) {
	// WHAT: normalize(strip(normalize(h))) == normalize(h) for valid input.
	// WHY: Systems that store bare hex must round-trip losslessly.
	for _, in := range []string{
		strings.Repeat("0f", 32),
		"sha256:" + strings.Repeat("9c", 32),
		strings.ToUpper(strings.Repeat("7e", 32)),
	} {
		n1, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		n2, err := Normalize(Strip(n1))
		if err != nil {
			t.Fatalf("Normalize(Strip(%q)): %v", n1, err)
		}
		if n1 != n2 {
			t.Errorf("round trip changed hash: %q -> %q", n1, n2)
		}
	}
}

func TestEqual(t *testing.T) {
	// WHAT: Equal compares after normalization; malformed input never
	// equals anything, including itself.
	// WHY: Verification decisions ride on this comparison.
	d := strings.Repeat("cd", 32)
	if !Equal(d, "sha256:"+strings.ToUpper(d)) {
		t.Error("expected equal across forms")
	}
	if Equal("not-a-hash", "not-a-hash") {
		t.Error("malformed input must not compare equal")
	}
	if Equal(d, strings.Repeat("ce", 32)) {
		t.Error("distinct digests must not compare equal")
	}
}

func TestPreview_DistinctNamespace(t *testing.T) {
	// WHAT: Preview hashes carry the fnv: prefix and fail Valid.
	// WHY: The display fallback must be visually and programmatically
	// distinguishable from the cryptographic hash.
	p := Preview([]byte("hello"))
	if !strings.HasPrefix(p, PreviewPrefix) {
		t.Errorf("preview hash %q lacks fnv: prefix", p)
	}
	if Valid(p) {
		t.Errorf("preview hash %q must not validate as a content hash", p)
	}
}

func TestMetricsString_KeyOrderIndependent(t *testing.T) {
	// WHAT: Metrics serialize with keys sorted lexicographically regardless
	// of map construction order.
	// WHY: Go map iteration order is random; the canonical string must not be.
	a := map[string]float64{"sharpe": 1.5, "drawdown": -0.12, "cagr": 0.34}
	b := map[string]float64{"cagr": 0.34, "drawdown": -0.12, "sharpe": 1.5}
	if MetricsString(a) != MetricsString(b) {
		t.Errorf("canonical metrics differ: %q vs %q", MetricsString(a), MetricsString(b))
	}
	want := "cagr=0.34,drawdown=-0.12,sharpe=1.5"
	if got := MetricsString(a); got != want {
		t.Errorf("MetricsString = %q, want %q", got, want)
	}
}

func TestFormatFloat_ShortestRoundTrip(t *testing.T) {
	// WHAT: Floats serialize via the shortest round-trippable decimal.
	// WHY: A fixed formatting routine is required for cross-platform
	// hash stability; display formatting must never leak in.
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{50, "50"},
		{0.1, "0.1"},
		{-0.12, "-0.12"},
		{1.0 / 3.0, "0.3333333333333333"},
	}
	for _, tc := range cases {
		if got := FormatFloat(tc.in); got != tc.want {
			t.Errorf("FormatFloat(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestManifestSum_FixedOrderAndTimestampSensitivity(t *testing.T) {
	// WHAT: The manifest canonical string follows the documented field
	// order, and changing only the timestamp changes the hash; replaying
	// the original fields reproduces the original hash exactly.
	// WHY: The manifest hash is the provenance anchor of a sealed bundle.
	m := Manifest{
		Seed:         42,
		DatasetHash:  Sum([]byte("dataset")),
		StrategyHash: Sum([]byte("strategy")),
		ParamsHash:   Sum([]byte("params")),
		StartDate:    "2025-01-01",
		EndDate:      "2025-06-30",
		Timestamp:    "2025-07-01T00:00:00Z",
	}
	s := ManifestString(m)
	wantPrefix := "42|sha256:"
	if !strings.HasPrefix(s, wantPrefix) {
		t.Errorf("manifest string %q does not start with %q", s, wantPrefix)
	}
	if strings.Count(s, Delim) != 6 {
		t.Errorf("manifest string has %d delimiters, want 6", strings.Count(s, Delim))
	}

	h1 := ManifestSum(m)
	mutated := m
	mutated.Timestamp = "2025-07-01T00:00:01Z"
	if ManifestSum(mutated) == h1 {
		t.Error("timestamp change must change the manifest hash")
	}
	if ManifestSum(m) != h1 {
		t.Error("replaying identical fields must reproduce the hash")
	}
}

func TestOutputSum_Deterministic(t *testing.T) {
	// WHAT: Identical metrics+series yield identical output hashes across
	// repeated computation.
	// WHY: Determinism is the central correctness contract.
	metrics := map[string]float64{"total_return": 0.42, "volatility": 0.18}
	series := []SeriesPoint{{T: 1, V: 100}, {T: 2, V: 101.5}, {T: 3, V: 99.25}}
	h1 := OutputSum(metrics, series)
	h2 := OutputSum(map[string]float64{"volatility": 0.18, "total_return": 0.42}, series)
	if h1 != h2 {
		t.Errorf("output hash not deterministic: %s vs %s", h1, h2)
	}
	reordered := []SeriesPoint{{T: 2, V: 101.5}, {T: 1, V: 100}, {T: 3, V: 99.25}}
	if OutputSum(metrics, reordered) == h1 {
		t.Error("series order is semantic; reordering must change the hash")
	}
}
