// CLAUDE:SUMMARY Local bundle integrity checks: manifest and output hash recomputation, distinct from renderer-side verification.
package verify

import (
	"github.com/hazyhaar/scel/bundle"
	"github.com/hazyhaar/scel/canon"
)

// IntegrityReport is the outcome of a local bundle integrity check. It is
// a distinct check from renderer-side verification: a bundle can carry
// tampered display metrics with intact pixels, or the reverse, and the
// report says which side failed.
type IntegrityReport struct {
	ManifestOK bool       `json:"manifestOk"`
	OutputOK   bool       `json:"outputOk"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// OK reports whether both embedded hashes match their recomputation. A
// bundle is fully authentic only when this AND renderer-side verification
// both pass.
func (r IntegrityReport) OK() bool { return r.ManifestOK && r.OutputOK }

// CheckBundle recomputes the manifest hash and the output hash from the
// bundle's embedded data and compares them against the embedded values.
// No network I/O; this is the offline half of verification.
func CheckBundle(b bundle.ArtifactBundle) IntegrityReport {
	var report IntegrityReport

	wantManifest := canon.ManifestSum(b.Manifest.Manifest())
	report.ManifestOK = canon.Equal(wantManifest, b.Manifest.ManifestHash)
	if !report.ManifestOK {
		report.Mismatches = append(report.Mismatches, Mismatch{
			Field:    "manifestHash",
			Expected: b.Manifest.ManifestHash,
			Actual:   wantManifest,
		})
	}

	wantOutput := canon.OutputSum(b.Outputs.Metrics, b.Outputs.Series)
	report.OutputOK = canon.Equal(wantOutput, b.Verification.OutputHash)
	if !report.OutputOK {
		report.Mismatches = append(report.Mismatches, Mismatch{
			Field:    "outputHash",
			Expected: b.Verification.OutputHash,
			Actual:   wantOutput,
		})
	}
	return report
}
