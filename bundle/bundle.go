// CLAUDE:SUMMARY Versioned artifact bundle codec: fixed field order, strict decode validation, seal-time hash computation.
// Package bundle packs and unpacks the portable artifact record that makes
// a sealed execution independently replayable: the snapshot, its declared
// hashes, and enough provenance metadata for a third party to recompute
// everything offline without the original application.
//
// Field order in the encoded form is fixed by the format version (Go
// serializes struct fields in declaration order, which is exactly the
// documented order below). The manifest hash is computed over the
// canonical serialization, so the order itself is part of the format
// contract.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/scel/canon"
	"github.com/hazyhaar/scel/snapshot"
)

// FormatVersion is the version written into every new bundle.
const FormatVersion = "1.1"

// KnownVersions enumerates the format versions this codec understands.
// Decoders refuse anything else; best-effort parsing of an unknown major
// version would silently drop fields the hash was computed over.
var KnownVersions = map[string]bool{
	"1.0": true,
	"1.1": true,
}

// ErrUnknownVersion is returned by Decode for an unrecognized version.
var ErrUnknownVersion = errors.New("bundle: unknown format version")

// ErrMissingField is returned by Decode when a required top-level field
// is absent. Missing fields are structural errors, never warnings.
var ErrMissingField = errors.New("bundle: missing required field")

// StrategyBlock describes the strategy or claim the execution belongs to.
type StrategyBlock struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
}

// DatasetBlock describes the input dataset and carries its content hash.
type DatasetBlock struct {
	Source   string `json:"source"`
	Symbol   string `json:"symbol,omitempty"`
	Interval string `json:"interval,omitempty"`
	Hash     string `json:"hash"`
}

// ParamsBlock carries the execution parameters outside the snapshot:
// seed, date range, and free-form extra parameters.
type ParamsBlock struct {
	Seed      int64              `json:"seed"`
	StartDate string             `json:"start_date"`
	EndDate   string             `json:"end_date"`
	Extra     map[string]float64 `json:"extra,omitempty"`
}

// ManifestBlock is the provenance manifest plus its hash.
type ManifestBlock struct {
	Seed         int64  `json:"seed"`
	DatasetHash  string `json:"dataset_hash"`
	StrategyHash string `json:"strategy_hash"`
	ParamsHash   string `json:"params_hash"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	Timestamp    string `json:"timestamp"`
	ManifestHash string `json:"manifest_hash"`
}

// Manifest returns the canon view of the block, without the hash itself.
func (m ManifestBlock) Manifest() canon.Manifest {
	return canon.Manifest{
		Seed:         m.Seed,
		DatasetHash:  m.DatasetHash,
		StrategyHash: m.StrategyHash,
		ParamsHash:   m.ParamsHash,
		StartDate:    m.StartDate,
		EndDate:      m.EndDate,
		Timestamp:    m.Timestamp,
	}
}

// OutputsBlock carries the result data the output hash is computed over.
type OutputsBlock struct {
	Series  []canon.SeriesPoint `json:"series"`
	Metrics map[string]float64  `json:"metrics"`
}

// VerificationBlock carries the two result hashes: the locally
// recomputable output hash and the authoritative renderer's own hash of
// the raw rendered bytes. The latter is ground truth and is never
// recomputed by the client.
type VerificationBlock struct {
	OutputHash       string `json:"output_hash"`
	VerificationHash string `json:"verification_hash"`
}

// RenderBlock carries the declared render-output hashes. Static mode has
// exactly one; loop mode has a poster hash and an animation hash.
type RenderBlock struct {
	Mode          string `json:"mode"`
	Hash          string `json:"hash"`
	AnimationHash string `json:"animation_hash,omitempty"`
}

// ArtifactBundle is the portable sealed-execution record. Top-level field
// order is the documented format order; do not reorder declarations.
type ArtifactBundle struct {
	Version      string            `json:"version"`
	ID           string            `json:"id"`
	CreatedAt    string            `json:"created_at"`
	Strategy     StrategyBlock     `json:"strategy"`
	Dataset      DatasetBlock      `json:"dataset"`
	Params       ParamsBlock       `json:"params"`
	Manifest     ManifestBlock     `json:"manifest"`
	Outputs      OutputsBlock      `json:"outputs"`
	Verification VerificationBlock `json:"verification"`
	Snapshot     snapshot.Snapshot `json:"snapshot"`
	Render       RenderBlock       `json:"render"`
}

// requiredFields are the top-level keys every bundle must carry.
var requiredFields = []string{
	"version", "id", "created_at", "strategy", "dataset", "params",
	"manifest", "outputs", "verification", "snapshot", "render",
}

// Encode serializes a bundle in the fixed field order. Repeated encodings
// of the same logical bundle are byte-identical (struct order is stable
// and map-valued fields serialize with sorted keys).
func Encode(b ArtifactBundle) ([]byte, error) {
	out, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bundle: encode: %w", err)
	}
	return out, nil
}

// Decode parses and validates an encoded bundle. Every required top-level
// field must be present and the version must be known; otherwise the
// bundle is refused outright.
func Decode(data []byte) (ArtifactBundle, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ArtifactBundle{}, fmt.Errorf("bundle: decode: %w", err)
	}
	for _, f := range requiredFields {
		if _, ok := raw[f]; !ok {
			return ArtifactBundle{}, fmt.Errorf("%w: %s", ErrMissingField, f)
		}
	}

	var version string
	if err := json.Unmarshal(raw["version"], &version); err != nil {
		return ArtifactBundle{}, fmt.Errorf("bundle: decode version: %w", err)
	}
	if !KnownVersions[version] {
		return ArtifactBundle{}, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}

	var b ArtifactBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return ArtifactBundle{}, fmt.Errorf("bundle: decode: %w", err)
	}
	return b, nil
}

// SealInput gathers everything Seal needs to assemble a bundle.
type SealInput struct {
	ID        string
	CreatedAt string // RFC 3339 UTC
	Strategy  StrategyBlock
	Dataset   DatasetBlock
	Params    ParamsBlock
	Outputs   OutputsBlock
	Snapshot  snapshot.Snapshot
	Render    RenderBlock

	// VerificationHash is the authoritative renderer's hash of the raw
	// rendered bytes, carried verbatim.
	VerificationHash string
}

// Seal assembles an immutable bundle from a completed execution,
// computing the strategy, parameter, manifest, and output hashes at
// creation time. A new execution always produces a new bundle; sealed
// bundles are never partially updated.
func Seal(in SealInput) ArtifactBundle {
	strategyHash := canon.SumString(in.Snapshot.Code)
	paramsHash := canon.SumString(paramsString(in.Params, in.Snapshot))

	manifest := canon.Manifest{
		Seed:         in.Params.Seed,
		DatasetHash:  in.Dataset.Hash,
		StrategyHash: strategyHash,
		ParamsHash:   paramsHash,
		StartDate:    in.Params.StartDate,
		EndDate:      in.Params.EndDate,
		Timestamp:    in.CreatedAt,
	}

	return ArtifactBundle{
		Version:   FormatVersion,
		ID:        in.ID,
		CreatedAt: in.CreatedAt,
		Strategy:  in.Strategy,
		Dataset:   in.Dataset,
		Params:    in.Params,
		Manifest: ManifestBlock{
			Seed:         manifest.Seed,
			DatasetHash:  manifest.DatasetHash,
			StrategyHash: manifest.StrategyHash,
			ParamsHash:   manifest.ParamsHash,
			StartDate:    manifest.StartDate,
			EndDate:      manifest.EndDate,
			Timestamp:    manifest.Timestamp,
			ManifestHash: canon.ManifestSum(manifest),
		},
		Outputs: in.Outputs,
		Verification: VerificationBlock{
			OutputHash:       canon.OutputSum(in.Outputs.Metrics, in.Outputs.Series),
			VerificationHash: in.VerificationHash,
		},
		Snapshot: in.Snapshot.Clone(),
		Render:   in.Render,
	}
}

// paramsString canonicalizes the parameter block: seed, date range, the
// snapshot vector in slot order, then extra parameters as sorted metrics.
func paramsString(p ParamsBlock, s snapshot.Snapshot) string {
	fields := []string{
		canon.FormatInt(p.Seed),
		p.StartDate,
		p.EndDate,
	}
	for _, v := range s.Vars {
		fields = append(fields, canon.FormatFloat(v))
	}
	fields = append(fields, canon.MetricsString(p.Extra))
	return canon.Join(fields...)
}
