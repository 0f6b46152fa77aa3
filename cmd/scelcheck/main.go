// CLAUDE:SUMMARY Offline bundle replay — decode an artifact bundle, recompute its hashes, report PASS/FAIL per hash.
package main

import (
	"fmt"
	"os"

	"github.com/hazyhaar/scel/bundle"
	"github.com/hazyhaar/scel/verify"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "check":
		cmdCheck(os.Args[2:])
	case "show":
		cmdShow(os.Args[2:])
	default:
		// Bare invocation with a bundle path acts as check.
		if _, err := os.Stat(os.Args[1]); err == nil {
			cmdCheck(os.Args[1:])
			return
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `scelcheck — offline artifact bundle verification

usage:
  scelcheck check <bundle.json>
  scelcheck show  <bundle.json>
  scelcheck <bundle.json>          (same as check)

check  Recomputes the manifest and output hashes from the bundle's own
       data and compares them against the embedded values. Exit code 0
       means both match; 1 means tampering or corruption.
show   Prints the bundle's identity fields and embedded hashes.
`)
}

func loadBundle(args []string) bundle.ArtifactBundle {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "a bundle file path is required")
		os.Exit(1)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", args[0], err)
		os.Exit(1)
	}
	b, err := bundle.Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode %s: %v\n", args[0], err)
		os.Exit(1)
	}
	return b
}

func cmdCheck(args []string) {
	b := loadBundle(args)
	report := verify.CheckBundle(b)

	fmt.Printf("bundle:   %s (format %s)\n", b.ID, b.Version)
	fmt.Printf("manifest: %s\n", passFail(report.ManifestOK))
	fmt.Printf("output:   %s\n", passFail(report.OutputOK))
	for _, m := range report.Mismatches {
		fmt.Printf("  %s:\n    declared %s\n    computed %s\n", m.Field, m.Expected, m.Actual)
	}

	if !report.OK() {
		os.Exit(1)
	}
}

func cmdShow(args []string) {
	b := loadBundle(args)
	fmt.Printf("id:              %s\n", b.ID)
	fmt.Printf("version:         %s\n", b.Version)
	fmt.Printf("created_at:      %s\n", b.CreatedAt)
	fmt.Printf("strategy:        %s\n", b.Strategy.Name)
	fmt.Printf("dataset:         %s\n", b.Dataset.Source)
	fmt.Printf("seed:            %d\n", b.Params.Seed)
	fmt.Printf("period:          %s .. %s\n", b.Params.StartDate, b.Params.EndDate)
	fmt.Printf("manifest_hash:   %s\n", b.Manifest.ManifestHash)
	fmt.Printf("output_hash:     %s\n", b.Verification.OutputHash)
	if b.Render.Hash != "" {
		fmt.Printf("render_hash:     %s (%s)\n", b.Render.Hash, b.Render.Mode)
	}
	if b.Render.AnimationHash != "" {
		fmt.Printf("animation_hash:  %s\n", b.Render.AnimationHash)
	}
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
