// CLAUDE:SUMMARY Static preflight validation of submitted render programs: canvas-sizing errors, ambient-seed warnings, line-accurate findings.
// Package preflight statically inspects a render program before it is
// forwarded to the authoritative renderer. It rejects constructs that break
// the canonical-execution guarantees (caller-controlled canvas sizing) and
// warns on suspect patterns (reads of the ambient seed global).
//
// The validator does not parse the program's language. It strips comments
// and then matches patterns on the remaining text, which can both over- and
// under-reject: in particular, a disallowed call name appearing inside a
// string literal is still flagged. That limitation is deliberate — the
// boundary here is advisory strictness, not language analysis.
package preflight

import (
	"regexp"
	"strings"
)

// Finding is one validation result, located for developer feedback.
type Finding struct {
	Line    int    `json:"line"` // 1-indexed
	Text    string `json:"text"` // trimmed source line
	Message string `json:"message"`
}

// Report carries all findings from one validation pass. Validation is
// all-or-nothing: execution is refused unless Errors is empty.
type Report struct {
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
}

// Valid reports whether the program may be dispatched to the renderer.
// Warnings never block.
func (r Report) Valid() bool { return len(r.Errors) == 0 }

// sizingCalls are renderer APIs that let the caller override output
// dimensions. Output dimensions are part of the determinism contract, so
// any of these is a hard error.
var sizingCalls = []*regexp.Regexp{
	regexp.MustCompile(`\bcreateCanvas\s*\(`),
	regexp.MustCompile(`\bresizeCanvas\s*\(`),
	regexp.MustCompile(`\bpixelDensity\s*\(`),
}

// ambientSeed matches reads of a bare `seed` global whose presence the
// renderer does not guarantee. Correct programs drive all randomness
// through the renderer-seeded primitives.
var ambientSeed = regexp.MustCompile(`(^|[^.\w$])seed\b`)

// Validate inspects code and returns every finding. Comments are stripped
// first (line and block forms, including multi-line blocks) so that
// commented-out violations never trigger false positives. Line numbers in
// findings refer to the original source, 1-indexed.
func Validate(code string) Report {
	var report Report
	stripped := stripComments(code)
	origLines := strings.Split(code, "\n")

	for i, line := range strings.Split(stripped, "\n") {
		text := ""
		if i < len(origLines) {
			text = strings.TrimSpace(origLines[i])
		}
		for _, re := range sizingCalls {
			if loc := re.FindString(line); loc != "" {
				name := strings.TrimRight(strings.TrimSpace(loc), "( \t")
				report.Errors = append(report.Errors, Finding{
					Line:    i + 1,
					Text:    text,
					Message: name + " overrides renderer-controlled output dimensions and is not allowed",
				})
			}
		}
		if ambientSeed.MatchString(line) {
			report.Warnings = append(report.Warnings, Finding{
				Line:    i + 1,
				Text:    text,
				Message: "ambient seed global is not guaranteed by the renderer; use the seeded random primitives",
			})
		}
	}
	return report
}

// stripComments removes // line comments and /* */ block comments while
// preserving the line structure, so findings keep their original line
// numbers. Block comments spanning multiple lines leave the newlines in
// place. Comment-like sequences inside string literals are also removed;
// see the package comment for why that is acceptable here.
func stripComments(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	inBlock := false
	inLine := false
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case inBlock:
			if c == '*' && i+1 < len(code) && code[i+1] == '/' {
				inBlock = false
				i++
			} else if c == '\n' {
				b.WriteByte('\n')
			}
		case inLine:
			if c == '\n' {
				inLine = false
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(code) && code[i+1] == '*':
			inBlock = true
			i++
		case c == '/' && i+1 < len(code) && code[i+1] == '/':
			inLine = true
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
