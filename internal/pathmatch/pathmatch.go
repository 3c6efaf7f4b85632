// Package pathmatch implements the glob-style path matcher from spec §4.1:
// literal segments, {name} captures, single-segment *, and multi-segment **.
//
// The matching and specificity-scoring logic is hand-rolled because no
// library in the example pack supports named-segment capture alongside
// doublestar-style wildcards; github.com/bmatcuk/doublestar/v4 is used at
// registration time (validate.go) purely as a sanity check that a pattern's
// "**" usage is well-formed doublestar syntax, not for matching itself.
package pathmatch

import "strings"

// segmentKind classifies one compiled path segment.
type segmentKind int

const (
	kindLiteral segmentKind = iota
	kindVar
	kindStar
	kindDoubleStar
)

type segment struct {
	kind    segmentKind
	literal string // set when kind == kindLiteral
	name    string // set when kind == kindVar
}

// Pattern is a compiled path pattern ready for repeated matching.
type Pattern struct {
	raw      string
	segments []segment
}

// Compile parses a glob pattern into a Pattern. It never fails: any segment
// that isn't "*", "**", or "{name}" is treated as a literal.
func Compile(pattern string) *Pattern {
	p := &Pattern{raw: pattern}
	for _, seg := range splitSegments(pattern) {
		switch {
		case seg == "*":
			p.segments = append(p.segments, segment{kind: kindStar})
		case seg == "**":
			p.segments = append(p.segments, segment{kind: kindDoubleStar})
		case len(seg) >= 2 && seg[0] == '{' && seg[len(seg)-1] == '}':
			p.segments = append(p.segments, segment{kind: kindVar, name: seg[1 : len(seg)-1]})
		default:
			p.segments = append(p.segments, segment{kind: kindLiteral, literal: seg})
		}
	}
	return p
}

// Raw returns the original, uncompiled pattern string.
func (p *Pattern) Raw() string { return p.raw }

// HasDoubleStar reports whether the pattern contains a "**" segment.
func (p *Pattern) HasDoubleStar() bool {
	for _, s := range p.segments {
		if s.kind == kindDoubleStar {
			return true
		}
	}
	return false
}

// splitSegments splits a path into non-empty segments, trimming leading and
// trailing slashes.
func splitSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Result is the outcome of a successful Match.
type Result struct {
	Matched   bool
	Variables map[string]string
}

// Match evaluates the pattern against a concrete path and extracts any
// {name} captures into Variables, keyed by name.
func Match(pattern *Pattern, path string) Result {
	reqSegments := splitSegments(path)
	vars := map[string]string{}
	if matchFrom(pattern.segments, reqSegments, vars) {
		return Result{Matched: true, Variables: vars}
	}
	return Result{Matched: false}
}

// matchFrom recursively matches pattern segments against request segments.
// "**" is the only construct requiring backtracking (it may consume zero or
// more segments), so this is a small recursive-descent matcher rather than a
// single linear scan.
func matchFrom(pat []segment, req []string, vars map[string]string) bool {
	if len(pat) == 0 {
		return len(req) == 0
	}

	head := pat[0]

	if head.kind == kindDoubleStar {
		// Try consuming 0..len(req) segments for this **, left to right so
		// the first (shortest) match that lets the rest of the pattern
		// succeed wins.
		for n := 0; n <= len(req); n++ {
			if matchFrom(pat[1:], req[n:], vars) {
				return true
			}
		}
		return false
	}

	if len(req) == 0 {
		return false
	}

	switch head.kind {
	case kindLiteral:
		if req[0] != head.literal {
			return false
		}
	case kindVar:
		vars[head.name] = req[0]
	case kindStar:
		// no capture
	}

	return matchFrom(pat[1:], req[1:], vars)
}

// Specificity scores a pattern per §4.1: literal segments count 1 each;
// wildcard segments are weighted {var}=1, *=2, **=3, each subtracted. Higher
// is more specific.
func Specificity(pattern *Pattern) int {
	score := 0
	for _, s := range pattern.segments {
		switch s.kind {
		case kindLiteral:
			score++
		case kindVar:
			score--
		case kindStar:
			score -= 2
		case kindDoubleStar:
			score -= 3
		}
	}
	return score
}
