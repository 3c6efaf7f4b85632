package pathmatch

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ValidatePattern performs a registration-time sanity check on a configured
// endpoint path. It rejects patterns whose "**" usage isn't valid doublestar
// glob syntax once {name} captures are normalized to a literal placeholder —
// guarding against malformed glob syntax (e.g. an unclosed "[" or "{")
// that Compile itself would accept without complaint.
func ValidatePattern(pattern string) error {
	normalized := normalizeForDoublestar(pattern)
	if !doublestar.ValidatePattern(normalized) {
		return fmt.Errorf("pathmatch: %q is not a well-formed glob pattern", pattern)
	}
	return nil
}

// normalizeForDoublestar rewrites {name} captures to a literal segment so
// doublestar's validator — which has no concept of named captures — can
// still check the surrounding "*"/"**" structure.
func normalizeForDoublestar(pattern string) string {
	segs := splitSegments(pattern)
	out := make([]string, len(segs))
	for i, s := range segs {
		if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' {
			out[i] = "seg"
		} else {
			out[i] = s
		}
	}
	return strings.Join(out, "/")
}
