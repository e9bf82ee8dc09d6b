/**
 * Keyword parsing for the underline pipelines
 *
 * Turns the raw comma-separated keyword field into an ordered,
 * de-duplicated set of lowercase keywords.
 */

package keywords

import "strings"

// Set is an ordered list of unique, non-empty, lowercase keywords.
type Set []string

// Parse splits raw on commas, trims and lowercases each piece, drops empty
// pieces and keeps the first occurrence of duplicates.
func Parse(raw string) Set {
	pieces := strings.Split(raw, ",")
	set := make(Set, 0, len(pieces))
	seen := make(map[string]struct{}, len(pieces))

	for _, piece := range pieces {
		kw := strings.ToLower(strings.TrimSpace(piece))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		set = append(set, kw)
	}

	return set
}

// Empty reports whether the set has no keywords. Pipelines do not run for an
// empty set.
func (s Set) Empty() bool { return len(s) == 0 }

// Len returns the number of keywords.
func (s Set) Len() int { return len(s) }

// Strings returns a copy of the keywords in order.
func (s Set) Strings() []string {
	return append([]string(nil), s...)
}

// Match returns the first keyword contained in text, if any. text is expected
// to be already cleaned (trimmed, lowercase).
func (s Set) Match(text string) (string, bool) {
	for _, kw := range s {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}
