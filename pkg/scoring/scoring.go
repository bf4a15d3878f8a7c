// Package scoring grades a learner's spoken attempt against the reference
// text of a dialogue turn.
//
// Two independent measures are provided:
//
//   - [Similarity] produces a single percentage from the character-level
//     Levenshtein distance between the two strings. This is the score stored
//     for every attempt.
//   - [Highlight] projects the transcript onto the reference word by word so a
//     caller can render a per-word correctness overlay.
//
// Both functions are pure and safe for concurrent use.
package scoring

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Similarity returns how closely candidate matches reference as a percentage
// in [0, 100].
//
// Both strings are trimmed and case-folded, then compared with the Levenshtein
// edit distance over their runes. The distance is normalised by the longer of
// the two strings:
//
//	100 * (maxLen - distance) / maxLen
//
// Two strings that are empty after trimming score 100.
func Similarity(reference, candidate string) float64 {
	ref := normalise(reference)
	cand := normalise(candidate)

	maxLen := max(utf8.RuneCountInString(ref), utf8.RuneCountInString(cand))
	if maxLen == 0 {
		return 100
	}

	distance := matchr.Levenshtein(ref, cand)
	score := 100 * float64(maxLen-distance) / float64(maxLen)

	// Levenshtein never exceeds the longer length, but clamp so callers can
	// rely on the documented range.
	return min(max(score, 0), 100)
}

// normalise trims surrounding whitespace and lower-cases s.
func normalise(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
