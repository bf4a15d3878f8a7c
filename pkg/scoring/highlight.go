package scoring

import "strings"

// WordResult is one reference word tagged with whether the learner said it.
type WordResult struct {
	// Word is the reference token with its original casing and punctuation.
	Word string `json:"word"`

	// Correct is true when the transcript token at the same position matches
	// Word case-insensitively.
	Correct bool `json:"correct"`
}

// Highlight tags every whitespace-delimited word of reference as correct or
// incorrect by comparing it with the candidate token at the same position.
//
// The comparison is strictly position-indexed: an inserted or dropped word in
// candidate shifts every later token and marks the remainder incorrect. No
// alignment is attempted.
//
// The result always has exactly one entry per reference word, regardless of
// the length of candidate. An empty reference yields an empty, non-nil slice.
func Highlight(reference, candidate string) []WordResult {
	display := strings.Fields(reference)
	spoken := strings.Fields(strings.ToLower(candidate))

	out := make([]WordResult, len(display))
	for i, word := range display {
		out[i] = WordResult{
			Word:    word,
			Correct: i < len(spoken) && spoken[i] == strings.ToLower(word),
		}
	}
	return out
}

// Accuracy returns the share of correct words in words as a percentage.
// An empty slice is treated as fully correct.
func Accuracy(words []WordResult) float64 {
	if len(words) == 0 {
		return 100
	}
	correct := 0
	for _, w := range words {
		if w.Correct {
			correct++
		}
	}
	return 100 * float64(correct) / float64(len(words))
}
