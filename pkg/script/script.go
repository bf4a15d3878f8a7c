// Package script defines the dialogue scripts learners role-play and loads
// them from YAML.
//
// A [Script] is an ordered list of [Turn] values. Order is dialogue order and
// speakers repeat. Scripts are read-only once loaded: a running role-play
// session keeps the exact Script value it was started with even if the
// [Library] reloads the file from disk.
//
// Example file:
//
//	id: cafe-order
//	title: "Ordering at a café"
//	level: A2
//	locale: en-GB
//	voices:
//	  A: en-GB-female-1
//	turns:
//	  - speaker: A
//	    text: "Good morning! What can I get you?"
//	  - speaker: B
//	    text: "A flat white, please."
package script

import (
	"errors"
	"fmt"
	"strings"
)

// Turn is one line of dialogue.
type Turn struct {
	// Speaker is the role label, e.g. "A" or "Waiter".
	Speaker string `yaml:"speaker" json:"speaker"`

	// Text is the reference sentence the speaker says.
	Text string `yaml:"text" json:"text"`
}

// Script is a complete dialogue a learner can role-play.
type Script struct {
	// ID uniquely identifies the script within a [Library].
	ID string `yaml:"id" json:"id"`

	// Title is the human-readable name shown in the lesson list.
	Title string `yaml:"title" json:"title"`

	// Level is a free-form difficulty label such as a CEFR level.
	Level string `yaml:"level" json:"level,omitempty"`

	// Locale is the BCP-47 tag used for speaking and recognition. Empty means
	// the engine default.
	Locale string `yaml:"locale" json:"locale,omitempty"`

	// Voices maps a speaker label to a voice identifier understood by the
	// speech capability. Speakers without an entry use the default voice.
	Voices map[string]string `yaml:"voices" json:"voices,omitempty"`

	// Turns is the dialogue in order.
	Turns []Turn `yaml:"turns" json:"turns"`
}

// Len returns the number of turns.
func (s *Script) Len() int {
	return len(s.Turns)
}

// Speakers returns the distinct speaker labels in order of first appearance.
func (s *Script) Speakers() []string {
	seen := make(map[string]struct{}, 4)
	var out []string
	for _, t := range s.Turns {
		if _, ok := seen[t.Speaker]; ok {
			continue
		}
		seen[t.Speaker] = struct{}{}
		out = append(out, t.Speaker)
	}
	return out
}

// FirstTurnOf returns the index of the first turn spoken by speaker, or -1.
func (s *Script) FirstTurnOf(speaker string) int {
	for i, t := range s.Turns {
		if t.Speaker == speaker {
			return i
		}
	}
	return -1
}

// VoiceFor returns the configured voice for speaker, or "".
func (s *Script) VoiceFor(speaker string) string {
	return s.Voices[speaker]
}

// Validate checks the script for required fields.
//
// Rules:
//   - ID must be non-empty.
//   - There must be at least one turn.
//   - Every turn needs a non-blank speaker and non-blank text.
func (s *Script) Validate() error {
	var errs []error

	if strings.TrimSpace(s.ID) == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if len(s.Turns) == 0 {
		errs = append(errs, errors.New("turns must not be empty"))
	}
	for i, t := range s.Turns {
		if strings.TrimSpace(t.Speaker) == "" {
			errs = append(errs, fmt.Errorf("turns[%d]: speaker must not be empty", i))
		}
		if strings.TrimSpace(t.Text) == "" {
			errs = append(errs, fmt.Errorf("turns[%d]: text must not be empty", i))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
