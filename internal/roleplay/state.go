package roleplay

import (
	"fmt"
	"time"

	"github.com/MrWong99/rolecall/pkg/scoring"
)

// PlaybackState is what the engine is doing right now. Exactly one state
// holds at any instant.
type PlaybackState int

const (
	// StateIdle means nothing is playing or recording: no session, a paused
	// session, or a finished one.
	StateIdle PlaybackState = iota

	// StateSpeakingOtherTurn means a turn of another speaker is being spoken.
	StateSpeakingOtherTurn

	// StateAwaitingUserRecording means the turn at the cursor belongs to the
	// learner and a recording may be started.
	StateAwaitingUserRecording

	// StateRecording means a capture session for the learner's turn is open.
	StateRecording
)

var stateNames = [...]string{
	StateIdle:                  "idle",
	StateSpeakingOtherTurn:     "speaking",
	StateAwaitingUserRecording: "awaiting_recording",
	StateRecording:             "recording",
}

// String returns the wire name of s.
func (s PlaybackState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("PlaybackState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes s by name so JSON snapshots are readable.
func (s PlaybackState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *PlaybackState) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = PlaybackState(i)
			return nil
		}
	}
	return fmt.Errorf("roleplay: unknown playback state %q", b)
}

// Attempt is the stored result of the learner's spoken answer to one turn.
type Attempt struct {
	// Transcript is what the recogniser heard.
	Transcript string `json:"transcript"`

	// Score is the similarity to the reference text in [0, 100].
	Score float64 `json:"score"`

	// Words is the per-word correctness overlay of the reference text.
	Words []scoring.WordResult `json:"words"`

	// RecordedAt is when the attempt was stored.
	RecordedAt time.Time `json:"recorded_at"`
}

// Snapshot is a read-only copy of the engine's observable state.
type Snapshot struct {
	SessionID string        `json:"session_id"`
	ScriptID  string        `json:"script_id"`
	Role      string        `json:"role,omitempty"`
	Active    bool          `json:"active"`
	Cursor    int           `json:"cursor"`
	State     PlaybackState `json:"state"`
	Paused    bool          `json:"paused,omitempty"`
	Complete  bool          `json:"complete"`

	// Attempts maps turn index to the stored attempt. The map is a copy.
	Attempts map[int]Attempt `json:"attempts"`

	// LastError is the reason of the most recent failed recording, cleared
	// by the next successful one.
	LastError string `json:"last_error,omitempty"`

	// RecognitionAvailable turns false permanently once the environment has
	// reported that speech recognition does not exist.
	RecognitionAvailable bool `json:"recognition_available"`
}

// Summary aggregates a session's attempts.
type Summary struct {
	Role string `json:"role"`

	// UserTurns is the number of turns in the script spoken by Role.
	UserTurns int `json:"user_turns"`

	// Attempted is the number of those turns with a stored attempt.
	Attempted int `json:"attempted"`

	// AverageScore is the mean similarity score over all attempts, or 0.
	AverageScore float64 `json:"average_score"`

	// AverageAccuracy is the mean share of correctly spoken words, or 0.
	AverageAccuracy float64 `json:"average_accuracy"`

	Complete bool `json:"complete"`
}

// EventKind names what happened in an [Event].
type EventKind string

const (
	// EventStateChanged fires on every playback state or cursor change.
	EventStateChanged EventKind = "state"

	// EventTurnSpoken fires after a turn of another speaker finished playing.
	EventTurnSpoken EventKind = "turn_spoken"

	// EventAttemptRecorded fires when an attempt has been stored.
	EventAttemptRecorded EventKind = "attempt"

	// EventRecognitionFailed fires when a recording ended without an attempt
	// for a reason other than an explicit stop.
	EventRecognitionFailed EventKind = "recognition_failed"

	// EventCompleted fires once when a session reaches the end of its script.
	// It never fires on Exit.
	EventCompleted EventKind = "completed"
)

// Event is delivered to the observer registered with [WithObserver].
type Event struct {
	Kind EventKind `json:"kind"`

	// Turn is the script index the event refers to, or -1.
	Turn int `json:"turn"`

	// Reason carries the failure reason of EventRecognitionFailed.
	Reason string `json:"reason,omitempty"`

	// Snapshot is the engine state right after the event.
	Snapshot Snapshot `json:"snapshot"`
}
