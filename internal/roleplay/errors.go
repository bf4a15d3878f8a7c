package roleplay

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTurn is returned when an operation is requested out of
	// sequence: recording a turn that is not pending, that belongs to another
	// speaker, that already has an attempt, or while something else is in
	// flight. It indicates a caller bug; the UI should never allow it.
	ErrInvalidTurn = errors.New("roleplay: invalid turn request")

	// ErrRecognitionUnavailable is returned when the environment has no
	// speech recognition. It is permanent for the engine.
	ErrRecognitionUnavailable = errors.New("roleplay: speech recognition unavailable")

	// ErrRecordingStopped is returned by RecordCurrentTurn when the capture
	// session was stopped before producing a transcript.
	ErrRecordingStopped = errors.New("roleplay: recording stopped")

	// ErrNoSession is returned by Resume when there is no paused session.
	ErrNoSession = errors.New("roleplay: no paused session")
)

// reasonMalformed is reported when a capability misbehaves.
const reasonMalformed = "malformed result"

// RecognitionError is a recoverable recording failure. The engine is back in
// [StateAwaitingUserRecording] and the learner may try again.
type RecognitionError struct {
	// Reason is the recogniser's description, e.g. "no-speech".
	Reason string
}

// Error implements error.
func (e *RecognitionError) Error() string {
	return "roleplay: recognition failed: " + e.Reason
}

func invalidTurn(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTurn, fmt.Sprintf(format, args...))
}
