// Package stt defines the Provider interface for the speech recognition
// capability.
//
// An STT provider opens one capture session, waits for the learner to speak,
// and returns the recognised text. Whether recognition exists at all is a
// property of the environment: a provider that can never recognise speech
// returns [ErrUnavailable] and callers treat that as permanent.
package stt

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the environment has no speech recognition
// support. It is not transient; retrying will not help.
var ErrUnavailable = errors.New("stt: speech recognition unavailable")

// Request configures a single capture session.
type Request struct {
	// Locale is the BCP-47 language tag for recognition (e.g. "en-US").
	Locale string

	// Hint is the sentence the learner is expected to say. Providers may use
	// it as a recognition bias; most ignore it.
	Hint string
}

// Transcript is the result of one capture session.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// Confidence is the recogniser's confidence in [0, 1], or zero when the
	// provider does not report one.
	Confidence float64
}

// Provider is the abstraction over any speech recognition backend.
//
// Implementations must be safe for concurrent use, although the role-play
// engine never opens more than one capture session at a time per session.
type Provider interface {
	// Listen opens a capture session and blocks until a final transcript is
	// available, an error occurs, or ctx is cancelled.
	//
	// Cancelling ctx stops the capture session and Listen returns ctx.Err()
	// (possibly wrapped). A provider without recognition support returns
	// [ErrUnavailable]. Any other error is a recoverable recognition failure
	// such as "no-speech" or "not-allowed"; its message is shown to the user.
	Listen(ctx context.Context, req Request) (Transcript, error)
}

// ProviderFunc adapts an ordinary function to [Provider].
type ProviderFunc func(ctx context.Context, req Request) (Transcript, error)

// Listen calls f(ctx, req).
func (f ProviderFunc) Listen(ctx context.Context, req Request) (Transcript, error) {
	return f(ctx, req)
}
