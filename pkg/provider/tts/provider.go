// Package tts defines the Provider interface for the speech output capability.
//
// A TTS provider speaks one sentence aloud and returns when playback has
// finished. Typical implementations are the browser's speech synthesis
// reached through the web gateway, or a terminal stand-in for local practice.
//
// Cancellation is expressed through the context passed to Speak: cancelling
// it must stop playback of that utterance only. Providers must not offer a
// global "cancel everything" that could interfere with other sessions.
package tts

import "context"

// Request describes a single utterance.
type Request struct {
	// Text is the sentence to speak.
	Text string

	// Speaker is the script role the line belongs to. Providers may use it
	// for display or to pick a voice when Voice is empty.
	Speaker string

	// Locale is the BCP-47 language tag (e.g. "en-US").
	Locale string

	// Rate is the speaking-rate multiplier; 1.0 is the provider's normal speed.
	Rate float64

	// Voice is an optional provider-specific voice identifier.
	Voice string
}

// Provider is the abstraction over any speech output backend.
//
// Implementations must be safe for concurrent use, although the role-play
// engine never issues more than one Speak call at a time per session.
type Provider interface {
	// Speak plays req and blocks until playback completes.
	//
	// If ctx is cancelled before playback completes, the implementation stops
	// the utterance and returns ctx.Err() (possibly wrapped). Any other
	// non-nil error means the utterance could not be played.
	Speak(ctx context.Context, req Request) error
}

// ProviderFunc adapts an ordinary function to [Provider].
type ProviderFunc func(ctx context.Context, req Request) error

// Speak calls f(ctx, req).
func (f ProviderFunc) Speak(ctx context.Context, req Request) error {
	return f(ctx, req)
}
