// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to verify which utterances the role-play engine speaks and in
// what order. Set Gate to hold every Speak call open until the test releases
// it, which makes "speaking" states observable.
//
// Example:
//
//	p := &mock.Provider{}
//	_ = p.Speak(ctx, tts.Request{Text: "Hello"})
//	p.Texts() // ["Hello"]
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rolecall/pkg/provider/tts"
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	// Ctx is the context passed to Speak.
	Ctx context.Context
	// Req is the request passed to Speak.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SpeakErr, if non-nil, is returned by every Speak call after it has been
	// recorded.
	SpeakErr error

	// Gate, if non-nil, makes every Speak call block until a value is
	// received from it or the call's context is cancelled.
	Gate chan struct{}

	// Started, if non-nil, receives the request of every Speak call as soon as
	// it has been recorded. Sends do not block when nobody is receiving.
	Started chan tts.Request

	// --- Call records ---

	// SpeakCalls records every call to Speak in order.
	SpeakCalls []SpeakCall
}

// Speak records the call, optionally waits on Gate, then returns SpeakErr.
// If ctx is cancelled while waiting, ctx.Err() is returned instead.
func (p *Provider) Speak(ctx context.Context, req tts.Request) error {
	p.mu.Lock()
	p.SpeakCalls = append(p.SpeakCalls, SpeakCall{Ctx: ctx, Req: req})
	gate := p.Gate
	started := p.Started
	err := p.SpeakErr
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- req:
		default:
		}
	}

	if gate != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gate:
		}
	}
	return err
}

// Texts returns the text of every recorded Speak call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SpeakCalls))
	for i, c := range p.SpeakCalls {
		out[i] = c.Req.Text
	}
	return out
}

// CallCount returns the number of Speak calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SpeakCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpeakCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
