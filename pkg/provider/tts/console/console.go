// Package console implements tts.Provider for terminal practice sessions.
//
// Instead of producing audio, the provider prints each line and then waits
// for roughly as long as it would take to say it, so the pacing of a
// role-play feels the same as with real speech output.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/rolecall/pkg/provider/tts"
)

const defaultWordsPerMinute = 150

// Option configures a [Provider].
type Option func(*Provider)

// WithWordsPerMinute sets the simulated speaking speed at rate 1.0. Zero
// disables the simulated playback delay entirely.
func WithWordsPerMinute(wpm int) Option {
	return func(p *Provider) {
		if wpm >= 0 {
			p.wpm = wpm
		}
	}
}

// Provider prints utterances to a writer.
type Provider struct {
	mu  sync.Mutex
	out io.Writer
	wpm int
}

// New returns a Provider writing to out.
func New(out io.Writer, opts ...Option) *Provider {
	p := &Provider{out: out, wpm: defaultWordsPerMinute}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Speak prints req as "[speaker] text" and waits for the simulated duration.
func (p *Provider) Speak(ctx context.Context, req tts.Request) error {
	p.mu.Lock()
	_, err := fmt.Fprintf(p.out, "[%s] %s\n", req.Speaker, req.Text)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("console tts: write: %w", err)
	}

	d := p.duration(req)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// duration estimates how long req takes to say.
func (p *Provider) duration(req tts.Request) time.Duration {
	if p.wpm == 0 {
		return 0
	}
	rate := req.Rate
	if rate <= 0 {
		rate = 1
	}
	words := len(strings.Fields(req.Text))
	perWord := time.Minute / time.Duration(p.wpm)
	return time.Duration(float64(words) * float64(perWord) / rate)
}

var _ tts.Provider = (*Provider)(nil)
