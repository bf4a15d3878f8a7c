// Package console implements stt.Provider by reading typed lines from a
// terminal. Each Listen call prompts once and returns the next line.
//
// An empty line is reported as a "no-speech" recognition error, matching
// what a browser recogniser reports when nothing was said. End of input
// means recognition is unavailable for the rest of the process.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/rolecall/pkg/provider/stt"
)

// ErrNoSpeech is returned when the learner submits an empty line.
var ErrNoSpeech = errors.New("no-speech")

// Provider reads transcripts from an input stream.
type Provider struct {
	out io.Writer

	once  sync.Once
	in    io.Reader
	lines chan string
}

// New returns a Provider that prompts on out and reads lines from in.
func New(in io.Reader, out io.Writer) *Provider {
	return &Provider{in: in, out: out, lines: make(chan string)}
}

// Listen prompts for the expected sentence and returns the next typed line.
func (p *Provider) Listen(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.once.Do(func() { go p.scan() })

	if req.Hint != "" {
		fmt.Fprintf(p.out, "  say: %s\n", req.Hint)
	}
	fmt.Fprint(p.out, "> ")

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return stt.Transcript{}, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return stt.Transcript{}, stt.ErrUnavailable
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return stt.Transcript{}, ErrNoSpeech
		}
		return stt.Transcript{Text: line, Confidence: 1}, nil
	}
}

// scan feeds lines from the input into p.lines until EOF. The input is read
// by a single goroutine for the lifetime of the provider because a blocked
// terminal read cannot be interrupted.
func (p *Provider) scan() {
	defer close(p.lines)
	sc := bufio.NewScanner(p.in)
	for sc.Scan() {
		p.lines <- sc.Text()
	}
}

var _ stt.Provider = (*Provider)(nil)
