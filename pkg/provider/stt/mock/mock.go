// Package mock provides a test double for the stt.Provider interface.
//
// Queue the outcomes the consumer should observe in Results. Once the queue
// is exhausted, Listen waits on Replies (if set) and otherwise blocks until
// its context is cancelled, which models a learner who has not spoken yet.
//
// Example:
//
//	p := &mock.Provider{Results: []mock.Result{
//	    {Err: errors.New("no-speech")},
//	    {Transcript: stt.Transcript{Text: "I am fine"}},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rolecall/pkg/provider/stt"
)

// Result is one canned outcome of a Listen call.
type Result struct {
	// Transcript is returned when Err is nil.
	Transcript stt.Transcript

	// Err, if non-nil, is returned instead of Transcript.
	Err error

	// Panic, if non-nil, makes Listen panic with this value. Used to simulate
	// a misbehaving capability.
	Panic any
}

// ListenCall records a single invocation of Listen.
type ListenCall struct {
	// Ctx is the context passed to Listen.
	Ctx context.Context
	// Req is the request passed to Listen.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Results is consumed front to back, one entry per Listen call.
	Results []Result

	// Replies, if non-nil, supplies outcomes once Results is empty.
	Replies chan Result

	// Started, if non-nil, receives the request of every Listen call as soon
	// as it has been recorded. Sends do not block when nobody is receiving.
	Started chan stt.Request

	// --- Call records ---

	// ListenCalls records every call to Listen in order.
	ListenCalls []ListenCall
}

// Listen records the call and returns the next queued outcome.
func (p *Provider) Listen(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	p.ListenCalls = append(p.ListenCalls, ListenCall{Ctx: ctx, Req: req})
	var (
		res    Result
		queued bool
	)
	if len(p.Results) > 0 {
		res, p.Results = p.Results[0], p.Results[1:]
		queued = true
	}
	replies := p.Replies
	started := p.Started
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- req:
		default:
		}
	}

	if !queued {
		select {
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		case res = <-replies: // a nil channel blocks forever
		}
	}

	if res.Panic != nil {
		panic(res.Panic)
	}
	if res.Err != nil {
		return stt.Transcript{}, res.Err
	}
	return res.Transcript, nil
}

// CallCount returns the number of Listen calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ListenCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListenCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
