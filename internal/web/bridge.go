package web

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/MrWong99/rolecall/pkg/provider/stt"
	"github.com/MrWong99/rolecall/pkg/provider/tts"
)

// errDisconnected is returned by pending capability calls once the browser
// has gone away.
var errDisconnected = errors.New("web: client disconnected")

// cancelTimeout bounds the write of a cancel request.
const cancelTimeout = time.Second

// reasonUnavailable is the listen_error reason a browser reports when it has
// no speech recognition at all.
const reasonUnavailable = "unavailable"

// sendFunc writes one message to the browser.
type sendFunc func(ctx context.Context, msg serverMessage) error

// bridge implements [tts.Provider] and [stt.Provider] on top of a browser
// connection. Every call is sent as a request with a fresh xid; the browser
// answers with a reply carrying the same id.
type bridge struct {
	send sendFunc

	mu      sync.Mutex
	pending map[string]chan clientMessage
	closed  bool
	done    chan struct{}
}

func newBridge(send sendFunc) *bridge {
	return &bridge{
		send:    send,
		pending: make(map[string]chan clientMessage),
		done:    make(chan struct{}),
	}
}

// Speak asks the browser to speak req and waits for the "spoken" reply.
func (b *bridge) Speak(ctx context.Context, req tts.Request) error {
	reply, err := b.call(ctx, serverMessage{
		Type:    msgSpeak,
		Text:    req.Text,
		Speaker: req.Speaker,
		Voice:   req.Voice,
		Locale:  req.Locale,
		Rate:    req.Rate,
	})
	if err != nil {
		return err
	}
	if reply.Reason != "" {
		return fmt.Errorf("web: speak: %s", reply.Reason)
	}
	return nil
}

// Listen asks the browser to capture one utterance and waits for a
// "transcript" or "listen_error" reply.
func (b *bridge) Listen(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	reply, err := b.call(ctx, serverMessage{
		Type:   msgListen,
		Locale: req.Locale,
		Hint:   req.Hint,
	})
	if err != nil {
		return stt.Transcript{}, err
	}
	switch reply.Type {
	case msgTranscript:
		return stt.Transcript{Text: reply.Text, Confidence: reply.Confidence}, nil
	case msgListenError:
		if reply.Reason == reasonUnavailable {
			return stt.Transcript{}, stt.ErrUnavailable
		}
		reason := reply.Reason
		if reason == "" {
			reason = "unknown error"
		}
		return stt.Transcript{}, errors.New(reason)
	}
	return stt.Transcript{}, fmt.Errorf("web: unexpected reply %q to listen", reply.Type)
}

// call sends msg with a new id and blocks until the reply, ctx cancellation,
// or disconnect. On cancellation the browser is told to abort the request.
func (b *bridge) call(ctx context.Context, msg serverMessage) (clientMessage, error) {
	id := xid.New().String()
	ch := make(chan clientMessage, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return clientMessage{}, errDisconnected
	}
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	msg.ID = id
	if err := b.send(ctx, msg); err != nil {
		return clientMessage{}, fmt.Errorf("web: send %s: %w", msg.Type, err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-b.done:
		return clientMessage{}, errDisconnected
	case <-ctx.Done():
		// Best effort; the connection may already be gone.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
		_ = b.send(cctx, serverMessage{Type: msgCancel, ID: id})
		cancel()
		return clientMessage{}, ctx.Err()
	}
}

// resolve delivers a reply to the call waiting on its id. Replies to
// unknown or already finished calls are dropped and reported as false.
func (b *bridge) resolve(msg clientMessage) bool {
	b.mu.Lock()
	ch, ok := b.pending[msg.ID]
	if ok {
		delete(b.pending, msg.ID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

// close fails every pending and future call with errDisconnected.
func (b *bridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

var (
	_ tts.Provider = (*bridge)(nil)
	_ stt.Provider = (*bridge)(nil)
)
