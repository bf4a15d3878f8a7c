// Package web serves role-play sessions to browsers.
//
// A browser connects to /ws and drives one [roleplay.Engine] per connection
// with JSON text frames. The browser also acts as the engine's speech
// capabilities: the server sends "speak" and "listen" requests, each tagged
// with an id, and the browser replies with "spoken", "transcript", or
// "listen_error" carrying the same id. Engine events are pushed back as
// "state" frames, followed by a single "completed" frame with the summary
// when a session finishes.
//
// The package also serves the read-only script catalogue at /scripts.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/xid"

	"github.com/MrWong99/rolecall/internal/observe"
	"github.com/MrWong99/rolecall/internal/roleplay"
	"github.com/MrWong99/rolecall/pkg/provider/stt"
	"github.com/MrWong99/rolecall/pkg/provider/tts"
	"github.com/MrWong99/rolecall/pkg/script"
)

// writeTimeout bounds a single frame write to a browser.
const writeTimeout = 5 * time.Second

// ScriptSource looks up scripts. *script.Library satisfies it.
type ScriptSource interface {
	Get(id string) (*script.Script, error)
	List() []*script.Script
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithEngineOptions sets a function returning the options for every new
// engine. It is called on each start so reloaded settings apply to new
// sessions.
func WithEngineOptions(fn func() []roleplay.Option) Option {
	return func(g *Gateway) { g.engineOpts = fn }
}

// WithMetrics records engine metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithAcceptOptions overrides the WebSocket handshake options, e.g. to allow
// cross-origin pages.
func WithAcceptOptions(o *websocket.AcceptOptions) Option {
	return func(g *Gateway) { g.accept = o }
}

// Gateway accepts browser connections and runs their role-play sessions.
type Gateway struct {
	scripts    ScriptSource
	engineOpts func() []roleplay.Option
	metrics    *observe.Metrics
	accept     *websocket.AcceptOptions

	mu    sync.Mutex
	conns map[string]*conn
}

// New creates a Gateway serving scripts from src.
func New(src ScriptSource, opts ...Option) *Gateway {
	g := &Gateway{
		scripts:    src,
		engineOpts: func() []roleplay.Option { return nil },
		conns:      make(map[string]*conn),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Register adds the gateway routes to mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", g.serveWS)
	mux.HandleFunc("GET /scripts", g.listScripts)
	mux.HandleFunc("GET /scripts/{id}", g.getScript)
}

// Connections returns the number of connected browsers.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Close disconnects every browser with status "going away".
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, g.accept)
	if err != nil {
		// Accept has already written the HTTP error.
		observe.Logger(r.Context()).Warn("web: websocket accept failed", "err", err)
		return
	}

	c := &conn{
		g:           g,
		ws:          ws,
		id:          xid.New().String(),
		speech:      true,
		recognition: true,
	}
	c.log = observe.Logger(r.Context()).With("conn_id", c.id)
	c.bridge = newBridge(c.send)

	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.conns, c.id)
		g.mu.Unlock()
	}()

	c.serve(r.Context())
}

// conn is one browser connection.
type conn struct {
	g      *Gateway
	ws     *websocket.Conn
	id     string
	log    *slog.Logger
	bridge *bridge

	writeMu sync.Mutex

	mu          sync.Mutex
	engine      *roleplay.Engine
	speech      bool
	recognition bool

	records sync.WaitGroup
}

func (c *conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.shutdown()

	c.log.Info("web: client connected")
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, c.ws, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.log.Info("web: client disconnected")
			default:
				c.log.Debug("web: read ended", "err", err)
			}
			return
		}
		c.handle(ctx, msg)
	}
}

func (c *conn) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case msgCapabilities:
		c.mu.Lock()
		if msg.Speech != nil {
			c.speech = *msg.Speech
		}
		if msg.Recognition != nil {
			c.recognition = *msg.Recognition
		}
		c.mu.Unlock()

	case msgStart:
		c.start(ctx, msg.ScriptID, msg.Role)

	case msgRecord:
		eng := c.current()
		if eng == nil {
			c.sendError(ctx, "no active session")
			return
		}
		c.records.Add(1)
		go c.record(ctx, eng)

	case msgStop, msgPause, msgExit:
		eng := c.current()
		if eng == nil {
			return
		}
		switch msg.Type {
		case msgStop:
			eng.StopRecording()
		case msgPause:
			eng.Pause()
		case msgExit:
			eng.Exit()
		}

	case msgResume:
		eng := c.current()
		if eng == nil {
			c.sendError(ctx, roleplay.ErrNoSession.Error())
			return
		}
		if err := eng.Resume(); err != nil {
			c.sendError(ctx, err.Error())
		}

	case msgSpoken, msgTranscript, msgListenError:
		if !c.bridge.resolve(msg) {
			c.log.Debug("web: dropping reply to unknown request", "type", msg.Type, "id", msg.ID)
		}

	default:
		c.sendError(ctx, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// start replaces the connection's engine with a new one on scriptID.
func (c *conn) start(ctx context.Context, scriptID, role string) {
	sc, err := c.g.scripts.Get(scriptID)
	if err != nil {
		c.sendError(ctx, err.Error())
		return
	}

	c.mu.Lock()
	old := c.engine
	c.engine = nil
	var (
		speaker  tts.Provider
		listener stt.Provider
	)
	if c.speech {
		speaker = c.bridge
	}
	if c.recognition {
		listener = c.bridge
	}
	c.mu.Unlock()

	if old != nil {
		// c.engine no longer points at old, so its remaining events are
		// dropped and Close returns after at most one in-flight write.
		old.Close()
	}

	var eng *roleplay.Engine
	opts := append(slices.Clone(c.g.engineOpts()),
		roleplay.WithMetrics(c.g.metrics),
		roleplay.WithObserver(func(ev roleplay.Event) { c.onEvent(ctx, eng, ev) }),
	)
	eng, err = roleplay.New(sc, speaker, listener, opts...)
	if err != nil {
		c.sendError(ctx, err.Error())
		return
	}

	c.mu.Lock()
	c.engine = eng
	c.mu.Unlock()

	c.log.Info("web: role-play started", "script", sc.ID, "role", role, "session_id", eng.ID())
	eng.Start(role)
}

func (c *conn) current() *roleplay.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// record runs one recording. Attempts and recognition failures reach the
// browser as state events; only request errors are reported here.
func (c *conn) record(ctx context.Context, eng *roleplay.Engine) {
	defer c.records.Done()

	_, err := eng.RecordCurrentTurn(ctx)
	var recErr *roleplay.RecognitionError
	switch {
	case err == nil, errors.As(err, &recErr), errors.Is(err, roleplay.ErrRecordingStopped):
	default:
		c.sendError(ctx, err.Error())
	}
}

func (c *conn) onEvent(ctx context.Context, eng *roleplay.Engine, ev roleplay.Event) {
	// A replaced or closing engine drains its queue without writing, so
	// closing it on the read loop never waits on a slow browser.
	if c.current() != eng {
		return
	}
	turn := ev.Turn
	snap := ev.Snapshot
	_ = c.send(ctx, serverMessage{
		Type:     msgState,
		Event:    ev.Kind,
		Turn:     &turn,
		Reason:   ev.Reason,
		Snapshot: &snap,
	})

	if ev.Kind != roleplay.EventCompleted {
		return
	}
	if sum, ok := eng.Summary(); ok {
		_ = c.send(ctx, serverMessage{Type: msgCompleted, Summary: &sum})
	}
}

func (c *conn) sendError(ctx context.Context, text string) {
	_ = c.send(ctx, serverMessage{Type: msgError, Error: text})
}

// send writes msg as one JSON text frame.
func (c *conn) send(ctx context.Context, msg serverMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, c.ws, msg); err != nil {
		c.log.Debug("web: write failed", "type", msg.Type, "err", err)
		return err
	}
	return nil
}

// shutdown releases everything the connection owns.
func (c *conn) shutdown() {
	c.bridge.close()

	c.mu.Lock()
	eng := c.engine
	c.engine = nil
	c.mu.Unlock()
	if eng != nil {
		eng.Close()
	}

	c.records.Wait()
	c.ws.CloseNow()
}
