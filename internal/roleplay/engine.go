// Package roleplay runs a dialogue role-play: the learner picks a speaker of
// a [script.Script], the engine speaks every other speaker's lines through a
// [tts.Provider], and records, scores, and highlights the learner's own lines
// through an [stt.Provider].
//
// # Flow
//
// [Engine.Start] places the cursor on the first turn of the chosen role. The
// learner records it with [Engine.RecordCurrentTurn]; once an attempt is
// stored the cursor moves on and every consecutive turn of the other
// speakers is spoken, one at a time and strictly in script order. The engine
// then waits on the learner's next turn, or, at the end of the script,
// signals completion once.
//
// # Concurrency
//
// At most one capability call is in flight per engine. All transitions are
// serialised by a single mutex; speaking runs on a background goroutine tied
// to the session, so [Engine.Exit] and [Engine.Pause] can cancel it. Every
// session (and every resume) gets a new epoch, and work belonging to an old
// epoch is discarded when it finishes. A cancelled call still owns the
// capability until it returns: the next Speak or Listen, even one for a new
// session, waits for it.
//
// All exported methods are safe for concurrent use.
package roleplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/rolecall/internal/observe"
	"github.com/MrWong99/rolecall/pkg/provider/stt"
	"github.com/MrWong99/rolecall/pkg/provider/tts"
	"github.com/MrWong99/rolecall/pkg/scoring"
	"github.com/MrWong99/rolecall/pkg/script"
)

const (
	defaultLocale          = "en-US"
	defaultRate            = 0.9
	defaultInterTurnPause  = 400 * time.Millisecond
	defaultCompletionDelay = 800 * time.Millisecond
)

// Option configures an [Engine].
type Option func(*Engine)

// WithLocale sets the locale used when the script does not name one.
func WithLocale(locale string) Option {
	return func(e *Engine) {
		if locale != "" {
			e.locale = locale
		}
	}
}

// WithRate sets the speaking-rate multiplier. Default: 0.9.
func WithRate(rate float64) Option {
	return func(e *Engine) {
		if rate > 0 {
			e.rate = rate
		}
	}
}

// WithInterTurnPause sets the gap between two consecutive spoken turns.
// Zero disables it.
func WithInterTurnPause(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.interTurnPause = d
		}
	}
}

// WithCompletionDelay sets how long the engine waits after the last turn
// before signalling completion. Zero disables it.
func WithCompletionDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.completionDelay = d
		}
	}
}

// WithListenTimeout bounds a single capture session. A capture session that
// times out fails with reason "timeout". Zero means no limit.
func WithListenTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.listenTimeout = d
		}
	}
}

// WithObserver registers fn to receive every [Event] in order on a
// dedicated goroutine. fn may call any Engine method except Close.
func WithObserver(fn func(Event)) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSessionID overrides the generated engine identifier used in logs,
// spans, and snapshots.
func WithSessionID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.id = id
		}
	}
}

// Engine drives one learner through role-play sessions on one script.
type Engine struct {
	id       string
	script   *script.Script
	speaker  tts.Provider
	listener stt.Provider

	locale          string
	rate            float64
	interTurnPause  time.Duration
	completionDelay time.Duration
	listenTimeout   time.Duration

	observer func(Event)
	events   *eventQueue
	metrics  *observe.Metrics
	log      *slog.Logger

	mu    sync.Mutex
	epoch uint64
	// inflight is closed when the outstanding Speak or Listen returns. It is
	// nil while the capabilities are free.
	inflight               chan struct{}
	sess                   *session
	recognitionUnavailable bool
	closed                 bool
}

// session is the mutable state of one role-play run.
type session struct {
	role     string
	cursor   int
	state    PlaybackState
	attempts map[int]Attempt
	complete bool
	paused   bool
	lastErr  string

	// runCtx is cancelled by Exit, Pause, or a new Start.
	runCtx    context.Context
	runCancel context.CancelFunc

	// listenCancel and stopRequested are set while a capture session is open.
	listenCancel  context.CancelFunc
	stopRequested bool

	done chan struct{}
}

// New creates an engine for sc. speaker may be nil, in which case other
// speakers' turns are skipped silently. listener may be nil, in which case
// recording fails with [ErrRecognitionUnavailable].
func New(sc *script.Script, speaker tts.Provider, listener stt.Provider, opts ...Option) (*Engine, error) {
	if sc == nil {
		return nil, errors.New("roleplay: script must not be nil")
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("roleplay: script %q: %w", sc.ID, err)
	}

	e := &Engine{
		id:              xid.New().String(),
		script:          sc,
		speaker:         speaker,
		listener:        listener,
		locale:          defaultLocale,
		rate:            defaultRate,
		interTurnPause:  defaultInterTurnPause,
		completionDelay: defaultCompletionDelay,
	}
	for _, o := range opts {
		o(e)
	}
	if sc.Locale != "" {
		e.locale = sc.Locale
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.observer != nil {
		e.events = newEventQueue(e.observer)
	}
	e.recognitionUnavailable = listener == nil
	e.log = slog.Default().With("session_id", e.id, "script", sc.ID)
	return e, nil
}

// ID returns the engine identifier.
func (e *Engine) ID() string { return e.id }

// Script returns the script this engine plays.
func (e *Engine) Script() *script.Script { return e.script }

// Start begins a new session as role, discarding any previous session. The
// cursor is placed on role's first turn; turns before it are never played.
// If role has no turns the session is complete immediately.
func (e *Engine) Start(role string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.endSessionLocked()
	e.epoch++

	s := &session{
		role:     role,
		attempts: make(map[int]Attempt),
		done:     make(chan struct{}),
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	e.sess = s
	e.metrics.ActiveSessions.Add(s.runCtx, 1)

	idx := e.script.FirstTurnOf(role)
	if idx < 0 {
		e.log.Info("role has no turns; session complete", "role", role)
		s.cursor = e.script.Len()
		e.completeLocked()
		return
	}

	s.cursor = idx
	s.state = StateAwaitingUserRecording
	e.log.Debug("role-play started", "role", role, "cursor", idx)
	e.emitLocked(EventStateChanged, idx, "")
}

// RecordCurrentTurn opens one capture session for the learner's pending turn
// and blocks until it ends. On success the attempt is stored, the engine
// advances, and the attempt is returned.
//
// Errors:
//   - [ErrInvalidTurn] (wrapped) if no turn is awaiting a recording.
//   - [ErrRecognitionUnavailable] if the environment cannot recognise speech.
//   - [ErrRecordingStopped] (wrapped) after [Engine.StopRecording], cancellation
//     of ctx, or the session ending mid-recording.
//   - *[RecognitionError] for any other recognition failure; retry is allowed.
func (e *Engine) RecordCurrentTurn(ctx context.Context) (Attempt, error) {
	e.mu.Lock()
	for {
		if err := e.checkRecordableLocked(); err != nil {
			e.mu.Unlock()
			return Attempt{}, err
		}
		if e.recognitionUnavailable {
			e.sess.lastErr = ErrRecognitionUnavailable.Error()
			e.mu.Unlock()
			return Attempt{}, ErrRecognitionUnavailable
		}
		if e.inflight == nil {
			break
		}
		// A cancelled call from a paused or replaced session is still
		// winding down. Wait, then re-check: the session may have moved.
		if err := e.waitCallLocked(ctx); err != nil {
			e.mu.Unlock()
			return Attempt{}, fmt.Errorf("%w: %w", ErrRecordingStopped, err)
		}
	}

	s := e.sess
	epoch := e.epoch
	idx := s.cursor
	turn := e.script.Turns[idx]

	listenCtx, cancel := context.WithCancel(ctx)
	stopWithSession := context.AfterFunc(s.runCtx, cancel)
	var cancelTimeout context.CancelFunc = func() {}
	if e.listenTimeout > 0 {
		listenCtx, cancelTimeout = context.WithTimeout(listenCtx, e.listenTimeout)
	}
	s.listenCancel = cancel
	s.stopRequested = false
	s.state = StateRecording
	call := e.beginCallLocked()
	e.emitLocked(EventStateChanged, idx, "")
	e.mu.Unlock()

	start := time.Now()
	tr, err := e.listen(listenCtx, idx, stt.Request{Locale: e.locale, Hint: turn.Text})
	timedOut := errors.Is(listenCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	e.metrics.ListenDuration.Record(ctx, time.Since(start).Seconds())
	stopWithSession()
	cancelTimeout()
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.endCallLocked(call)

	if e.epoch != epoch || e.sess != s {
		return Attempt{}, fmt.Errorf("%w: session ended", ErrRecordingStopped)
	}
	s.listenCancel = nil
	stopped := s.stopRequested
	s.stopRequested = false

	if stopped {
		s.state = StateAwaitingUserRecording
		e.emitLocked(EventStateChanged, idx, "")
		return Attempt{}, ErrRecordingStopped
	}
	if err == nil && !utf8.ValidString(tr.Text) {
		err = errMalformed
	}

	switch {
	case err == nil:
		// Store the attempt below.
	case ctx.Err() != nil:
		s.state = StateAwaitingUserRecording
		e.emitLocked(EventStateChanged, idx, "")
		return Attempt{}, fmt.Errorf("%w: %w", ErrRecordingStopped, ctx.Err())
	case errors.Is(err, stt.ErrUnavailable):
		e.recognitionUnavailable = true
		s.state = StateAwaitingUserRecording
		s.lastErr = ErrRecognitionUnavailable.Error()
		e.log.Warn("speech recognition unavailable; recording disabled")
		e.emitLocked(EventRecognitionFailed, idx, s.lastErr)
		return Attempt{}, ErrRecognitionUnavailable
	default:
		reason := err.Error()
		if timedOut {
			reason = "timeout"
		}
		if errors.Is(err, errMalformed) {
			reason = reasonMalformed
		}
		s.state = StateAwaitingUserRecording
		s.lastErr = reason
		e.metrics.RecordRecognitionError(ctx, reason)
		e.log.Warn("recognition failed", "role", s.role, "turn", idx, "reason", reason)
		e.emitLocked(EventRecognitionFailed, idx, reason)
		return Attempt{}, &RecognitionError{Reason: reason}
	}

	words := scoring.Highlight(turn.Text, tr.Text)
	att := Attempt{
		Transcript: tr.Text,
		Score:      scoring.Similarity(turn.Text, tr.Text),
		Words:      words,
		RecordedAt: time.Now(),
	}
	s.attempts[idx] = att
	s.lastErr = ""
	e.metrics.RecordAttempt(ctx, e.script.ID, att.Score)
	e.log.Debug("attempt recorded", "role", s.role, "turn", idx, "score", att.Score)
	e.emitLocked(EventAttemptRecorded, idx, "")

	s.cursor = idx + 1
	e.advanceLocked()
	return att, nil
}

// StopRecording ends an open capture session without storing an attempt.
// The pending RecordCurrentTurn returns [ErrRecordingStopped]. Calling it
// when nothing is being recorded does nothing.
func (e *Engine) StopRecording() {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sess
	if s == nil || s.state != StateRecording || s.listenCancel == nil {
		return
	}
	s.stopRequested = true
	s.listenCancel()
}

// Pause cancels any speech or recording in flight and parks the session,
// keeping the cursor and all attempts. It does nothing without an active,
// unfinished session.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sess
	if s == nil || s.complete || s.paused {
		return
	}
	e.epoch++
	s.runCancel()
	s.paused = true
	s.state = StateIdle
	e.log.Debug("role-play paused", "role", s.role, "cursor", s.cursor)
	e.emitLocked(EventStateChanged, s.cursor, "")
}

// Resume continues a paused session from its cursor: it waits on the
// learner's turn, or replays the pending turns of the other speakers.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sess
	if s == nil || !s.paused {
		return ErrNoSession
	}
	e.epoch++
	s.paused = false
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	e.log.Debug("role-play resumed", "role", s.role, "cursor", s.cursor)
	e.advanceLocked()
	return nil
}

// Exit cancels any speech or recording in flight and discards the session.
// No completion event is emitted.
func (e *Engine) Exit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return
	}
	e.endSessionLocked()
	e.epoch++
	e.emitLocked(EventStateChanged, -1, "")
}

// Close exits the session and stops event delivery. The engine cannot be
// used afterwards. Close must not be called from the observer.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.sess != nil {
		e.endSessionLocked()
		e.epoch++
		e.emitLocked(EventStateChanged, -1, "")
	}
	e.closed = true
	e.mu.Unlock()

	e.events.close()
}

// Snapshot returns a copy of the observable state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Done returns a channel closed when the current session completes
// naturally. Without a session it returns nil, which blocks forever.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	return e.sess.done
}

// Summary aggregates the current session. ok is false without a session.
func (e *Engine) Summary() (sum Summary, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sess
	if s == nil {
		return Summary{}, false
	}

	sum = Summary{Role: s.role, Attempted: len(s.attempts), Complete: s.complete}
	for _, t := range e.script.Turns {
		if t.Speaker == s.role {
			sum.UserTurns++
		}
	}
	if len(s.attempts) > 0 {
		var score, acc float64
		for _, a := range s.attempts {
			score += a.Score
			acc += scoring.Accuracy(a.Words)
		}
		n := float64(len(s.attempts))
		sum.AverageScore = score / n
		sum.AverageAccuracy = acc / n
	}
	return sum, true
}

// ─── internals ───────────────────────────────────────────────────────────────

var errMalformed = errors.New(reasonMalformed)

// checkRecordableLocked validates the preconditions of RecordCurrentTurn.
func (e *Engine) checkRecordableLocked() error {
	s := e.sess
	switch {
	case e.closed:
		return invalidTurn("engine closed")
	case s == nil:
		return invalidTurn("no active session")
	case s.complete:
		return invalidTurn("session complete")
	case s.paused:
		return invalidTurn("session paused")
	case s.state == StateRecording:
		return invalidTurn("recording already in progress")
	case s.state != StateAwaitingUserRecording:
		return invalidTurn("cannot record while %s", s.state)
	case s.cursor >= e.script.Len():
		return invalidTurn("no pending turn")
	}
	if sp := e.script.Turns[s.cursor].Speaker; sp != s.role {
		return invalidTurn("turn %d belongs to %q, not %q", s.cursor, sp, s.role)
	}
	if _, done := s.attempts[s.cursor]; done {
		return invalidTurn("turn %d already attempted", s.cursor)
	}
	return nil
}

// advanceLocked decides what follows the turn at the cursor: speak the batch
// of other speakers' turns, wait for the learner, or finish.
func (e *Engine) advanceLocked() {
	s := e.sess
	n := e.script.Len()

	end := s.cursor
	for end < n && e.script.Turns[end].Speaker != s.role {
		end++
	}

	switch {
	case end > s.cursor:
		s.state = StateSpeakingOtherTurn
		e.emitLocked(EventStateChanged, s.cursor, "")
		go e.speakBatch(s.runCtx, e.epoch, s.cursor, end)
	case s.cursor >= n:
		s.state = StateIdle
		e.emitLocked(EventStateChanged, s.cursor, "")
		go e.finish(s.runCtx, e.epoch)
	default:
		s.state = StateAwaitingUserRecording
		e.emitLocked(EventStateChanged, s.cursor, "")
	}
}

// speakBatch speaks turns [from, to) in order, then hands control back to
// the learner or finishes the session.
func (e *Engine) speakBatch(ctx context.Context, epoch uint64, from, to int) {
	for i := from; i < to; i++ {
		if i > from {
			if sleep(ctx, e.interTurnPause) != nil {
				return
			}
		}

		e.mu.Lock()
		if e.waitCallLocked(ctx) != nil || e.epoch != epoch {
			e.mu.Unlock()
			return
		}
		s := e.sess
		if s.cursor != i {
			s.cursor = i
			e.emitLocked(EventStateChanged, i, "")
		}
		call := e.beginCallLocked()
		e.mu.Unlock()

		err := e.speak(ctx, i)

		e.mu.Lock()
		e.endCallLocked(call)
		if err != nil && ctx.Err() == nil {
			// A turn that cannot be played is skipped rather than wedging
			// the session.
			e.log.Warn("speaking turn failed; skipping", "turn", i, "err", err)
		}
		if ctx.Err() != nil || e.epoch != epoch {
			e.mu.Unlock()
			return
		}
		e.emitLocked(EventTurnSpoken, i, "")
		e.mu.Unlock()
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	s := e.sess
	s.cursor = to
	if to < e.script.Len() {
		s.state = StateAwaitingUserRecording
		e.emitLocked(EventStateChanged, to, "")
		e.mu.Unlock()
		return
	}
	s.state = StateIdle
	e.emitLocked(EventStateChanged, to, "")
	e.mu.Unlock()

	e.finish(ctx, epoch)
}

// waitCallLocked blocks until no capability call is in flight. e.mu is
// released while waiting and held again on return.
func (e *Engine) waitCallLocked(ctx context.Context) error {
	for e.inflight != nil {
		ch := e.inflight
		e.mu.Unlock()
		select {
		case <-ch:
			e.mu.Lock()
		case <-ctx.Done():
			e.mu.Lock()
			return ctx.Err()
		}
	}
	return nil
}

// beginCallLocked claims the capabilities. The caller must have seen
// inflight == nil under the same lock.
func (e *Engine) beginCallLocked() chan struct{} {
	ch := make(chan struct{})
	e.inflight = ch
	return ch
}

// endCallLocked releases the capabilities and wakes every waiter.
func (e *Engine) endCallLocked(ch chan struct{}) {
	if e.inflight == ch {
		e.inflight = nil
	}
	close(ch)
}

// finish waits for the completion delay and marks the session complete.
func (e *Engine) finish(ctx context.Context, epoch uint64) {
	if sleep(ctx, e.completionDelay) != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		return
	}
	e.completeLocked()
}

// completeLocked marks the session complete exactly once.
func (e *Engine) completeLocked() {
	s := e.sess
	if s.complete {
		return
	}
	s.complete = true
	s.state = StateIdle
	close(s.done)
	e.metrics.ActiveSessions.Add(s.runCtx, -1)
	e.metrics.RecordSessionCompleted(s.runCtx, e.script.ID)
	e.log.Info("role-play complete", "role", s.role, "attempts", len(s.attempts))
	e.emitLocked(EventCompleted, s.cursor, "")
}

// endSessionLocked cancels all work of the current session and drops it.
func (e *Engine) endSessionLocked() {
	s := e.sess
	if s == nil {
		return
	}
	s.runCancel()
	if s.listenCancel != nil {
		s.listenCancel()
	}
	if !s.complete {
		e.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	e.sess = nil
}

// speak plays turn i. Panics from the capability are turned into errors.
func (e *Engine) speak(ctx context.Context, i int) (err error) {
	if e.speaker == nil {
		return nil
	}
	turn := e.script.Turns[i]
	ctx, span := observe.StartTurnSpan(ctx, "roleplay.speak", e.id, i, turn.Speaker)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("roleplay: speak panicked: %v", r)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	start := time.Now()
	err = e.speaker.Speak(ctx, tts.Request{
		Text:    turn.Text,
		Speaker: turn.Speaker,
		Locale:  e.locale,
		Rate:    e.rate,
		Voice:   e.script.VoiceFor(turn.Speaker),
	})
	e.metrics.SpeakDuration.Record(ctx, time.Since(start).Seconds())
	return err
}

// listen runs one capture session. Panics from the capability are reported
// as a malformed result.
func (e *Engine) listen(ctx context.Context, i int, req stt.Request) (tr stt.Transcript, err error) {
	ctx, span := observe.StartTurnSpan(ctx, "roleplay.listen", e.id, i, e.script.Turns[i].Speaker)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("listen capability panicked", "turn", i, "panic", r)
			tr, err = stt.Transcript{}, errMalformed
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return e.listener.Listen(ctx, req)
}

// emitLocked queues an event carrying the current snapshot.
func (e *Engine) emitLocked(kind EventKind, turn int, reason string) {
	if e.events == nil {
		return
	}
	e.events.push(Event{Kind: kind, Turn: turn, Reason: reason, Snapshot: e.snapshotLocked()})
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:            e.id,
		ScriptID:             e.script.ID,
		State:                StateIdle,
		Attempts:             map[int]Attempt{},
		RecognitionAvailable: !e.recognitionUnavailable,
	}
	s := e.sess
	if s == nil {
		return snap
	}
	snap.Active = true
	snap.Role = s.role
	snap.Cursor = s.cursor
	snap.State = s.state
	snap.Paused = s.paused
	snap.Complete = s.complete
	snap.LastError = s.lastErr
	for k, v := range s.attempts {
		snap.Attempts[k] = v
	}
	return snap
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
