// Package app wires all rolecall subsystems into a running server.
//
// The App struct owns the full lifecycle: New loads the script library and
// builds the HTTP surface, Run serves it until the context is cancelled, and
// Shutdown flushes telemetry.
//
// For testing, inject pre-built subsystems via functional options
// (WithLibrary, WithTelemetry). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rolecall/internal/config"
	"github.com/MrWong99/rolecall/internal/health"
	"github.com/MrWong99/rolecall/internal/observe"
	"github.com/MrWong99/rolecall/internal/roleplay"
	"github.com/MrWong99/rolecall/internal/web"
	"github.com/MrWong99/rolecall/pkg/script"
)

// serverShutdownTimeout bounds the graceful HTTP shutdown inside Run.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes of the rolecall server.
type App struct {
	cfg *config.Config

	// speech is swapped on config reload; new sessions read it.
	speech atomic.Pointer[config.SpeechConfig]

	// Subsystems, initialised in New.
	library   *script.Library
	telemetry *observe.Telemetry
	gateway   *web.Gateway
	handler   http.Handler

	configPath string
	logLevel   *slog.LevelVar

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLibrary injects a script library instead of loading cfg.Scripts.Dir.
func WithLibrary(l *script.Library) Option {
	return func(a *App) { a.library = l }
}

// WithTelemetry injects telemetry instead of initialising the OTel SDK.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithConfigWatch makes Run watch the config file at path and apply
// hot-reloadable changes.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevel lets config reloads change the level of the logger built on v.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It loads the script
// library synchronously so that configuration mistakes surface at startup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	speech := cfg.Speech
	a.speech.Store(&speech)

	// ── 1. Script library ────────────────────────────────────────────────
	if a.library == nil {
		a.library = script.NewLibrary(cfg.Scripts.Dir, script.WithReloadHook(func(n int) {
			slog.Debug("script library loaded", "dir", cfg.Scripts.Dir, "scripts", n)
		}))
		if err := a.library.Load(); err != nil {
			return nil, fmt.Errorf("app: load scripts: %w", err)
		}
	}
	if a.library.Len() == 0 {
		slog.Warn("no scripts loaded; /readyz will report not ready", "dir", cfg.Scripts.Dir)
	}

	// ── 2. Telemetry ─────────────────────────────────────────────────────
	if a.telemetry == nil {
		tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: cfg.Telemetry.ServiceName})
		if err != nil {
			return nil, fmt.Errorf("app: init telemetry: %w", err)
		}
		a.telemetry = tel
		a.closers = append(a.closers, tel.Shutdown)
	}

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	a.gateway = web.New(a.library,
		web.WithEngineOptions(a.engineOptions),
		web.WithMetrics(a.telemetry.Metrics),
	)

	mux := http.NewServeMux()
	a.gateway.Register(mux)
	health.New(
		health.NonEmpty("scripts", a.library),
		health.Gauge("sessions", health.CounterFunc(a.gateway.Connections)),
	).Register(mux)
	if a.telemetry.Handler != nil {
		mux.Handle("GET "+cfg.Telemetry.MetricsPath, a.telemetry.Handler)
	}
	a.handler = observe.Middleware(a.telemetry.Metrics)(mux)

	return a, nil
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address Run is listening on, or nil before it listens.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// EngineOptions converts speech settings into role-play engine options.
func EngineOptions(sc config.SpeechConfig) []roleplay.Option {
	return []roleplay.Option{
		roleplay.WithLocale(sc.Locale),
		roleplay.WithRate(sc.Rate),
		roleplay.WithInterTurnPause(sc.InterTurnPause),
		roleplay.WithCompletionDelay(sc.CompletionDelay),
		roleplay.WithListenTimeout(sc.ListenTimeout),
	}
}

func (a *App) engineOptions() []roleplay.Option {
	return EngineOptions(*a.speech.Load())
}

// ApplyConfig applies the hot-reloadable parts of a changed config. It is
// the onChange callback of the config watcher.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SpeechChanged {
		speech := new.Speech
		a.speech.Store(&speech)
		slog.Info("speech settings changed; new sessions use them",
			"locale", speech.Locale,
			"rate", speech.Rate,
		)
	}
	for _, key := range d.RestartRequired {
		slog.Warn("config change requires a restart to take effect", "key", key)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on cfg.Server.ListenAddr and blocks until ctx is
// cancelled or a subsystem fails. It also watches the script directory
// and the config file when enabled. On cancellation Run returns
// context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.ApplyConfig)
		if err != nil {
			ln.Close()
			return fmt.Errorf("app: watch config: %w", err)
		}
		defer w.Stop()
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(egCtx), serverShutdownTimeout)
		defer cancel()
		a.gateway.Close()
		return srv.Shutdown(shutdownCtx)
	})
	if a.cfg.Scripts.Watch {
		eg.Go(func() error { return a.library.Watch(egCtx) })
	}

	slog.Info("rolecall listening", "addr", ln.Addr().String(), "scripts", a.library.Len())
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.gateway.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
