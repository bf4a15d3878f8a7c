// Command rolecall is the entry point for the rolecall dialogue role-play
// server and its terminal practice mode.
//
// Usage:
//
//	rolecall [-config config.yaml] serve
//	rolecall [-config config.yaml] list
//	rolecall [-config config.yaml] practice -script <id> -role <speaker>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/rolecall/internal/app"
	"github.com/MrWong99/rolecall/internal/config"
	"github.com/MrWong99/rolecall/internal/roleplay"
	sttconsole "github.com/MrWong99/rolecall/pkg/provider/stt/console"
	ttsconsole "github.com/MrWong99/rolecall/pkg/provider/tts/console"
	"github.com/MrWong99/rolecall/pkg/script"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("rolecall", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cmd, rest := "serve", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "rolecall: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "rolecall: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		return serve(ctx, cfg, *configPath, level)
	case "list":
		return list(cfg, os.Stdout)
	case "practice":
		return practice(ctx, cfg, rest)
	default:
		fmt.Fprintf(os.Stderr, "rolecall: unknown command %q (want serve, list, or practice)\n", cmd)
		return 2
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serve(ctx context.Context, cfg *config.Config, configPath string, level *slog.LevelVar) int {
	slog.Info("rolecall starting",
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"scripts_dir", cfg.Scripts.Dir,
	)

	application, err := app.New(ctx, cfg, app.WithConfigWatch(configPath), app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── list ──────────────────────────────────────────────────────────────────────

func list(cfg *config.Config, out io.Writer) int {
	lib := script.NewLibrary(cfg.Scripts.Dir)
	if err := lib.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "rolecall: %v\n", err)
		return 1
	}
	for _, sc := range lib.List() {
		fmt.Fprintf(out, "%-20s %-30s speakers: %s\n", sc.ID, sc.Title, strings.Join(sc.Speakers(), ", "))
	}
	return 0
}

// ── practice ──────────────────────────────────────────────────────────────────

func practice(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("practice", flag.ContinueOnError)
	scriptID := fs.String("script", "", "id of the script to practise")
	role := fs.String("role", "", "speaker to play (default: first speaker)")
	wpm := fs.Int("wpm", 150, "reading speed of the other speakers' lines; 0 prints them instantly")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *scriptID == "" {
		fmt.Fprintln(os.Stderr, "rolecall: practice needs -script")
		return 2
	}

	lib := script.NewLibrary(cfg.Scripts.Dir)
	if err := lib.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "rolecall: %v\n", err)
		return 1
	}
	sc, err := lib.Get(*scriptID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rolecall: %v\n", err)
		return 1
	}
	if *role == "" {
		*role = sc.Speakers()[0]
	}

	s := &session{
		out:    os.Stdout,
		events: make(chan roleplay.Event, 64),
		quit:   make(chan struct{}),
	}
	opts := append(app.EngineOptions(cfg.Speech),
		roleplay.WithListenTimeout(0), // typing takes as long as it takes
		roleplay.WithObserver(s.observe),
	)
	eng, err := roleplay.New(sc,
		ttsconsole.New(os.Stdout, ttsconsole.WithWordsPerMinute(*wpm)),
		sttconsole.New(os.Stdin, os.Stdout),
		opts...,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rolecall: %v\n", err)
		return 1
	}
	defer eng.Close()

	fmt.Fprintf(s.out, "%s: you are %s. Type each of your lines and press Enter.\n\n", sc.Title, *role)
	return s.run(ctx, eng, *role)
}

// session drives a terminal role-play.
type session struct {
	out    io.Writer
	events chan roleplay.Event
	quit   chan struct{}
}

func (s *session) observe(ev roleplay.Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *session) run(ctx context.Context, eng *roleplay.Engine, role string) int {
	defer close(s.quit)
	eng.Start(role)
	done := eng.Done()

	for {
		var ev roleplay.Event
		select {
		case <-ctx.Done():
			eng.Exit()
			fmt.Fprintln(s.out, "\nbye")
			return 130
		case <-done:
			s.printSummary(eng)
			return 0
		case ev = <-s.events:
		}

		if ev.Kind != roleplay.EventStateChanged || ev.Snapshot.State != roleplay.StateAwaitingUserRecording {
			continue
		}

		att, err := eng.RecordCurrentTurn(ctx)
		var recErr *roleplay.RecognitionError
		switch {
		case err == nil:
			fmt.Fprintf(s.out, "  %s  (%.0f%%)\n\n", overlay(att), att.Score)
		case errors.As(err, &recErr):
			fmt.Fprintf(s.out, "  didn't catch that (%s), try again\n", recErr.Reason)
		case errors.Is(err, roleplay.ErrRecognitionUnavailable):
			fmt.Fprintln(s.out, "\ninput closed")
			s.printSummary(eng)
			return 1
		case errors.Is(err, roleplay.ErrInvalidTurn), errors.Is(err, roleplay.ErrRecordingStopped):
			// Stale state event or interrupted recording; wait for the next one.
		default:
			slog.Error("recording failed", "err", err)
			return 1
		}
	}
}

func (s *session) printSummary(eng *roleplay.Engine) {
	sum, ok := eng.Summary()
	if !ok {
		return
	}
	fmt.Fprintf(s.out, "── %s: %d/%d lines, average score %.0f%%, words right %.0f%%\n",
		sum.Role, sum.Attempted, sum.UserTurns, sum.AverageScore, sum.AverageAccuracy)
}

// overlay renders the per-word result of an attempt.
func overlay(att roleplay.Attempt) string {
	parts := make([]string, len(att.Words))
	for i, w := range att.Words {
		mark := "✗"
		if w.Correct {
			mark = "✓"
		}
		parts[i] = mark + w.Word
	}
	return strings.Join(parts, " ")
}
