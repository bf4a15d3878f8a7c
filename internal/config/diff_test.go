package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/rolecall/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if d.SpeechChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_Speech(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Speech.InterTurnPause = time.Second

	d := config.Diff(old, new)
	if !d.SpeechChanged {
		t.Error("SpeechChanged = false, want true")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":1234"
	new.Scripts.Dir = "/elsewhere"
	new.Telemetry.MetricsPath = "/m"

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "scripts", "telemetry"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.Empty() {
		t.Error("Empty() = true, want false")
	}
}
