// Package config provides the configuration schema and loader for the
// rolecall server, plus a file watcher for hot reload.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the rolecall server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown or empty levels map
// to [slog.LevelInfo].
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultLocale          = "en-US"
	DefaultRate            = 0.9
	DefaultInterTurnPause  = 400 * time.Millisecond
	DefaultCompletionDelay = 800 * time.Millisecond
	DefaultListenTimeout   = 15 * time.Second
	DefaultScriptsDir      = "./scripts"
	DefaultServiceName     = "rolecall"
	DefaultMetricsPath     = "/metrics"
)

// Config is the root configuration structure for rolecall.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Speech    SpeechConfig    `yaml:"speech"`
	Scripts   ScriptsConfig   `yaml:"scripts"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// SpeechConfig tunes how role-play sessions speak and listen. Changes apply
// to sessions started after a reload.
type SpeechConfig struct {
	// Locale is the BCP-47 tag used when a script does not name one.
	Locale string `yaml:"locale"`

	// Rate is the speaking-rate multiplier passed to the speech capability.
	// Valid range: [0.5, 2.0].
	Rate float64 `yaml:"rate"`

	// InterTurnPause is the gap between two consecutive spoken turns.
	InterTurnPause time.Duration `yaml:"inter_turn_pause"`

	// CompletionDelay is how long to wait after the last turn before a
	// session is reported complete.
	CompletionDelay time.Duration `yaml:"completion_delay"`

	// ListenTimeout bounds a single recording. Zero disables the limit.
	ListenTimeout time.Duration `yaml:"listen_timeout"`
}

// ScriptsConfig points at the dialogue script library.
type ScriptsConfig struct {
	// Dir is the directory holding *.yaml script files.
	Dir string `yaml:"dir"`

	// Watch reloads the library when files in Dir change.
	Watch bool `yaml:"watch"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// ServiceName is reported as the OpenTelemetry service.name resource.
	ServiceName string `yaml:"service_name"`

	// MetricsPath is the HTTP path of the Prometheus scrape endpoint.
	MetricsPath string `yaml:"metrics_path"`
}
