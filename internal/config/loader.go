package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. An empty document yields the defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default value.
// Zero durations count as unset.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Speech.Locale == "" {
		cfg.Speech.Locale = DefaultLocale
	}
	if cfg.Speech.Rate == 0 {
		cfg.Speech.Rate = DefaultRate
	}
	if cfg.Speech.InterTurnPause == 0 {
		cfg.Speech.InterTurnPause = DefaultInterTurnPause
	}
	if cfg.Speech.CompletionDelay == 0 {
		cfg.Speech.CompletionDelay = DefaultCompletionDelay
	}
	if cfg.Speech.ListenTimeout == 0 {
		cfg.Speech.ListenTimeout = DefaultListenTimeout
	}
	if cfg.Scripts.Dir == "" {
		cfg.Scripts.Dir = DefaultScriptsDir
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Speech
	if cfg.Speech.Rate != 0 && (cfg.Speech.Rate < 0.5 || cfg.Speech.Rate > 2.0) {
		errs = append(errs, fmt.Errorf("speech.rate %.2f is out of range [0.5, 2.0]", cfg.Speech.Rate))
	}
	if cfg.Speech.InterTurnPause < 0 {
		errs = append(errs, fmt.Errorf("speech.inter_turn_pause %s must not be negative", cfg.Speech.InterTurnPause))
	}
	if cfg.Speech.CompletionDelay < 0 {
		errs = append(errs, fmt.Errorf("speech.completion_delay %s must not be negative", cfg.Speech.CompletionDelay))
	}
	if cfg.Speech.ListenTimeout < 0 {
		errs = append(errs, fmt.Errorf("speech.listen_timeout %s must not be negative", cfg.Speech.ListenTimeout))
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	return errors.Join(errs...)
}
