package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

// LoadFromReader decodes a YAML config from r, fills unset fields from
// [Default], and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with the values from [Default].
// Booleans are left alone: false is a meaningful setting.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.API.Model == "" {
		cfg.API.Model = def.API.Model
	}
	if cfg.API.Voice == "" {
		cfg.API.Voice = def.API.Voice
	}
	if cfg.API.Instructions == "" {
		cfg.API.Instructions = def.API.Instructions
	}
	if cfg.Activation.Policy == "" {
		cfg.Activation.Policy = def.Activation.Policy
	}
	if cfg.Activation.TalkKey == "" {
		cfg.Activation.TalkKey = def.Activation.TalkKey
	}
	if cfg.Activation.VAD.Threshold == 0 {
		cfg.Activation.VAD.Threshold = def.Activation.VAD.Threshold
	}
	if cfg.Activation.VAD.HoldMs == 0 {
		cfg.Activation.VAD.HoldMs = def.Activation.VAD.HoldMs
	}
	if cfg.Activation.VAD.SilenceMs == 0 {
		cfg.Activation.VAD.SilenceMs = def.Activation.VAD.SilenceMs
	}
	if cfg.Reconnect.InitialDelayMs == 0 {
		cfg.Reconnect.InitialDelayMs = def.Reconnect.InitialDelayMs
	}
	if cfg.Reconnect.Multiplier == 0 {
		cfg.Reconnect.Multiplier = def.Reconnect.Multiplier
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = def.Reconnect.MaxAttempts
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if !cfg.Activation.Policy.IsValid() {
		errs = append(errs, fmt.Errorf("activation.policy %q is invalid; valid values: push_to_talk, vad", cfg.Activation.Policy))
	}
	if cfg.Activation.Policy == PolicyPushToTalk {
		if n := utf8.RuneCountInString(cfg.Activation.TalkKey); n != 1 {
			errs = append(errs, fmt.Errorf("activation.talk_key %q must be exactly one character", cfg.Activation.TalkKey))
		}
	}
	if cfg.Activation.Policy == PolicyVAD {
		if err := cfg.Activation.VAD.DetectorConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("activation.vad: %w", err))
		}
	}
	if err := cfg.Reconnect.Backoff().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("reconnect: %w", err))
	}

	return errors.Join(errs...)
}
