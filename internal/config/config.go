// Package config provides the configuration schema and loader for the
// Parley voice agent.
//
// Configuration is loaded from a YAML file. The API key deliberately never
// appears in the schema: it comes from the environment (or a .env file
// loaded by main) so that config files stay safe to commit.
package config

import (
	"time"

	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/activation/vad"
	"github.com/MrWong99/parley/pkg/session"
)

// EnvAPIKey is the environment variable holding the OpenAI API key.
const EnvAPIKey = "OPENAI_API_KEY"

// LogLevel controls log verbosity.
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

// ActivationPolicy selects how turn boundaries are detected.
type ActivationPolicy string

const (
	// PolicyPushToTalk toggles the turn with a key press.
	PolicyPushToTalk ActivationPolicy = "push_to_talk"

	// PolicyVAD infers turn boundaries from signal energy.
	PolicyVAD ActivationPolicy = "vad"
)

// IsValid reports whether p is a recognised activation policy.
func (p ActivationPolicy) IsValid() bool {
	return p == PolicyPushToTalk || p == PolicyVAD
}

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	API        APIConfig        `yaml:"api"`
	Activation ActivationConfig `yaml:"activation"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// LogLevel controls verbosity. Defaults to "info".
	LogLevel LogLevel `yaml:"log_level"`

	// Greeting makes the assistant speak first after connecting, before
	// any user turn.
	Greeting bool `yaml:"greeting"`
}

// APIConfig selects the remote realtime session parameters.
type APIConfig struct {
	// Model is the model identifier. Defaults to the session package's
	// documented default.
	Model string `yaml:"model"`

	// Voice is the voice identifier for synthesised speech.
	Voice string `yaml:"voice"`

	// Instructions is the system-level prompt.
	Instructions string `yaml:"instructions"`

	// BaseURL overrides the default API endpoint. Leave empty to use the
	// provider's built-in default.
	BaseURL string `yaml:"base_url"`
}

// SessionConfig converts the API block into a session configuration.
func (a APIConfig) SessionConfig() session.Config {
	return session.Config{
		Model:        a.Model,
		Voice:        a.Voice,
		Instructions: a.Instructions,
	}
}

// ActivationConfig selects and tunes the turn-boundary policy.
type ActivationConfig struct {
	// Policy selects push-to-talk or voice-activity detection.
	// Defaults to push_to_talk.
	Policy ActivationPolicy `yaml:"policy"`

	// TalkKey is the push-to-talk toggle key. Defaults to the space bar.
	TalkKey string `yaml:"talk_key"`

	// VAD tunes voice-activity detection when Policy is vad.
	VAD VADConfig `yaml:"vad"`
}

// VADConfig holds the energy-detection parameters.
type VADConfig struct {
	// Threshold is the RMS energy above which a frame counts as voiced.
	Threshold float64 `yaml:"threshold"`

	// HoldMs is how long energy must stay above the threshold before a
	// turn starts, in milliseconds.
	HoldMs int `yaml:"hold_ms"`

	// SilenceMs is how long energy must stay below the threshold before
	// an active turn ends, in milliseconds.
	SilenceMs int `yaml:"silence_ms"`
}

// DetectorConfig converts the VAD block into a detector configuration.
func (v VADConfig) DetectorConfig() vad.Config {
	return vad.Config{
		Threshold:       v.Threshold,
		HoldDuration:    time.Duration(v.HoldMs) * time.Millisecond,
		SilenceDuration: time.Duration(v.SilenceMs) * time.Millisecond,
	}
}

// ReconnectConfig tunes the bounded reconnection policy.
type ReconnectConfig struct {
	// InitialDelayMs is the wait before the second attempt, in
	// milliseconds.
	InitialDelayMs int `yaml:"initial_delay_ms"`

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64 `yaml:"multiplier"`

	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts"`
}

// Backoff converts the reconnect block into a retry policy.
func (r ReconnectConfig) Backoff() resilience.Backoff {
	return resilience.Backoff{
		InitialDelay: time.Duration(r.InitialDelayMs) * time.Millisecond,
		Multiplier:   r.Multiplier,
		MaxAttempts:  r.MaxAttempts,
	}
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	// ListenAddr is the TCP address the metrics server listens on
	// (e.g., ":9090"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Model:        session.DefaultModel,
			Voice:        session.DefaultVoice,
			Instructions: session.DefaultInstructions,
		},
		Activation: ActivationConfig{
			Policy:  PolicyPushToTalk,
			TalkKey: " ",
			VAD: VADConfig{
				Threshold: vad.DefaultThreshold,
				HoldMs:    int(vad.DefaultHoldDuration / time.Millisecond),
				SilenceMs: int(vad.DefaultSilenceDuration / time.Millisecond),
			},
		},
		Reconnect: ReconnectConfig{
			InitialDelayMs: int(resilience.DefaultInitialDelay / time.Millisecond),
			Multiplier:     resilience.DefaultMultiplier,
			MaxAttempts:    resilience.DefaultMaxAttempts,
		},
		LogLevel: LogInfo,
	}
}
