package config

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/session"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	yml := `
api:
  model: gpt-4o-mini-realtime
  voice: sage
  instructions: "Answer in one sentence."
activation:
  policy: vad
  vad:
    threshold: 750
    hold_ms: 200
    silence_ms: 1500
reconnect:
  initial_delay_ms: 250
  multiplier: 1.5
  max_attempts: 5
metrics:
  listen_addr: ":9090"
log_level: debug
greeting: true
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.API.Model != "gpt-4o-mini-realtime" || cfg.API.Voice != "sage" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Activation.Policy != PolicyVAD {
		t.Errorf("policy = %q, want vad", cfg.Activation.Policy)
	}
	if cfg.Activation.VAD.Threshold != 750 {
		t.Errorf("vad threshold = %v, want 750", cfg.Activation.VAD.Threshold)
	}
	if got := cfg.Reconnect.Backoff(); got.InitialDelay != 250*time.Millisecond || got.Multiplier != 1.5 || got.MaxAttempts != 5 {
		t.Errorf("backoff = %+v", got)
	}
	if cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("metrics addr = %q", cfg.Metrics.ListenAddr)
	}
	if cfg.LogLevel != LogDebug {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
	if !cfg.Greeting {
		t.Error("greeting = false, want true")
	}
}

func TestLoadFromReader_EmptyGetsDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.API.Model != session.DefaultModel {
		t.Errorf("model = %q, want default %q", cfg.API.Model, session.DefaultModel)
	}
	if cfg.Activation.Policy != PolicyPushToTalk {
		t.Errorf("policy = %q, want push_to_talk", cfg.Activation.Policy)
	}
	if cfg.Activation.TalkKey != " " {
		t.Errorf("talk key = %q, want space", cfg.Activation.TalkKey)
	}
	if cfg.Reconnect.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.Reconnect.MaxAttempts)
	}
	if cfg.LogLevel != LogInfo {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.Greeting {
		t.Error("greeting defaults to true, want false")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("apii:\n  model: x\n"))
	if err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	cfg.Activation.Policy = "clap_twice"
	cfg.Reconnect.MaxAttempts = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "activation.policy", "reconnect"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error %q does not mention %s", msg, want)
		}
	}
}

func TestValidate_TalkKeyMustBeSingleRune(t *testing.T) {
	cfg := Default()
	cfg.Activation.TalkKey = "space"
	if err := Validate(cfg); err == nil {
		t.Error("multi-character talk key accepted")
	}

	cfg.Activation.TalkKey = "ä"
	if err := Validate(cfg); err != nil {
		t.Errorf("single multi-byte rune rejected: %v", err)
	}
}

func TestValidate_VADParamsCheckedOnlyForVADPolicy(t *testing.T) {
	cfg := Default()
	cfg.Activation.Policy = PolicyPushToTalk
	cfg.Activation.VAD.Threshold = -1
	if err := Validate(cfg); err != nil {
		t.Errorf("vad params validated under push_to_talk: %v", err)
	}

	cfg.Activation.Policy = PolicyVAD
	if err := Validate(cfg); err == nil {
		t.Error("negative vad threshold accepted under vad policy")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	if err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}
