// Package vad implements energy-based voice-activity detection as an
// [activation.Controller].
//
// The detector classifies each 20 ms frame by its RMS energy against a
// threshold. Speech starts once enough consecutive voiced frames accumulate
// to ride out transients like keyboard clicks, and ends after a trailing
// run of silent frames long enough to distinguish a finished turn from a
// mid-sentence pause.
package vad

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/activation"
	"github.com/MrWong99/parley/pkg/audio"
)

// Defaults for [Config]. The threshold suits a typical close microphone at
// 16-bit amplitude; quiet rooms can go lower, noisy ones higher.
const (
	DefaultThreshold       = 500.0
	DefaultHoldDuration    = 100 * time.Millisecond
	DefaultSilenceDuration = 1 * time.Second
)

// Config tunes the detector.
type Config struct {
	// Threshold is the RMS energy above which a frame counts as voiced.
	Threshold float64

	// HoldDuration is how long energy must stay above Threshold before a
	// turn starts.
	HoldDuration time.Duration

	// SilenceDuration is how long energy must stay below Threshold before
	// an active turn ends.
	SilenceDuration time.Duration
}

// Validate reports configuration errors, joined per field.
func (c Config) Validate() error {
	var errs []error
	if c.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("threshold must be positive, got %v", c.Threshold))
	}
	if c.HoldDuration <= 0 {
		errs = append(errs, fmt.Errorf("hold duration must be positive, got %v", c.HoldDuration))
	}
	if c.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("silence duration must be positive, got %v", c.SilenceDuration))
	}
	if len(errs) > 0 {
		return fmt.Errorf("vad: invalid config: %w", joinErrors(errs))
	}
	return nil
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	joined := errs[0]
	for _, err := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, err)
	}
	return joined
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:       DefaultThreshold,
		HoldDuration:    DefaultHoldDuration,
		SilenceDuration: DefaultSilenceDuration,
	}
}

// Detector is an energy-based [activation.Controller] that is also an
// [activation.FrameObserver]. Feed it every captured frame; it emits
// alternating speech start and end events.
//
// Create instances with [New]. ObserveFrame and the lifecycle methods are
// safe to call from different goroutines.
type Detector struct {
	cfg Config
	log *slog.Logger

	holdFrames    int
	silenceFrames int

	events chan activation.Event

	mu        sync.Mutex
	closed    bool
	speaking  bool
	voicedRun int
	silentRun int
}

var (
	_ activation.Controller    = (*Detector)(nil)
	_ activation.FrameObserver = (*Detector)(nil)
)

// Option configures a [Detector].
type Option func(*Detector)

// WithLogger sets the logger used for detection events.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(d *Detector) {
		d.log = log
	}
}

// New creates a Detector with the given configuration.
func New(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		cfg:           cfg,
		log:           slog.Default(),
		holdFrames:    framesIn(cfg.HoldDuration),
		silenceFrames: framesIn(cfg.SilenceDuration),
		events:        make(chan activation.Event, 4),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// framesIn converts a duration to a whole frame count, at least 1.
func framesIn(d time.Duration) int {
	n := int(d / audio.FrameDuration)
	if n < 1 {
		n = 1
	}
	return n
}

// Start implements [activation.Controller]. The detector has no background
// work of its own; events are driven entirely by ObserveFrame.
func (d *Detector) Start(ctx context.Context) error {
	return ctx.Err()
}

// Events implements [activation.Controller].
func (d *Detector) Events() <-chan activation.Event {
	return d.events
}

// ObserveFrame implements [activation.FrameObserver]. It classifies the
// frame and advances the voiced/silent run counters, emitting a boundary
// event when a run crosses its configured length.
func (d *Detector) ObserveFrame(frame audio.AudioFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	voiced := audio.RMS(frame.Data) > d.cfg.Threshold
	if voiced {
		d.silentRun = 0
		d.voicedRun++
		if !d.speaking && d.voicedRun >= d.holdFrames {
			d.speaking = true
			d.emit(activation.SpeechStart)
		}
		return
	}

	d.voicedRun = 0
	if !d.speaking {
		return
	}
	d.silentRun++
	if d.silentRun >= d.silenceFrames {
		d.speaking = false
		d.silentRun = 0
		d.emit(activation.SpeechEnd)
	}
}

// emit delivers an event without blocking the capture path. Callers hold
// d.mu. If the consumer has stalled and the channel is full, the boundary is
// dropped and the speaking state reverted so the emitted sequence keeps
// alternating.
func (d *Detector) emit(t activation.EventType) {
	select {
	case d.events <- activation.Event{Type: t, At: time.Now()}:
		d.log.Debug("voice activity boundary", "type", t.String())
	default:
		d.speaking = t == activation.SpeechEnd
		d.log.Warn("activation event channel full, boundary dropped", "type", t.String())
	}
}

// Reset clears the speaking state and run counters, for reuse after a
// conversation-level reset. No event is emitted.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = false
	d.voicedRun = 0
	d.silentRun = 0
}

// Speaking reports whether the detector currently considers the user to be
// speaking.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Close implements [activation.Controller]. Subsequent ObserveFrame calls
// are ignored.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.events)
	return nil
}
