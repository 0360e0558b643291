// Package ptt implements push-to-talk activation as an
// [activation.Controller].
//
// Terminals deliver key presses but no key releases, so the talk key acts as
// a toggle: the first press starts the user's turn, the next press ends it.
// Key input comes through the [KeySource] interface; [NewTerminalKeys]
// provides the real stdin-in-raw-mode implementation, and tests inject their
// own.
package ptt

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/activation"
)

// Defaults for [Config].
const (
	DefaultTalkKey = ' '
	keyCtrlC       = rune(0x03)
)

// Config tunes the controller.
type Config struct {
	// TalkKey toggles the user's turn. Defaults to the space bar.
	TalkKey rune

	// QuitKeys end the conversation. Defaults to 'q' and Ctrl-C, which
	// raw-mode terminals deliver as a plain byte instead of a signal.
	QuitKeys []rune
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TalkKey:  DefaultTalkKey,
		QuitKeys: []rune{'q', keyCtrlC},
	}
}

// KeySource delivers individual key presses. Implementations close the Keys
// channel when input ends.
type KeySource interface {
	// Start begins delivering keys. The context scopes the call itself.
	Start(ctx context.Context) error

	// Keys returns the key-press stream.
	Keys() <-chan rune

	// Close stops key delivery. Safe to call multiple times.
	Close() error
}

// Controller is a push-to-talk [activation.Controller]. Its event channel
// closes when a quit key is pressed or the key source ends; a turn left open
// at that point is closed with a final speech-end event first.
//
// Create instances with [New].
type Controller struct {
	cfg  Config
	keys KeySource
	log  *slog.Logger

	events chan activation.Event

	// done is closed on shutdown so a delivery blocked on a consumer
	// that stopped reading can give up.
	done     chan struct{}
	doneOnce sync.Once

	mu       sync.Mutex
	started  bool
	closed   bool
	speaking bool
}

var _ activation.Controller = (*Controller)(nil)

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the logger used for key handling messages.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// New creates a push-to-talk controller reading from keys. Zero-value
// config fields fall back to [DefaultConfig].
func New(cfg Config, keys KeySource, opts ...Option) (*Controller, error) {
	if keys == nil {
		return nil, fmt.Errorf("ptt: key source must not be nil")
	}
	def := DefaultConfig()
	if cfg.TalkKey == 0 {
		cfg.TalkKey = def.TalkKey
	}
	if len(cfg.QuitKeys) == 0 {
		cfg.QuitKeys = def.QuitKeys
	}
	if slices.Contains(cfg.QuitKeys, cfg.TalkKey) {
		return nil, fmt.Errorf("ptt: talk key %q is also a quit key", cfg.TalkKey)
	}
	c := &Controller{
		cfg:    cfg,
		keys:   keys,
		log:    slog.Default(),
		events: make(chan activation.Event, 4),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start implements [activation.Controller]. It starts the key source and
// begins translating presses into turn boundaries.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("ptt: controller already closed")
	}
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("ptt: controller already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.keys.Start(ctx); err != nil {
		return fmt.Errorf("ptt: start key source: %w", err)
	}
	go c.run()
	return nil
}

// run consumes key presses until a quit key or end of input.
func (c *Controller) run() {
	defer c.finish()
	for key := range c.keys.Keys() {
		if slices.Contains(c.cfg.QuitKeys, key) {
			c.log.Info("quit key pressed")
			return
		}
		if key != c.cfg.TalkKey {
			continue
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.speaking = !c.speaking
		t := activation.SpeechEnd
		if c.speaking {
			t = activation.SpeechStart
		}
		c.mu.Unlock()
		c.deliver(t)
	}
}

// finish closes out an open turn and the event channel.
func (c *Controller) finish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wasSpeaking := c.speaking
	c.speaking = false
	c.mu.Unlock()

	if wasSpeaking {
		c.deliver(activation.SpeechEnd)
	}
	close(c.events)
	c.doneOnce.Do(func() { close(c.done) })
}

// deliver blocks until the consumer takes the event. Turn boundaries are
// rare and must not be dropped, unlike audio frames. Shutdown stops the
// wait: a consumer that called Close is no longer reading.
func (c *Controller) deliver(t activation.EventType) {
	select {
	case c.events <- activation.Event{Type: t, At: time.Now()}:
		c.log.Debug("push-to-talk boundary", "type", t.String())
	case <-c.done:
	}
}

// Events implements [activation.Controller].
func (c *Controller) Events() <-chan activation.Event {
	return c.events
}

// Close implements [activation.Controller]. It stops the key source, which
// ends the run loop and closes the event channel.
func (c *Controller) Close() error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	err := c.keys.Close()
	if !started {
		// No run loop will ever call finish.
		c.finish()
	}
	return err
}
