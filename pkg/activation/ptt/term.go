package ptt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"
)

// TerminalKeys is a [KeySource] reading single key presses from stdin. It
// switches the terminal into raw mode so presses arrive immediately, without
// line buffering or echo, and restores the previous mode on Close.
//
// Raw mode also disables signal generation, so Ctrl-C arrives here as a key
// press rather than a SIGINT; the controller's quit keys cover it.
type TerminalKeys struct {
	log  *slog.Logger
	keys chan rune

	mu       sync.Mutex
	started  bool
	closed   bool
	oldState *term.State
}

var _ KeySource = (*TerminalKeys)(nil)

// NewTerminalKeys creates a stdin key source. The terminal is not touched
// until [TerminalKeys.Start].
func NewTerminalKeys(log *slog.Logger) *TerminalKeys {
	if log == nil {
		log = slog.Default()
	}
	return &TerminalKeys{
		log:  log,
		keys: make(chan rune, 8),
	}
}

// Start implements [KeySource]. It fails when stdin is not a terminal, for
// example when the process runs without a TTY.
func (t *TerminalKeys) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("terminal key source already closed")
	}
	if t.started {
		return fmt.Errorf("terminal key source already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enter raw terminal mode: %w", err)
	}
	t.oldState = oldState
	t.started = true

	go t.readLoop()
	return nil
}

// readLoop forwards stdin bytes as runes. It exits when stdin reports an
// error, which includes the file being closed.
func (t *TerminalKeys) readLoop() {
	defer close(t.keys)
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.log.Warn("stdin read failed", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		select {
		case t.keys <- rune(buf[0]):
		default:
			// Nobody is consuming fast enough; stale presses are useless.
		}
	}
}

// Keys implements [KeySource].
func (t *TerminalKeys) Keys() <-chan rune {
	return t.keys
}

// Close implements [KeySource]. It restores the terminal mode. The read
// loop may stay blocked on stdin until the next key press, which is
// harmless during process shutdown.
func (t *TerminalKeys) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.oldState != nil {
		if err := term.Restore(int(os.Stdin.Fd()), t.oldState); err != nil {
			return fmt.Errorf("restore terminal mode: %w", err)
		}
	}
	if !t.started {
		close(t.keys)
	}
	return nil
}
