// Package coordinator drives the conversation loop: it owns the single
// goroutine that arbitrates between captured microphone audio, turn-boundary
// events from the activation controller, and streamed events from the remote
// session.
//
// The coordinator is a state machine with six states:
//
//	Idle ──speech start──▶ UserSpeaking ──speech end──▶ AwaitingResponse
//	AwaitingResponse ──first response audio──▶ AssistantSpeaking
//	AssistantSpeaking ──response complete──▶ Idle
//	AssistantSpeaking ──speech start (barge-in)──▶ UserSpeaking
//	any ──session failure──▶ Reconnecting ──▶ Idle or Terminated
//
// Two invariants hold at all times: captured frames are forwarded to the
// session only while in UserSpeaking, and the playback sink receives frames
// only while in AssistantSpeaking. Frames arriving in any other state are
// observed (for voice-activity detection) or dropped, never forwarded.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/activation"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/session"
)

// State identifies the coordinator's position in the conversation loop.
type State int

const (
	// StateIdle means no turn is in progress; the microphone is live but
	// frames are only observed, not forwarded.
	StateIdle State = iota
	// StateUserSpeaking means an open user turn: captured frames stream to
	// the session.
	StateUserSpeaking
	// StateAwaitingResponse means the user turn is committed and no response
	// audio has arrived yet.
	StateAwaitingResponse
	// StateAssistantSpeaking means response audio is flowing to the playback
	// sink.
	StateAssistantSpeaking
	// StateReconnecting means the session failed and a bounded reconnect is
	// in progress.
	StateReconnecting
	// StateTerminated is final; the coordinator never leaves it.
	StateTerminated
)

// String returns a human-readable state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserSpeaking:
		return "user_speaking"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateAssistantSpeaking:
		return "assistant_speaking"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Turn outcomes as recorded in the turn counter metric.
const (
	outcomeAnswered = "answered"
	outcomeBargedIn = "barged_in"
	outcomeDropped  = "dropped"
)

// defaultCommitTimeout bounds how long the coordinator waits for the server
// to acknowledge a committed turn before nudging it with a second response
// request.
const defaultCommitTimeout = time.Second

// TurnRecord summarizes one completed user turn.
type TurnRecord struct {
	// Start is when the turn was opened.
	Start time.Time
	// End is when the turn was committed or abandoned.
	End time.Time
	// Frames is the number of captured frames forwarded during the turn.
	Frames int
	// Outcome is "answered", "barged_in" or "dropped".
	Outcome string
}

// Coordinator arbitrates one conversation. Create it with [New], drive it
// with [Coordinator.Run], and stop it by cancelling the Run context or
// calling [Coordinator.Close].
type Coordinator struct {
	source     audio.Source
	sink       audio.Sink
	controller activation.Controller
	observer   activation.FrameObserver // nil unless the controller inspects audio
	client     session.Client

	sessionCfg    session.Config
	backoff       resilience.Backoff
	commitTimeout time.Duration
	greeting      bool
	metrics       *observe.Metrics
	log           *slog.Logger

	mu      sync.Mutex
	state   State
	turns   []TurnRecord
	lastErr error

	handle session.Handle

	closeOnce sync.Once
	closed    chan struct{}
}

// Option customizes a [Coordinator].
type Option func(*Coordinator)

// WithSessionConfig sets the session parameters used on every connect.
func WithSessionConfig(cfg session.Config) Option {
	return func(c *Coordinator) { c.sessionCfg = cfg }
}

// WithBackoff sets the reconnection schedule.
func WithBackoff(b resilience.Backoff) Option {
	return func(c *Coordinator) { c.backoff = b }
}

// WithCommitTimeout overrides how long the coordinator waits for the server
// to acknowledge a committed turn.
func WithCommitTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.commitTimeout = d }
}

// WithGreeting makes the assistant speak first: immediately after the initial
// connect the coordinator requests a response before any user turn.
func WithGreeting(enabled bool) Option {
	return func(c *Coordinator) { c.greeting = enabled }
}

// WithMetrics sets the metrics instruments. Defaults to the process-wide set.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// New assembles a coordinator from its four collaborators. If the controller
// also implements [activation.FrameObserver] (voice-activity detection),
// every captured frame is fed to it regardless of state.
func New(src audio.Source, sink audio.Sink, ctrl activation.Controller, client session.Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:        src,
		sink:          sink,
		controller:    ctrl,
		client:        client,
		sessionCfg:    session.Config{}.WithDefaults(),
		backoff:       resilience.DefaultBackoff(),
		commitTimeout: defaultCommitTimeout,
		metrics:       observe.DefaultMetrics(),
		log:           slog.Default(),
		closed:        make(chan struct{}),
	}
	if obs, ok := ctrl.(activation.FrameObserver); ok {
		c.observer = obs
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Turns returns a copy of all completed turn records.
func (c *Coordinator) Turns() []TurnRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TurnRecord, len(c.turns))
	copy(out, c.turns)
	return out
}

// Err returns the error that terminated the coordinator, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close terminates the coordinator and releases the audio devices and the
// session. Safe to call multiple times; calls after the first are no-ops.
func (c *Coordinator) Close() error {
	c.teardown()
	return nil
}

// Run connects the session, starts capture and activation, and processes
// events until the context is cancelled, the activation controller finishes
// (user quit), or an unrecoverable error occurs. Run returns nil on a clean
// shutdown and the terminating error otherwise.
//
// The session is connected before the capture device is opened, so a failed
// connect never touches the microphone.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.teardown()

	h, err := c.dial(ctx, false)
	if err != nil {
		return c.terminate(fmt.Errorf("connect: %w", err))
	}
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
	c.metrics.ActiveSessions.Add(ctx, 1)
	defer c.metrics.ActiveSessions.Add(ctx, -1)

	if err := c.source.Start(ctx); err != nil {
		return c.terminate(fmt.Errorf("start capture: %w", err))
	}
	if err := c.controller.Start(ctx); err != nil {
		return c.terminate(fmt.Errorf("start activation: %w", err))
	}
	c.setState(StateIdle)
	c.log.Info("conversation ready", "session_id", h.SessionID())

	return c.loop(ctx)
}

// loopState is the per-run mutable bookkeeping of the event loop. It lives
// on the loop goroutine's stack; only the loop touches it.
type loopState struct {
	turnStart   time.Time // when the open turn began
	turnFrames  int       // frames forwarded in the open turn
	committedAt time.Time // when the open turn was committed
	acked       bool      // server acknowledged the commit
	nudged      bool      // commit watchdog already fired once

	underrunsSeen uint64 // sink underrun total at the last reading

	commitTimer *time.Timer
	commitC     <-chan time.Time
}

func (c *Coordinator) loop(ctx context.Context) error {
	frames := c.source.Frames()
	sessEvents := c.handle.Events()
	ls := &loopState{}
	defer ls.stopWatchdog()

	if c.greeting {
		if err := c.handle.RequestResponse(); err != nil {
			c.log.Warn("greeting request failed", "error", err)
		} else {
			// The greeting waits under the same watchdog as a committed
			// turn, so a silent server gets one nudge instead of parking
			// the loop in AwaitingResponse.
			ls.committedAt = time.Now()
			ls.acked = false
			ls.nudged = false
			ls.startWatchdog(c.commitTimeout)
			c.setState(StateAwaitingResponse)
		}
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info("shutting down", "reason", ctx.Err())
			c.setState(StateTerminated)
			return nil

		case <-c.closed:
			return nil

		case ev, ok := <-c.controller.Events():
			if !ok {
				c.log.Info("activation controller finished, shutting down")
				c.setState(StateTerminated)
				return nil
			}
			c.handleActivation(ctx, ls, ev)

		case frame, ok := <-frames:
			if !ok {
				frames = nil
				err := c.source.Err()
				if err == nil {
					// Capture stopped without an error only during teardown.
					continue
				}
				return c.terminate(fmt.Errorf("capture ended: %w", err))
			}
			c.handleFrame(ctx, ls, frame)

		case ev, ok := <-sessEvents:
			if !ok {
				cause := c.handle.Err()
				if cause != nil && !session.Retryable(cause) {
					return c.terminate(fmt.Errorf("session ended: %w", cause))
				}
				if err := c.reconnect(ctx, ls, cause); err != nil {
					return c.terminate(err)
				}
				sessEvents = c.handle.Events()
				continue
			}
			if cause := c.handleSessionEvent(ctx, ls, ev); cause != nil {
				if !session.Retryable(cause) {
					// A rejected configuration or other protocol fault
					// would fail the same way on a fresh session.
					return c.terminate(fmt.Errorf("session error: %w", cause))
				}
				if err := c.reconnect(ctx, ls, cause); err != nil {
					return c.terminate(err)
				}
				sessEvents = c.handle.Events()
			}

		case <-ls.commitC:
			ls.commitC = nil
			if c.State() == StateAwaitingResponse && !ls.acked && !ls.nudged {
				ls.nudged = true
				c.log.Warn("no commit acknowledgement, requesting response again",
					"timeout", c.commitTimeout)
				if err := c.handle.RequestResponse(); err != nil {
					c.log.Warn("response request failed", "error", err)
				}
			}
		}
	}
}

// handleActivation applies a turn-boundary event to the current state.
func (c *Coordinator) handleActivation(ctx context.Context, ls *loopState, ev activation.Event) {
	switch ev.Type {
	case activation.SpeechStart:
		switch c.State() {
		case StateIdle:
			c.openTurn(ls, ev.At)

		case StateAssistantSpeaking, StateAwaitingResponse:
			// Barge-in: local playback stops before anything else so the
			// user never talks over stale audio. The cancel request to the
			// server is best-effort.
			c.recordUnderruns(ctx, ls)
			c.sink.Flush()
			if err := c.handle.Interrupt(); err != nil {
				c.log.Warn("interrupt failed", "error", err)
			}
			c.recordTurn(ctx, ls, outcomeBargedIn)
			c.log.Debug("barge-in")
			c.openTurn(ls, ev.At)

		default:
			c.log.Debug("ignoring speech start", "state", c.State())
		}

	case activation.SpeechEnd:
		if c.State() != StateUserSpeaking {
			c.log.Debug("ignoring speech end", "state", c.State())
			return
		}
		if ls.turnFrames == 0 {
			// Nothing was captured; there is no audio to commit.
			c.log.Debug("empty turn, nothing to commit")
			c.recordTurn(ctx, ls, outcomeDropped)
			c.setState(StateIdle)
			return
		}
		if err := c.handle.CommitTurn(); err != nil {
			c.log.Warn("commit failed", "error", err)
			c.recordTurn(ctx, ls, outcomeDropped)
			c.setState(StateIdle)
			return
		}
		ls.committedAt = time.Now()
		ls.acked = false
		ls.nudged = false
		ls.startWatchdog(c.commitTimeout)
		c.setState(StateAwaitingResponse)
		c.log.Debug("turn committed", "frames", ls.turnFrames)
	}
}

// handleFrame routes one captured frame: always observed, forwarded only
// while the user is speaking.
func (c *Coordinator) handleFrame(ctx context.Context, ls *loopState, frame audio.AudioFrame) {
	c.metrics.CapturedFrames.Add(ctx, 1)
	if c.observer != nil {
		c.observer.ObserveFrame(frame)
	}
	if c.State() != StateUserSpeaking {
		return
	}
	if err := c.handle.SendAudio(frame); err != nil {
		c.log.Warn("send audio failed", "error", err)
		return
	}
	ls.turnFrames++
	c.metrics.SentFrames.Add(ctx, 1)
}

// handleSessionEvent routes one event from the remote session. A returned
// error means the session must be considered broken.
func (c *Coordinator) handleSessionEvent(ctx context.Context, ls *loopState, ev session.Event) error {
	switch ev := ev.(type) {
	case session.AudioEvent:
		switch c.State() {
		case StateAwaitingResponse:
			ls.stopWatchdog()
			if !ls.committedAt.IsZero() {
				c.metrics.ResponseLatency.Record(ctx, time.Since(ls.committedAt).Seconds())
			}
			c.setState(StateAssistantSpeaking)
			fallthrough
		case StateAssistantSpeaking:
			if err := c.sink.Enqueue(ev.Frame); err != nil {
				c.log.Warn("playback enqueue failed", "error", err)
				return nil
			}
			c.metrics.PlayedFrames.Add(ctx, 1)
		default:
			// Stale audio from a cancelled response; drop it.
		}

	case session.TurnCommittedEvent:
		ls.acked = true
		ls.stopWatchdog()
		c.log.Debug("turn acknowledged", "item_id", ev.ItemID)

	case session.ResponseCompleteEvent:
		switch c.State() {
		case StateAssistantSpeaking, StateAwaitingResponse:
			ls.stopWatchdog()
			c.recordUnderruns(ctx, ls)
			c.recordTurn(ctx, ls, outcomeAnswered)
			c.setState(StateIdle)
			c.log.Debug("response complete", "status", ev.Status)
		}

	case session.TranscriptEvent:
		c.log.Info("transcript", "role", ev.Role, "text", ev.Text)

	case session.OverflowEvent:
		c.metrics.OverflowDrops.Add(ctx, int64(ev.Dropped))
		c.log.Warn("outbound audio overflow", "dropped", ev.Dropped)

	case session.ErrorEvent:
		c.log.Warn("session error", "error", ev.Err)
		return ev.Err
	}
	return nil
}

// openTurn transitions to UserSpeaking and starts turn bookkeeping.
func (c *Coordinator) openTurn(ls *loopState, at time.Time) {
	ls.turnStart = at
	ls.turnFrames = 0
	ls.committedAt = time.Time{}
	c.setState(StateUserSpeaking)
	c.log.Debug("turn opened")
}

// recordTurn closes the open turn with the given outcome. No-op when no turn
// is open.
func (c *Coordinator) recordTurn(ctx context.Context, ls *loopState, outcome string) {
	if ls.turnStart.IsZero() {
		return
	}
	rec := TurnRecord{
		Start:   ls.turnStart,
		End:     time.Now(),
		Frames:  ls.turnFrames,
		Outcome: outcome,
	}
	c.mu.Lock()
	c.turns = append(c.turns, rec)
	c.mu.Unlock()
	c.metrics.RecordTurn(ctx, outcome, rec.End.Sub(rec.Start).Seconds())
	ls.turnStart = time.Time{}
	ls.turnFrames = 0
}

// reconnect tears down the failed session and retries the connect on the
// configured schedule. The in-flight turn, if any, is dropped.
func (c *Coordinator) reconnect(ctx context.Context, ls *loopState, cause error) error {
	c.setState(StateReconnecting)
	c.recordUnderruns(ctx, ls)
	c.sink.Flush()
	ls.stopWatchdog()
	c.recordTurn(ctx, ls, outcomeDropped)
	if old := c.handle; old != nil {
		_ = old.Close()
		// Events buffered before the close would otherwise linger,
		// pinning their audio frames.
		go audio.Drain(old.Events())
	}
	c.log.Warn("session lost, reconnecting", "cause", cause)

	h, err := c.dial(ctx, true)
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
	c.setState(StateIdle)
	c.log.Info("session reestablished", "session_id", h.SessionID())
	return nil
}

// recordUnderruns publishes playback underruns accrued since the previous
// reading as a metric delta.
func (c *Coordinator) recordUnderruns(ctx context.Context, ls *loopState) {
	total := c.sink.Underruns()
	if delta := total - ls.underrunsSeen; delta > 0 {
		c.metrics.Underruns.Add(ctx, int64(delta))
		ls.underrunsSeen = total
	}
}

// dial connects a session on the configured backoff schedule. Errors the
// session package classifies as non-retryable (bad credentials, protocol
// violations) abort the schedule immediately.
func (c *Coordinator) dial(ctx context.Context, reconnecting bool) (session.Handle, error) {
	var h session.Handle
	err := c.backoff.Retry(ctx, c.log, func(ctx context.Context) error {
		var err error
		h, err = c.client.Connect(ctx, c.sessionCfg)
		if reconnecting {
			c.metrics.RecordReconnectAttempt(ctx, err == nil)
		}
		return err
	}, func(err error) bool {
		return !session.Retryable(err)
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// terminate records err, moves to Terminated and returns err for Run.
func (c *Coordinator) terminate(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setState(StateTerminated)
	return err
}

// teardown releases everything exactly once: capture first so no new frames
// arrive, then playback, then the session, then the activation controller.
func (c *Coordinator) teardown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.source.Close(); err != nil {
			c.log.Warn("closing capture", "error", err)
		}
		if err := c.sink.Close(); err != nil {
			c.log.Warn("closing playback", "error", err)
		}
		c.mu.Lock()
		h := c.handle
		c.mu.Unlock()
		if h != nil {
			if err := h.Close(); err != nil {
				c.log.Warn("closing session", "error", err)
			}
		}
		if err := c.controller.Close(); err != nil {
			c.log.Warn("closing activation", "error", err)
		}
		c.setState(StateTerminated)
	})
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Debug("state change", "from", prev, "to", s)
	}
}

// ─── watchdog ─────────────────────────────────────────────────────────────────

// startWatchdog arms the commit acknowledgement timer, replacing any armed
// timer.
func (ls *loopState) startWatchdog(d time.Duration) {
	ls.stopWatchdog()
	ls.commitTimer = time.NewTimer(d)
	ls.commitC = ls.commitTimer.C
}

// stopWatchdog disarms the timer, draining a pending tick if necessary.
func (ls *loopState) stopWatchdog() {
	if ls.commitTimer == nil {
		return
	}
	if !ls.commitTimer.Stop() {
		select {
		case <-ls.commitTimer.C:
		default:
		}
	}
	ls.commitTimer = nil
	ls.commitC = nil
}
