// Package mock provides in-memory mock implementations of the
// [session.Client] and [session.Handle] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	h := mock.NewHandle()
//	client := &mock.Client{ConnectResults: []mock.ConnectResult{{Handle: h}}}
//	h.EmitEvent(session.TurnCommittedEvent{ItemID: "item_1"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/session"
)

// ─── Handle ───────────────────────────────────────────────────────────────────

// Handle is a mock implementation of [session.Handle].
// Set the exported Result fields before use; inspect the Call* fields after.
type Handle struct {
	mu sync.Mutex

	// SendAudioError is returned by [Handle.SendAudio].
	SendAudioError error

	// CommitTurnError is returned by [Handle.CommitTurn].
	CommitTurnError error

	// InterruptError is returned by [Handle.Interrupt].
	InterruptError error

	// RequestResponseError is returned by [Handle.RequestResponse].
	RequestResponseError error

	// ErrResult is returned by [Handle.Err].
	ErrResult error

	// CloseError is returned by [Handle.Close].
	CloseError error

	// SessionIDResult is returned by [Handle.SessionID].
	SessionIDResult string

	// SentFrames records every frame passed to SendAudio, in order.
	SentFrames []audio.AudioFrame

	// CallCountCommitTurn records how many times CommitTurn was called.
	CallCountCommitTurn int

	// CallCountInterrupt records how many times Interrupt was called.
	CallCountInterrupt int

	// CallCountRequestResponse records how many times RequestResponse was
	// called.
	CallCountRequestResponse int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	events chan session.Event
	ended  bool
}

var _ session.Handle = (*Handle)(nil)

// NewHandle creates a mock handle with a buffered event channel.
func NewHandle() *Handle {
	return &Handle{
		events: make(chan session.Event, 64),
	}
}

// SendAudio implements [session.Handle]. Records the frame and returns
// SendAudioError.
func (h *Handle) SendAudio(frame audio.AudioFrame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SendAudioError != nil {
		return h.SendAudioError
	}
	h.SentFrames = append(h.SentFrames, frame)
	return nil
}

// CommitTurn implements [session.Handle]. Returns CommitTurnError.
func (h *Handle) CommitTurn() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountCommitTurn++
	return h.CommitTurnError
}

// Interrupt implements [session.Handle]. Returns InterruptError.
func (h *Handle) Interrupt() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountInterrupt++
	return h.InterruptError
}

// RequestResponse implements [session.Handle]. Returns RequestResponseError.
func (h *Handle) RequestResponse() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountRequestResponse++
	return h.RequestResponseError
}

// Events implements [session.Handle].
func (h *Handle) Events() <-chan session.Event {
	return h.events
}

// Err implements [session.Handle]. Returns ErrResult.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ErrResult
}

// SessionID implements [session.Handle]. Returns SessionIDResult.
func (h *Handle) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.SessionIDResult
}

// Close implements [session.Handle]. It closes the event channel on first
// call and returns CloseError.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountClose++
	if !h.ended {
		h.ended = true
		close(h.events)
	}
	return h.CloseError
}

// EmitEvent injects a server event as if it arrived over the wire.
func (h *Handle) EmitEvent(ev session.Event) {
	h.events <- ev
}

// Fail ends the session the way a transport failure would: err becomes
// visible through Err and the event channel closes.
func (h *Handle) Fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ErrResult = err
	if !h.ended {
		h.ended = true
		close(h.events)
	}
}

// Sent returns a copy of SentFrames for safe concurrent inspection.
func (h *Handle) Sent() []audio.AudioFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]audio.AudioFrame, len(h.SentFrames))
	copy(out, h.SentFrames)
	return out
}

// ─── Client ───────────────────────────────────────────────────────────────────

// ConnectResult is the outcome of a single [Client.Connect] call.
type ConnectResult struct {
	// Handle is returned when Err is nil.
	Handle session.Handle
	// Err is returned as the connect error.
	Err error
}

// ConnectCall records the arguments of a single [Client.Connect] invocation.
type ConnectCall struct {
	// Config is the config argument passed to Connect.
	Config session.Config
}

// Client is a mock implementation of [session.Client]. Each Connect call
// consumes the next entry in ConnectResults; when the slice is exhausted the
// last entry repeats.
type Client struct {
	mu sync.Mutex

	// ConnectResults is the scripted sequence of connect outcomes. Leaving
	// it empty makes every Connect fail.
	ConnectResults []ConnectResult

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

var _ session.Client = (*Client)(nil)

// Connect implements [session.Client]. Records the call and returns the next
// scripted result.
func (c *Client) Connect(_ context.Context, cfg session.Config) (session.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.ConnectCalls)
	c.ConnectCalls = append(c.ConnectCalls, ConnectCall{Config: cfg})

	if len(c.ConnectResults) == 0 {
		return nil, &session.NetworkError{Op: "dial", Err: errNoScript}
	}
	if idx >= len(c.ConnectResults) {
		idx = len(c.ConnectResults) - 1
	}
	res := c.ConnectResults[idx]
	return res.Handle, res.Err
}

// CallCount returns how many times Connect was called.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ConnectCalls)
}

var errNoScript = &session.ProtocolError{Msg: "mock client has no scripted connect results"}
