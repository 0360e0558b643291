// Package session defines the client abstraction for a realtime
// speech-to-speech API session.
//
// A [Client] dials sessions; a [Handle] is one open bidirectional session
// that accepts user audio and streams back the model's spoken response. The
// handle multiplexes everything the server produces onto a single [Event]
// channel so that a consumer can drive a state machine from one select loop.
//
// Sessions are long-lived and stateful. All implementations must be safe for
// concurrent use.
package session

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
)

// Defaults for [Config].
const (
	DefaultModel        = "gpt-4o-realtime-preview"
	DefaultVoice        = "alloy"
	DefaultInstructions = "You are a helpful assistant."
)

// Config is the initial configuration for a new session.
type Config struct {
	// Model is the model identifier. Defaults to [DefaultModel].
	Model string

	// Voice is the voice identifier for synthesised speech.
	// Defaults to [DefaultVoice].
	Voice string

	// Instructions is the system-level prompt. Defaults to
	// [DefaultInstructions].
	Instructions string
}

// WithDefaults returns cfg with empty fields replaced by the documented
// defaults.
func (c Config) WithDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Instructions == "" {
		c.Instructions = DefaultInstructions
	}
	return c
}

// Event is a server-originated occurrence on an open session. The concrete
// types are [AudioEvent], [TurnCommittedEvent], [ResponseCompleteEvent],
// [TranscriptEvent], [OverflowEvent], and [ErrorEvent].
type Event interface {
	isEvent()
}

// AudioEvent carries one frame of the model's spoken response. Frames are
// sequenced by the handle in arrival order.
type AudioEvent struct {
	Frame audio.AudioFrame
}

// TurnCommittedEvent confirms that the server accepted the committed user
// turn and will produce a response for it.
type TurnCommittedEvent struct {
	// ItemID is the server-assigned identifier of the committed turn.
	ItemID string
}

// ResponseCompleteEvent marks the end of a model response. No further
// AudioEvents for that response will follow.
type ResponseCompleteEvent struct {
	// Status is the server-reported terminal status, such as "completed"
	// or "cancelled".
	Status string
}

// TranscriptEvent carries the text form of either side of the conversation,
// when the server provides one.
type TranscriptEvent struct {
	// Role is "user" or "assistant".
	Role string
	// Text is the transcript text.
	Text string
}

// OverflowEvent reports that the handle's outbound queue filled and old
// audio was discarded to make room.
type OverflowEvent struct {
	// Dropped is the number of frames discarded since the last
	// OverflowEvent.
	Dropped uint64
}

// ErrorEvent carries a server-reported error that did not terminate the
// session. Fatal errors close the event channel instead and surface through
// [Handle.Err].
type ErrorEvent struct {
	Err error
}

func (AudioEvent) isEvent()            {}
func (TurnCommittedEvent) isEvent()    {}
func (ResponseCompleteEvent) isEvent() {}
func (TranscriptEvent) isEvent()       {}
func (OverflowEvent) isEvent()         {}
func (ErrorEvent) isEvent()            {}

// Handle represents an open session. Callers must call Close when the
// session is no longer needed.
//
// The handle is the hot path of the conversation loop — every method must
// return quickly. Audio delivery is channel-based so the caller's loop is
// never blocked by the network.
type Handle interface {
	// SendAudio queues one captured frame for transmission. It never
	// blocks: when the outbound queue is full the oldest queued frame is
	// discarded and an [OverflowEvent] is emitted. Returns an error if the
	// session is closed.
	SendAudio(frame audio.AudioFrame) error

	// CommitTurn marks the end of the user's turn and asks the model to
	// respond. All audio queued before the call is transmitted first.
	CommitTurn() error

	// RequestResponse asks the model to speak without committing any user
	// audio, for example to open the conversation with a greeting.
	RequestResponse() error

	// Interrupt asks the server to stop generating the current response
	// and discard whatever it has not yet sent. Audio already in flight
	// may still arrive afterwards.
	Interrupt() error

	// Events returns the server event stream. The channel closes when the
	// session ends; consult [Handle.Err] afterwards.
	Events() <-chan Event

	// Err reports why the event channel closed. It returns nil while the
	// session is live or after a clean Close.
	Err() error

	// SessionID returns the server-assigned session identifier, or the
	// empty string when the backend does not assign one.
	SessionID() string

	// Close terminates the session and closes the event channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Client is the abstraction over a realtime speech-to-speech backend.
type Client interface {
	// Connect establishes a new session and blocks until the backend has
	// accepted it, so the returned Handle is ready to accept audio
	// immediately. Connection failures are classified: credential
	// problems return an [*AuthError], unreachable or refused endpoints
	// return a [*NetworkError], and a rejected session configuration or
	// malformed server behavior returns a [*ProtocolError].
	Connect(ctx context.Context, cfg Config) (Handle, error)
}
