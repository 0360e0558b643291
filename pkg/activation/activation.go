// Package activation defines how the user signals the start and end of a
// spoken turn.
//
// A [Controller] emits a strictly alternating sequence of [SpeechStart] and
// [SpeechEnd] events; exactly one controller is active per running instance.
// Controllers never touch audio devices themselves — the push-to-talk
// controller in [github.com/MrWong99/parley/pkg/activation/ptt] listens to
// key presses, and the voice-activity controller in
// [github.com/MrWong99/parley/pkg/activation/vad] is fed captured frames
// through the [FrameObserver] interface by whoever owns the microphone.
package activation

import (
	"context"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// EventType distinguishes turn boundaries.
type EventType int

const (
	// SpeechStart marks the beginning of a user turn.
	SpeechStart EventType = iota
	// SpeechEnd marks the end of a user turn.
	SpeechEnd
)

// String returns a human-readable name for logging.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Event is a single turn-boundary signal.
type Event struct {
	// Type is the boundary kind.
	Type EventType
	// At is when the boundary was detected.
	At time.Time
}

// Controller produces turn-boundary events.
//
// Implementations guarantee that events alternate, starting with
// [SpeechStart], and that the channel returned by Events closes when the
// controller finishes — either because Close was called or because its input
// (keyboard, for push-to-talk) ended.
type Controller interface {
	// Start begins producing events. The context scopes the call itself,
	// not the controller's lifetime; use Close to stop it.
	Start(ctx context.Context) error

	// Events returns the turn-boundary event stream.
	Events() <-chan Event

	// Close stops event production and closes the event channel. Safe to
	// call multiple times.
	Close() error
}

// FrameObserver is implemented by controllers that inspect captured audio,
// such as voice-activity detection. The microphone owner calls ObserveFrame
// for every captured frame, regardless of conversation state.
type FrameObserver interface {
	ObserveFrame(frame audio.AudioFrame)
}
