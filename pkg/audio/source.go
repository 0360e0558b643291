package audio

import (
	"context"
	"errors"
	"fmt"
)

// ErrDeviceUnavailable is returned by [Source.Start] or a Sink constructor
// when the underlying audio device cannot be opened (missing hardware,
// exclusive use by another process, unsupported format).
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// StreamInterruptedError reports that an audio device disappeared or failed
// mid-stream. It is always surfaced to the caller — device loss is never
// silently swallowed.
type StreamInterruptedError struct {
	// Device is a human-readable label for the failed device ("capture",
	// "playback").
	Device string

	// Err is the underlying driver error, if any.
	Err error
}

func (e *StreamInterruptedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: %s stream interrupted: %v", e.Device, e.Err)
	}
	return fmt.Sprintf("audio: %s stream interrupted", e.Device)
}

func (e *StreamInterruptedError) Unwrap() error { return e.Err }

// Source captures microphone audio as a lazy, effectively infinite stream of
// fixed-cadence frames.
//
// A Source owns the capture device exclusively: no other component touches
// the device handle. Start is a scoped acquisition — the device is released
// on Close regardless of how the stream ends, including cancellation of the
// context passed to Start.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start opens the capture device and begins producing frames. The ctx
	// governs the capture lifetime: when it is cancelled the frame channel is
	// closed and the device released. Returns [ErrDeviceUnavailable] if the
	// device cannot be opened.
	Start(ctx context.Context) error

	// Frames returns the channel on which captured frames arrive, one every
	// [FrameDuration], with strictly increasing Seq. The channel is closed
	// when capture stops for any reason. After it closes, call Err to learn
	// whether capture ended cleanly.
	Frames() <-chan AudioFrame

	// Err returns the error that terminated capture, or nil if capture was
	// stopped deliberately. A device failure mid-stream is reported as a
	// [*StreamInterruptedError].
	Err() error

	// Close stops capture and releases the device. Safe to call multiple
	// times; subsequent calls are no-ops and return nil.
	Close() error
}
