package audio

// Sink plays frames through the output device in strict sequence order.
//
// A Sink owns the playback device exclusively. Frames delivered out of order
// are reordered inside a bounded window; a frame whose sequence number is
// older than the last-played frame is dropped and counted as an underrun.
//
// Implementations must be safe for concurrent use: Enqueue is called from the
// coordinator loop while the device drains buffered audio on its own thread.
type Sink interface {
	// Enqueue submits a frame for playback. It never blocks on device I/O;
	// buffering absorbs jitter up to the reorder window. Returns an error
	// only if the sink is closed or the device has failed
	// ([*StreamInterruptedError]).
	Enqueue(frame AudioFrame) error

	// Flush immediately discards all buffered-but-unplayed audio and resets
	// the expected sequence, so the next response stream starts clean. Used
	// on barge-in.
	Flush()

	// Underruns reports the total number of frames dropped because they
	// arrived too late (sequence number at or below the last played frame,
	// or displaced past the reorder window).
	Underruns() uint64

	// Close stops playback, discards buffered audio, and releases the device.
	// Safe to call multiple times; subsequent calls are no-ops and return nil.
	Close() error
}
