package audio

// ReorderBuffer restores strict sequence order over a jittery frame stream.
//
// Frames may arrive slightly out of order; the buffer holds them until the
// run starting at the next expected sequence number is complete, up to a
// bounded window. When the window fills without the expected frame arriving,
// the buffer skips forward to the oldest held frame and counts every missing
// sequence number as an underrun. Frames at or below the last released
// sequence number are dropped and counted as underruns as well.
//
// ReorderBuffer is not safe for concurrent use; callers (sinks) provide
// their own locking.
type ReorderBuffer struct {
	window    int
	next      uint64
	started   bool
	pending   map[uint64]AudioFrame
	underruns uint64
}

// DefaultReorderWindow is the number of frames a sink holds while waiting
// for a missing sequence number — 8 frames ≈ 160 ms of audio.
const DefaultReorderWindow = 8

// NewReorderBuffer creates a ReorderBuffer holding at most window frames.
// A window of zero or less falls back to [DefaultReorderWindow].
func NewReorderBuffer(window int) *ReorderBuffer {
	if window <= 0 {
		window = DefaultReorderWindow
	}
	return &ReorderBuffer{
		window:  window,
		pending: make(map[uint64]AudioFrame, window),
	}
}

// Push inserts a frame and returns the frames that are now releasable in
// strictly increasing sequence order. The returned slice is nil when nothing
// became releasable.
func (b *ReorderBuffer) Push(f AudioFrame) []AudioFrame {
	// The first frame of a stream seats the expected sequence.
	if !b.started {
		b.started = true
		b.next = f.Seq
	}

	if f.Seq < b.next {
		b.underruns++
		return nil
	}
	b.pending[f.Seq] = f

	out := b.releaseRun(nil)

	// Window exceeded: the expected frame is presumed lost. Skip forward to
	// the oldest held frame, counting every missing sequence as an underrun.
	if len(b.pending) > b.window {
		oldest := b.oldestPending()
		b.underruns += oldest - b.next
		b.next = oldest
		out = b.releaseRun(out)
	}

	return out
}

// releaseRun appends the consecutive run starting at b.next to out.
func (b *ReorderBuffer) releaseRun(out []AudioFrame) []AudioFrame {
	for {
		f, ok := b.pending[b.next]
		if !ok {
			return out
		}
		delete(b.pending, b.next)
		b.next++
		out = append(out, f)
	}
}

// oldestPending returns the smallest held sequence number. Callers must
// ensure the buffer is non-empty.
func (b *ReorderBuffer) oldestPending() uint64 {
	first := true
	var min uint64
	for seq := range b.pending {
		if first || seq < min {
			min = seq
			first = false
		}
	}
	return min
}

// Reset discards all held frames and forgets the expected sequence, so the
// next pushed frame seats a fresh stream. The underrun count is preserved.
func (b *ReorderBuffer) Reset() {
	clear(b.pending)
	b.started = false
	b.next = 0
}

// Len reports the number of frames currently held.
func (b *ReorderBuffer) Len() int { return len(b.pending) }

// Underruns reports the total number of frames dropped or skipped since the
// buffer was created.
func (b *ReorderBuffer) Underruns() uint64 { return b.underruns }
