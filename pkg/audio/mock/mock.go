// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	frames := make(chan audio.AudioFrame, 16)
//	src := &mock.Source{FramesResult: frames}
//	sink := &mock.Sink{}
//	frames <- audio.AudioFrame{Seq: 0, Data: pcm}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
// Set the exported Result fields before use; inspect the Call* fields after.
type Source struct {
	mu sync.Mutex

	// StartError is returned by [Source.Start].
	StartError error

	// FramesResult is the channel returned by [Source.Frames].
	// Tests feed captured frames into it and close it to simulate device loss.
	FramesResult chan audio.AudioFrame

	// ErrResult is returned by [Source.Err], typically set together with
	// closing FramesResult to simulate a capture failure.
	ErrResult error

	// CloseError is returned by [Source.Close].
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Start implements [audio.Source]. Returns StartError.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartError
}

// Frames implements [audio.Source]. Returns FramesResult.
func (s *Source) Frames() <-chan audio.AudioFrame {
	return s.FramesResult
}

// Err implements [audio.Source]. Returns ErrResult.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

// SetErr sets the value returned by subsequent [Source.Err] calls. Use it
// together with closing FramesResult to simulate a device disappearing
// mid-capture.
func (s *Source) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrResult = err
}

// Close implements [audio.Source]. Returns CloseError.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// EnqueueError is returned by [Sink.Enqueue].
	EnqueueError error

	// UnderrunsResult is returned by [Sink.Underruns].
	UnderrunsResult uint64

	// CloseError is returned by [Sink.Close].
	CloseError error

	// EnqueueCalls records every frame passed to Enqueue, in order. Entries
	// enqueued before the most recent Flush are removed from the slice so
	// that tests can assert what would actually have been played.
	EnqueueCalls []audio.AudioFrame

	// AllEnqueueCalls records every frame passed to Enqueue, in order,
	// including frames discarded by Flush.
	AllEnqueueCalls []audio.AudioFrame

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Enqueue implements [audio.Sink]. Records the frame and returns EnqueueError.
func (s *Sink) Enqueue(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AllEnqueueCalls = append(s.AllEnqueueCalls, frame)
	if s.EnqueueError != nil {
		return s.EnqueueError
	}
	s.EnqueueCalls = append(s.EnqueueCalls, frame)
	return nil
}

// Flush implements [audio.Sink]. Discards the frames recorded in EnqueueCalls;
// AllEnqueueCalls is left intact.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFlush++
	s.EnqueueCalls = nil
}

// Underruns implements [audio.Sink]. Returns UnderrunsResult.
func (s *Sink) Underruns() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.UnderrunsResult
}

// Close implements [audio.Sink]. Returns CloseError.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// Enqueued returns a copy of EnqueueCalls for safe concurrent inspection.
func (s *Sink) Enqueued() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.EnqueueCalls))
	copy(out, s.EnqueueCalls)
	return out
}

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)
