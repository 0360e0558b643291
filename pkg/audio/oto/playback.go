// Package oto implements [audio.Sink] on top of the oto playback library.
//
// The sink reorders incoming frames by sequence number, concatenates their
// PCM payloads into a pull buffer, and lets the oto player drain that buffer
// through an [io.Reader]. Flush discards everything queued and resets the
// player so that new audio starts without any stale tail, which is what makes
// barge-in feel immediate.
package oto

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	otolib "github.com/ebitengine/oto/v3"

	"github.com/MrWong99/parley/pkg/audio"
)

// playerBufferBytes is the oto-internal buffer size. 3200 bytes is 100 ms of
// audio at 16 kHz mono s16le, a compromise between latency and glitch
// resistance.
const playerBufferBytes = 3200

// Sink plays assistant audio through the default output device.
//
// Create instances with [NewSink]; the zero value is not usable. A Sink owns
// its playback device exclusively. All methods are safe for concurrent use.
type Sink struct {
	log     *slog.Logger
	otoCtx  *otolib.Context
	reorder *audio.ReorderBuffer

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  *otolib.Player
	playing bool
	closed  bool
	gen     uint64
}

var _ audio.Sink = (*Sink)(nil)

// Option configures a [Sink].
type Option func(*Sink)

// WithLogger sets the logger used for playback lifecycle messages.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Sink) {
		s.log = log
	}
}

// WithReorderWindow sets how many frames the sink holds while waiting for a
// missing sequence number. Defaults to [audio.DefaultReorderWindow].
func WithReorderWindow(window int) Option {
	return func(s *Sink) {
		s.reorder = audio.NewReorderBuffer(window)
	}
}

// NewSink opens the default playback device. It returns
// [audio.ErrDeviceUnavailable] (wrapped) when no output device can be
// initialized.
//
// oto allows only one context per process, so create at most one Sink.
func NewSink(opts ...Option) (*Sink, error) {
	s := &Sink{
		log:     slog.Default(),
		reorder: audio.NewReorderBuffer(audio.DefaultReorderWindow),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}

	otoCtx, ready, err := otolib.NewContext(&otolib.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: audio.Channels,
		Format:       otolib.FormatSignedInt16LE,
		BufferSize:   playerBufferBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("oto: init playback device: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	<-ready
	s.otoCtx = otoCtx

	s.log.Info("speaker playback ready",
		"sample_rate", audio.SampleRate,
		"channels", audio.Channels)
	return s, nil
}

// Enqueue schedules a frame for playback. Out-of-order frames are held and
// released in sequence; frames that arrive too late are dropped and counted
// as underruns. The player starts on the first playable byte.
func (s *Sink) Enqueue(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("oto: sink closed")
	}

	for _, f := range s.reorder.Push(frame) {
		s.buf = append(s.buf, f.Data...)
	}
	if len(s.buf) == 0 {
		return nil
	}

	if !s.playing {
		s.playing = true
		gen := s.gen
		s.player = s.otoCtx.NewPlayer(readerFunc(func(p []byte) (int, error) {
			return s.read(gen, p)
		}))
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// read is the pull side for one player generation. It blocks until PCM is
// queued, and returns io.EOF once Flush has moved on to a newer generation
// so a stale player never steals audio from its successor.
func (s *Sink) read(gen uint64, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed && gen == s.gen {
		s.cond.Wait()
	}
	if gen != s.gen {
		return 0, io.EOF
	}
	if s.closed && len(s.buf) == 0 {
		// Hand the player silence so it drains without error spam.
		clear(p)
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards all buffered audio immediately, including whatever the
// player already pulled, and resets the reorder window for the next
// response. Playback restarts on the next Enqueue.
func (s *Sink) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.reorder.Reset()
	s.gen++

	var player *otolib.Player
	if s.playing {
		s.playing = false
		player = s.player
		s.player = nil
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		// Pause stops audible output at once; Reset drops oto's internal
		// buffer so nothing stale plays when the next response begins.
		player.Pause()
		_ = player.Reset()
		_ = player.Close()
	}
	s.log.Debug("playback flushed")
}

// Underruns reports the total number of frames dropped or skipped because
// they arrived too late or too far out of order.
func (s *Sink) Underruns() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reorder.Underruns()
}

// Close stops playback and releases the player. It is safe to call multiple
// times. The oto context itself has no teardown API and is left to the
// process.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	player := s.player
	s.player = nil
	s.playing = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
	s.log.Debug("speaker playback closed")
	return nil
}

// readerFunc adapts a function to io.Reader for the oto player.
type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
