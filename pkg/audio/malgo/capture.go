// Package malgo implements [audio.Source] on top of the miniaudio bindings,
// capturing microphone input as fixed-size PCM frames.
//
// The source opens the default capture device in 16-bit signed little-endian
// format at the rate and channel count declared in [audio.SampleRate] and
// [audio.Channels], using 20 ms device periods so that frames leave the
// driver at roughly the cadence they are consumed.
package malgo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/parley/pkg/audio"
)

// frameChannelCapacity bounds how many captured frames may queue between the
// device callback and the consumer before the oldest is dropped. 64 frames is
// about 1.28 s of audio.
const frameChannelCapacity = 64

// Source captures microphone audio and emits it as sequenced
// [audio.AudioFrame] values on a channel.
//
// The zero value is not usable; create instances with [NewSource]. A Source
// owns its capture device exclusively: Start may be called once, and Close
// releases the device. After the frame channel closes, Err reports why
// capture ended.
type Source struct {
	log        *slog.Logger
	deviceName string

	frames chan audio.AudioFrame

	mu       sync.Mutex
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	started  bool
	closed   bool
	stopped  bool
	err      error
	pcm      []byte
	seq      uint64
	captured time.Duration

	closeFramesOnce sync.Once
}

var _ audio.Source = (*Source)(nil)

// Option configures a [Source].
type Option func(*Source)

// WithLogger sets the logger used for capture lifecycle messages.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Source) {
		s.log = log
	}
}

// NewSource creates a microphone Source. No device is touched until
// [Source.Start] is called.
func NewSource(opts ...Option) *Source {
	s := &Source{
		log:        slog.Default(),
		deviceName: "default capture device",
		frames:     make(chan audio.AudioFrame, frameChannelCapacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the default capture device and begins emitting frames. It
// returns [audio.ErrDeviceUnavailable] (wrapped) when no capture device can
// be opened. The context only scopes the call itself; stopping capture is
// done with [Source.Close].
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("malgo: source already closed")
	}
	if s.started {
		return fmt.Errorf("malgo: source already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return fmt.Errorf("malgo: init audio context: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(audio.Channels)
	deviceConfig.SampleRate = uint32(audio.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(audio.FrameDuration / time.Millisecond)

	callbacks := malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	}
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgo: init capture device: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgo: start capture device: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	s.mctx = mctx
	s.device = device
	s.started = true
	s.log.Info("microphone capture started",
		"sample_rate", audio.SampleRate,
		"channels", audio.Channels,
		"frame_ms", audio.FrameDuration.Milliseconds())
	return nil
}

// onData runs on the miniaudio device thread. It accumulates raw PCM and
// slices it into fixed-size frames; partial tails are kept for the next
// callback so that every emitted frame holds exactly [audio.FrameBytes].
func (s *Source) onData(_, input []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stopped {
		return
	}

	s.pcm = append(s.pcm, input...)
	for len(s.pcm) >= audio.FrameBytes {
		frame := audio.AudioFrame{
			Data:       append([]byte(nil), s.pcm[:audio.FrameBytes]...),
			SampleRate: audio.SampleRate,
			Channels:   audio.Channels,
			Seq:        s.seq,
			Timestamp:  s.captured,
		}
		s.pcm = s.pcm[audio.FrameBytes:]
		s.seq++
		s.captured += audio.FrameDuration

		select {
		case s.frames <- frame:
		default:
			// Consumer is behind; drop the oldest queued frame to keep the
			// stream close to real time.
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- frame:
			default:
			}
		}
	}
}

// onStop runs when the device stops outside of Close, which miniaudio
// reports when the underlying hardware disappears.
func (s *Source) onStop() {
	s.mu.Lock()
	if s.closed || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.err = &audio.StreamInterruptedError{
		Device: s.deviceName,
		Err:    fmt.Errorf("capture device stopped unexpectedly"),
	}
	s.mu.Unlock()

	s.log.Warn("microphone capture interrupted", "device", s.deviceName)
	s.closeFramesOnce.Do(func() { close(s.frames) })
}

// Frames returns the channel of captured frames. The channel closes when
// capture ends; consult [Source.Err] afterwards.
func (s *Source) Frames() <-chan audio.AudioFrame {
	return s.frames
}

// Err reports why the frame channel closed. It returns nil while capture is
// running or after a clean Close.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops capture and releases the device. It is safe to call multiple
// times and regardless of whether Start succeeded.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	device := s.device
	mctx := s.mctx
	s.device = nil
	s.mctx = nil
	s.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if mctx != nil {
		_ = mctx.Uninit()
		mctx.Free()
	}
	s.closeFramesOnce.Do(func() { close(s.frames) })
	s.log.Debug("microphone capture closed")
	return nil
}
