// Package audio defines the frame type and the device-facing interfaces of
// the Parley audio pipeline.
//
// The two primary abstractions are:
//
//   - [Source] — acquires the capture device and produces a fixed-cadence
//     stream of [AudioFrame] values.
//   - [Sink] — acquires the playback device and consumes frames in strict
//     sequence order, absorbing network jitter in a bounded reorder window.
//
// Implementations are provided by device-specific adapter packages
// (audio/malgo for capture, audio/oto for playback). The interfaces are
// intentionally narrow so that the turn coordinator stays decoupled from
// device details and so that tests can substitute in-memory fakes.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement [Source] and [Sink].
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Stream format fixed by the remote API contract: 16 kHz mono little-endian
// 16-bit PCM, one frame every 20 ms.
const (
	// SampleRate is the sample rate of every frame in the pipeline, in Hz.
	SampleRate = 16000

	// Channels is the channel count of every frame in the pipeline.
	Channels = 1

	// FrameDuration is the fixed cadence of capture and playback.
	FrameDuration = 20 * time.Millisecond

	// SamplesPerFrame is the number of PCM samples in one frame.
	SamplesPerFrame = SampleRate / int(time.Second/FrameDuration)

	// FrameBytes is the byte length of one frame's PCM data (2 bytes per sample).
	FrameBytes = SamplesPerFrame * 2
)

// AudioFrame represents a single frame of audio flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the
// microphone, gated by the activation policy, streamed to the remote session,
// and played through the output device.
//
// A frame is treated as immutable once produced: its Data slice must not be
// modified by consumers.
type AudioFrame struct {
	// Data is little-endian 16-bit PCM. For frames produced inside this
	// pipeline len(Data) == FrameBytes; inbound frames from the remote side
	// may carry a different length (the API chunks audio on its own schedule).
	Data []byte

	// SampleRate in Hz. Always SampleRate for well-formed frames.
	SampleRate int

	// Channels is the channel count. Always Channels for well-formed frames.
	Channels int

	// Seq is the monotonic sequence number, assigned by the producer.
	// Capture frames and response frames number independent sequences.
	Seq uint64

	// Timestamp marks when this frame was produced, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// RMS computes the root-mean-square energy of little-endian 16-bit PCM data,
// in the raw sample scale (0–32767). A trailing odd byte is ignored.
//
// The activation VAD policy uses this to classify frames as speech or silence.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}
