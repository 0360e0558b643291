package audio

import (
	"testing"
)

func frame(seq uint64) AudioFrame {
	return AudioFrame{
		Data:       make([]byte, FrameBytes),
		SampleRate: SampleRate,
		Channels:   Channels,
		Seq:        seq,
	}
}

func seqs(frames []AudioFrame) []uint64 {
	out := make([]uint64, len(frames))
	for i, f := range frames {
		out[i] = f.Seq
	}
	return out
}

func TestReorderBuffer_InOrderPassthrough(t *testing.T) {
	b := NewReorderBuffer(4)
	for seq := uint64(0); seq < 10; seq++ {
		got := b.Push(frame(seq))
		if len(got) != 1 || got[0].Seq != seq {
			t.Fatalf("Push(%d) released %v, want [%d]", seq, seqs(got), seq)
		}
	}
	if b.Underruns() != 0 {
		t.Errorf("Underruns = %d, want 0", b.Underruns())
	}
}

func TestReorderBuffer_ReordersWithinWindow(t *testing.T) {
	b := NewReorderBuffer(4)

	if got := b.Push(frame(0)); len(got) != 1 {
		t.Fatalf("Push(0) released %v, want [0]", seqs(got))
	}
	// 2 arrives before 1: held.
	if got := b.Push(frame(2)); got != nil {
		t.Fatalf("Push(2) released %v, want nothing", seqs(got))
	}
	// 1 arrives: both release in order.
	got := b.Push(frame(1))
	want := []uint64{1, 2}
	if len(got) != 2 || got[0].Seq != want[0] || got[1].Seq != want[1] {
		t.Fatalf("Push(1) released %v, want %v", seqs(got), want)
	}
	if b.Underruns() != 0 {
		t.Errorf("Underruns = %d, want 0", b.Underruns())
	}
}

func TestReorderBuffer_LateFrameDroppedAsUnderrun(t *testing.T) {
	b := NewReorderBuffer(4)
	b.Push(frame(5))
	b.Push(frame(6))

	if got := b.Push(frame(4)); got != nil {
		t.Fatalf("late Push(4) released %v, want nothing", seqs(got))
	}
	if b.Underruns() != 1 {
		t.Errorf("Underruns = %d, want 1", b.Underruns())
	}
}

func TestReorderBuffer_SkipsAheadWhenWindowFull(t *testing.T) {
	b := NewReorderBuffer(3)

	b.Push(frame(0))
	// Frame 1 never arrives; 2, 3, 5 accumulate inside the window.
	for _, seq := range []uint64{2, 3, 5} {
		if got := b.Push(frame(seq)); got != nil {
			t.Fatalf("Push(%d) released %v, want nothing", seq, seqs(got))
		}
	}
	// A fourth held frame exceeds the window: skip past the gap at 1.
	got := b.Push(frame(6))
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("Push(6) released %v, want [2 3]", seqs(got))
	}
	if b.Len() != 2 {
		t.Errorf("Len = %d, want 2 (frames 5 and 6 held behind gap at 4)", b.Len())
	}
	if b.Underruns() != 1 {
		t.Errorf("Underruns = %d, want 1 (missing frame 1)", b.Underruns())
	}
}

func TestReorderBuffer_FirstFrameSeatsSequence(t *testing.T) {
	b := NewReorderBuffer(4)
	got := b.Push(frame(100))
	if len(got) != 1 || got[0].Seq != 100 {
		t.Fatalf("Push(100) released %v, want [100]", seqs(got))
	}
}

func TestReorderBuffer_ResetStartsFreshStream(t *testing.T) {
	b := NewReorderBuffer(4)
	b.Push(frame(0))
	b.Push(frame(2)) // held

	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("Len after Reset = %d, want 0", b.Len())
	}

	// A lower sequence after Reset is a new stream, not a late frame.
	got := b.Push(frame(0))
	if len(got) != 1 || got[0].Seq != 0 {
		t.Fatalf("Push(0) after Reset released %v, want [0]", seqs(got))
	}
}

func TestRMS_SilenceIsZero(t *testing.T) {
	if got := RMS(make([]byte, FrameBytes)); got != 0 {
		t.Errorf("RMS(silence) = %f, want 0", got)
	}
}

func TestRMS_ConstantAmplitude(t *testing.T) {
	// A square wave at amplitude 1000 has RMS 1000.
	pcm := make([]byte, FrameBytes)
	for i := 0; i+1 < len(pcm); i += 4 {
		pcm[i] = 0xE8 // +1000 little-endian
		pcm[i+1] = 0x03
		pcm[i+2] = 0x18 // -1000 little-endian
		pcm[i+3] = 0xFC
	}
	got := RMS(pcm)
	if got < 999 || got > 1001 {
		t.Errorf("RMS(square wave) = %f, want ≈1000", got)
	}
}

func TestFrameDuration_MatchesFormat(t *testing.T) {
	f := frame(0)
	if d := f.Duration(); d != FrameDuration {
		t.Errorf("Duration = %v, want %v", d, FrameDuration)
	}
	if FrameBytes != 640 {
		t.Errorf("FrameBytes = %d, want 640 (20 ms at 16 kHz s16le mono)", FrameBytes)
	}
}
