package audio

import (
	"testing"
	"time"
)

func TestConvertFastPath(t *testing.T) {
	t.Parallel()

	c := &FormatConverter{Target: Format{SampleRate: 48000, Channels: 2}}
	in := AudioFrame{
		Data:       []byte{1, 2, 3, 4},
		SampleRate: 48000,
		Channels:   2,
		Timestamp:  20 * time.Millisecond,
	}
	out := c.Convert(in)
	if &out.Data[0] != &in.Data[0] {
		t.Fatal("fast path must return the input slice unchanged")
	}
}

func TestConvertStereoDownmixAndResample(t *testing.T) {
	t.Parallel()

	c := &FormatConverter{Target: Format{SampleRate: 24000, Channels: 1}}

	// 48kHz stereo, 4 frames of identical L/R samples.
	in := AudioFrame{SampleRate: 48000, Channels: 2}
	samples := []int16{100, 100, 200, 200, 300, 300, 400, 400}
	in.Data = Int16ToBytes(samples)

	out := c.Convert(in)
	if out.SampleRate != 24000 || out.Channels != 1 {
		t.Fatalf("got %dHz %dch, want 24000Hz 1ch", out.SampleRate, out.Channels)
	}
	// 4 mono samples at 48kHz resample to 2 at 24kHz.
	if got := len(out.Data) / 2; got != 2 {
		t.Fatalf("got %d samples, want 2", got)
	}
}

func TestConvertDropsCorruptFrame(t *testing.T) {
	t.Parallel()

	c := &FormatConverter{Target: Format{SampleRate: 16000, Channels: 1}}
	out := c.Convert(AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if out.Data != nil {
		t.Fatalf("corrupt frame must be dropped, got %d bytes", len(out.Data))
	}
}

func TestStereoToMonoAveragesAndClamps(t *testing.T) {
	t.Parallel()

	in := Int16ToBytes([]int16{1000, 2000, 32767, 32767})
	out := BytesToInt16(StereoToMono(in))
	if len(out) != 2 {
		t.Fatalf("got %d samples, want 2", len(out))
	}
	if out[0] != 1500 {
		t.Fatalf("avg = %d, want 1500", out[0])
	}
	if out[1] != 32767 {
		t.Fatalf("clamped avg = %d, want 32767", out[1])
	}
}

func TestMonoToStereoDuplicates(t *testing.T) {
	t.Parallel()

	in := Int16ToBytes([]int16{5, -5})
	out := BytesToInt16(MonoToStereo(in))
	want := []int16{5, 5, -5, -5}
	if len(out) != len(want) {
		t.Fatalf("got %d samples, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
}

func TestResampleMono16Identity(t *testing.T) {
	t.Parallel()

	in := Int16ToBytes([]int16{1, 2, 3})
	out := ResampleMono16(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Fatal("equal rates must return input unchanged")
	}
}

func TestResampleMono16Halves(t *testing.T) {
	t.Parallel()

	in := Int16ToBytes(make([]int16, 960))
	out := ResampleMono16(in, 48000, 24000)
	if got := len(out) / 2; got != 480 {
		t.Fatalf("got %d samples, want 480", got)
	}
}
