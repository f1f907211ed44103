package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i)
	}
	clip, err := EncodeWAV(samples, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if !bytes.HasPrefix(clip, []byte("RIFF")) || string(clip[8:12]) != "WAVE" {
		t.Fatalf("clip is not a RIFF/WAVE file: %q", clip[:12])
	}
	rate := binary.LittleEndian.Uint32(clip[24:28])
	if rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if len(clip) < 44+len(samples)*2 {
		t.Fatalf("clip too short: %d bytes", len(clip))
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS(make([]int16, 64)); got != 0 {
		t.Fatalf("RMS(silence) = %v, want 0", got)
	}
	loud := []int16{16384, -16384, 16384, -16384}
	if got := RMS(loud); got < 0.49 || got > 0.51 {
		t.Fatalf("RMS(loud) = %v, want ~0.5", got)
	}
}

func TestEncodeULaw(t *testing.T) {
	got := EncodeULaw([]int16{0, 32767, -32768})
	if got[0] != 0xFF {
		t.Fatalf("ulaw(0) = %#x, want 0xff", got[0])
	}
	if got[1] != 0x80 {
		t.Fatalf("ulaw(max) = %#x, want 0x80", got[1])
	}
	if got[2] != 0x00 {
		t.Fatalf("ulaw(min) = %#x, want 0x00", got[2])
	}
}

func TestDownmix(t *testing.T) {
	if got := Downmix([]int16{10, 20, 30, 40}, 2); len(got) != 2 || got[0] != 15 || got[1] != 35 {
		t.Fatalf("Downmix() = %v", got)
	}
}

func TestResampleIntegerRatio(t *testing.T) {
	got := Resample([]int16{0, 10, 20, 30, 40, 50}, 16000, 8000)
	want := []int16{0, 20, 40}
	if len(got) != len(want) {
		t.Fatalf("Resample() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Resample() = %v, want %v", got, want)
		}
	}
	if same := Resample([]int16{1, 2}, 8000, 8000); len(same) != 2 {
		t.Fatalf("Resample() same rate = %v", same)
	}
}

func TestResamplerKeepsRateAcrossFrames(t *testing.T) {
	// 44.1 kHz in 10ms frames for one second must give 8000 samples, give or take one.
	r := NewResampler(44100, 8000)
	frame := make([]int16, 441)
	total := 0
	for i := 0; i < 100; i++ {
		total += len(r.Process(frame))
	}
	if total < 7999 || total > 8001 {
		t.Fatalf("resampled samples = %d, want about 8000", total)
	}
}

func TestResamplerInterpolatesAcrossFrameBoundary(t *testing.T) {
	r := NewResampler(2, 3)
	first := r.Process([]int16{0, 30})
	second := r.Process([]int16{60, 90})
	all := append(append([]int16(nil), first...), second...)
	want := []int16{0, 20, 40, 60, 80}
	if len(all) != len(want) {
		t.Fatalf("output = %v, want %v", all, want)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Fatalf("output = %v, want %v", all, want)
		}
	}
}
