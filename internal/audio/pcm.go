package audio

import "math"

// RMS returns the normalized root mean square of a PCM16 frame in [0, 1].
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Downmix averages interleaved channels into mono.
func Downmix(frame []int16, channels int) []int16 {
	if channels <= 1 {
		return frame
	}
	n := len(frame) / channels
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(frame[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Resample converts a whole clip between sample rates with linear interpolation.
func Resample(samples []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return samples
	}
	r := NewResampler(from, to)
	return r.Process(samples)
}

// Resampler converts a continuous stream frame by frame. It keeps the interpolation
// phase and the previous frame's last sample, so output timing does not drift at
// frame boundaries.
type Resampler struct {
	step float64
	pos  float64
	last int16
	pass bool
}

func NewResampler(from, to int) *Resampler {
	if from <= 0 || to <= 0 || from == to {
		return &Resampler{pass: true}
	}
	return &Resampler{step: float64(from) / float64(to)}
}

// Process returns the resampled frame. pos is measured in input samples from the start
// of the frame; -1 refers to the previous frame's last sample.
func (r *Resampler) Process(frame []int16) []int16 {
	if r.pass || len(frame) == 0 {
		return frame
	}
	at := func(i int) float64 {
		if i < 0 {
			return float64(r.last)
		}
		return float64(frame[i])
	}
	n := len(frame)
	out := make([]int16, 0, int(float64(n)/r.step)+1)
	for r.pos <= float64(n-1) {
		i := int(math.Floor(r.pos))
		t := r.pos - float64(i)
		v := (1-t)*at(i) + t*at(i+1)
		out = append(out, int16(math.Round(v)))
		r.pos += r.step
	}
	r.pos -= float64(n)
	r.last = frame[n-1]
	return out
}

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// EncodeULaw converts PCM16 samples to G.711 µ-law bytes (PCMU payload).
func EncodeULaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToULaw(s)
	}
	return out
}

func linearToULaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}
