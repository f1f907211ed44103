package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var errStreamClosed = errors.New("audio stream closed")

const mockFrameDuration = 20 * time.Millisecond

// MockDevice is a silent microphone used when no native audio stack is available.
type MockDevice struct {
	// Deny makes every OpenMicrophone call fail with ErrPermissionDenied.
	Deny bool
	// OpenDelay simulates a slow permission prompt or device start.
	OpenDelay time.Duration

	opened atomic.Int64
	active atomic.Int64
}

func NewMockDevice() *MockDevice { return &MockDevice{} }

func (d *MockDevice) OpenMicrophone(ctx context.Context, opts StreamOptions) (AudioStream, error) {
	if err := sleepContext(ctx, d.OpenDelay); err != nil {
		return nil, err
	}
	if d.Deny {
		return nil, ErrPermissionDenied
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := opts.Channels
	if channels <= 0 {
		channels = 1
	}
	d.opened.Add(1)
	d.active.Add(1)
	return &mockStream{
		device: d,
		format: AudioFormat{SampleRate: rate, Channels: channels},
		closed: make(chan struct{}),
	}, nil
}

// Opened reports how many streams were ever handed out.
func (d *MockDevice) Opened() int { return int(d.opened.Load()) }

// Active reports how many streams are still open.
func (d *MockDevice) Active() int { return int(d.active.Load()) }

type mockStream struct {
	device *MockDevice
	format AudioFormat
	once   sync.Once
	closed chan struct{}
}

func (s *mockStream) Read(ctx context.Context) ([]int16, error) {
	timer := time.NewTimer(mockFrameDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, errStreamClosed
	case <-timer.C:
	}
	n := s.format.SampleRate * s.format.Channels * int(mockFrameDuration/time.Millisecond) / 1000
	return make([]int16, n), nil
}

func (s *mockStream) Format() AudioFormat { return s.format }

func (s *mockStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.device.active.Add(-1)
	})
	return nil
}

// MockRecognizer returns a fixed transcript after a short delay.
type MockRecognizer struct {
	Text  string
	Delay time.Duration
	calls atomic.Int64
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{Text: "simulated voice input", Delay: 200 * time.Millisecond}
}

func (r *MockRecognizer) Available() bool { return true }

func (r *MockRecognizer) Recognize(ctx context.Context, _ string) (string, error) {
	r.calls.Add(1)
	if err := sleepContext(ctx, r.Delay); err != nil {
		return "", err
	}
	return r.Text, nil
}

func (r *MockRecognizer) Calls() int { return int(r.calls.Load()) }

// MockSynthesizer pretends to speak, taking time proportional to the text length.
type MockSynthesizer struct {
	PerRune time.Duration
	calls   atomic.Int64
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{PerRune: 5 * time.Millisecond}
}

func (s *MockSynthesizer) Available() bool { return true }

func (s *MockSynthesizer) Speak(ctx context.Context, text, _ string) error {
	s.calls.Add(1)
	n := len([]rune(strings.TrimSpace(text)))
	return sleepContext(ctx, time.Duration(n)*s.PerRune)
}

func (s *MockSynthesizer) Calls() int { return int(s.calls.Load()) }

// MockPlayer treats clips as 16 kHz PCM16 and waits for their duration.
type MockPlayer struct {
	plays atomic.Int64
}

func NewMockPlayer() *MockPlayer { return &MockPlayer{} }

func (p *MockPlayer) Play(ctx context.Context, clip []byte) error {
	p.plays.Add(1)
	d := time.Duration(len(clip)) * time.Second / 32000
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return sleepContext(ctx, d)
}

func (p *MockPlayer) Plays() int { return int(p.plays.Load()) }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
