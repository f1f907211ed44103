package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/antoniostano/veritalk/internal/voice"
)

const frameDurationMS = 20

var errStreamClosed = errors.New("microphone stream closed")

// PortAudioSource opens the default input device through PortAudio.
type PortAudioSource struct {
	mu     sync.Mutex
	inited bool
}

func NewPortAudioSource() *PortAudioSource { return &PortAudioSource{} }

// Init initializes the PortAudio library. It must be called before OpenMicrophone.
func (s *PortAudioSource) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	s.inited = true
	return nil
}

func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inited {
		return nil
	}
	s.inited = false
	return portaudio.Terminate()
}

// OpenMicrophone starts capturing from the default input device. Processing hints such
// as echo cancellation are left to the host audio stack.
func (s *PortAudioSource) OpenMicrophone(ctx context.Context, opts voice.StreamOptions) (voice.AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	inited := s.inited
	s.mu.Unlock()
	if !inited {
		return nil, fmt.Errorf("open microphone: portaudio not initialized: %w", voice.ErrPermissionDenied)
	}

	rate := opts.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := opts.Channels
	if channels <= 0 {
		channels = 1
	}
	buf := make([]int16, rate*channels*frameDurationMS/1000)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(rate), len(buf)/channels, buf)
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w: %v", voice.ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start microphone: %w: %v", voice.ErrPermissionDenied, err)
	}
	return &paStream{
		stream: stream,
		buf:    buf,
		format: voice.AudioFormat{SampleRate: rate, Channels: channels},
	}, nil
}

type paStream struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	format voice.AudioFormat
	closed bool
}

func (p *paStream) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errStreamClosed
	}
	if err := p.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, err
	}
	frame := make([]int16, len(p.buf))
	copy(frame, p.buf)
	return frame, nil
}

func (p *paStream) Format() voice.AudioFormat { return p.format }

func (p *paStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	stopErr := p.stream.Stop()
	closeErr := p.stream.Close()
	return errors.Join(stopErr, closeErr)
}
