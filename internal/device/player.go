package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const resampleQuality = 4

// SpeakerPlayer plays WAV or MP3 clips on the default output device.
type SpeakerPlayer struct {
	mu         sync.Mutex
	sampleRate beep.SampleRate
}

func NewSpeakerPlayer() *SpeakerPlayer { return &SpeakerPlayer{} }

func (p *SpeakerPlayer) Play(ctx context.Context, clip []byte) error {
	streamer, format, err := decodeClip(clip)
	if err != nil {
		return err
	}
	defer streamer.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sampleRate == 0 {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		p.sampleRate = format.SampleRate
	}

	var src beep.Streamer = streamer
	if format.SampleRate != p.sampleRate {
		src = beep.Resample(resampleQuality, format.SampleRate, p.sampleRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(src, beep.Callback(func() {
		close(done)
	})))
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

func decodeClip(clip []byte) (beep.StreamSeekCloser, beep.Format, error) {
	if len(clip) < 4 {
		return nil, beep.Format{}, fmt.Errorf("decode clip: too short")
	}
	r := bytes.NewReader(clip)
	if string(clip[:4]) == "RIFF" {
		s, f, err := wav.Decode(r)
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode wav clip: %w", err)
		}
		return s, f, nil
	}
	s, f, err := mp3.Decode(io.NopCloser(r))
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode mp3 clip: %w", err)
	}
	return s, f, nil
}
