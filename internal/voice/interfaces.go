package voice

import "context"

// StreamOptions describes the microphone stream a caller wants.
type StreamOptions struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

type AudioFormat struct {
	SampleRate int
	Channels   int
}

// AudioStream is one open handle on the microphone. Read returns the next frame of
// interleaved PCM16 samples; it returns an error once the stream is closed.
type AudioStream interface {
	Read(ctx context.Context) ([]int16, error)
	Format() AudioFormat
	Close() error
}

// AudioDeviceSource hands out microphone streams. Implementations return an error
// wrapping ErrPermissionDenied when the device cannot be acquired.
type AudioDeviceSource interface {
	OpenMicrophone(ctx context.Context, opts StreamOptions) (AudioStream, error)
}

// SpeechToTextEngine is the on-device recognizer used when remote STT fails.
// Recognize listens for a single utterance and returns its transcript, which may be
// empty when nothing was heard.
type SpeechToTextEngine interface {
	Available() bool
	Recognize(ctx context.Context, language string) (string, error)
}

// TextToSpeechEngine is the on-device synthesizer used when remote TTS fails.
// Speak blocks until the utterance finished or ctx is cancelled.
type TextToSpeechEngine interface {
	Available() bool
	Speak(ctx context.Context, text, language string) error
}

// Player plays one encoded audio clip and blocks until playback completes or ctx is
// cancelled.
type Player interface {
	Play(ctx context.Context, clip []byte) error
}
