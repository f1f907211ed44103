package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/veritalk/internal/audio"
	"github.com/antoniostano/veritalk/internal/logging"
	"github.com/antoniostano/veritalk/internal/observability"
	"github.com/antoniostano/veritalk/internal/voice"
	"github.com/antoniostano/veritalk/internal/voiceapi"
)

type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
)

const (
	DefaultMaxDuration = 30 * time.Second
	DefaultSampleRate  = 16000

	providerRemote   = "remote_stt"
	providerFallback = "local_stt"
)

// Transcriber is the remote speech-to-text endpoint.
type Transcriber interface {
	Transcribe(ctx context.Context, req voiceapi.STTRequest) (voiceapi.STTResponse, error)
}

type Config struct {
	MaxDuration    time.Duration
	SampleRate     int
	RequestTimeout time.Duration
}

// Capture records one utterance at a time and turns it into text.
type Capture struct {
	cfg      Config
	devices  voice.AudioDeviceSource
	remote   Transcriber
	fallback voice.SpeechToTextEngine
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	state   State
	opening bool
	gen     uint64
	rec     *recording
	// cancel aborts the transcription pipeline of the current generation.
	cancel context.CancelFunc
	// cancelFallback aborts only the on-device recognizer.
	cancelFallback context.CancelFunc

	stateHook func(State)
	sink      func(ctx context.Context, text string)
	errHook   func(error)

	wg sync.WaitGroup
}

type recording struct {
	sessionID string
	language  string
	stream    voice.AudioStream
	format    voice.AudioFormat
	cancel    context.CancelFunc
	timer     *time.Timer
	done      chan struct{}

	mu      sync.Mutex
	samples []int16
}

func New(cfg Config, devices voice.AudioDeviceSource, remote Transcriber, fallback voice.SpeechToTextEngine, logger *slog.Logger, metrics *observability.Metrics) *Capture {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Capture{
		cfg:      cfg,
		devices:  devices,
		remote:   remote,
		fallback: fallback,
		logger:   logging.OrDiscard(logger),
		metrics:  metrics,
		state:    StateIdle,
	}
}

func (c *Capture) SetStateHook(hook func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHook = hook
}

// SetTranscriptSink registers the receiver of non-empty transcripts.
func (c *Capture) SetTranscriptSink(sink func(ctx context.Context, text string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// SetErrorHook registers a receiver for failures that are not returned to a caller.
func (c *Capture) SetErrorHook(hook func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errHook = hook
}

func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens a dedicated microphone stream and begins buffering audio for sessionID.
func (c *Capture) Start(ctx context.Context, sessionID, language string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("start listening: %w", voice.ErrNotConnected)
	}
	c.mu.Lock()
	if c.state != StateIdle || c.opening {
		c.mu.Unlock()
		return voice.ErrAlreadyListening
	}
	c.opening = true
	gen := c.gen
	c.mu.Unlock()

	stream, err := c.devices.OpenMicrophone(ctx, voice.StreamOptions{
		SampleRate:       c.cfg.SampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		c.mu.Lock()
		c.opening = false
		c.mu.Unlock()
		if errors.Is(err, voice.ErrPermissionDenied) {
			return fmt.Errorf("start listening: %w", err)
		}
		return fmt.Errorf("start listening: %w: %v", voice.ErrPermissionDenied, err)
	}

	c.mu.Lock()
	c.opening = false
	if c.gen != gen {
		// ForceStop ran while the microphone was opening.
		c.mu.Unlock()
		_ = stream.Close()
		return fmt.Errorf("start listening: %w", voice.ErrNotConnected)
	}
	readCtx, cancel := context.WithCancel(context.Background())
	rec := &recording{
		sessionID: sessionID,
		language:  language,
		stream:    stream,
		format:    stream.Format(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.gen++
	c.rec = rec
	c.state = StateRecording
	hook := c.stateHook
	rec.timer = time.AfterFunc(c.cfg.MaxDuration, func() { c.autoStop(rec) })
	c.mu.Unlock()

	c.wg.Add(1)
	go c.read(readCtx, rec)

	c.logger.Info("recording started", "session_id", sessionID, "language", language, "sample_rate", rec.format.SampleRate)
	if hook != nil {
		hook(StateRecording)
	}
	return nil
}

func (c *Capture) read(ctx context.Context, rec *recording) {
	defer c.wg.Done()
	defer close(rec.done)
	for {
		frame, err := rec.stream.Read(ctx)
		if err != nil {
			return
		}
		rec.mu.Lock()
		rec.samples = append(rec.samples, frame...)
		rec.mu.Unlock()
	}
}

func (c *Capture) autoStop(rec *recording) {
	c.mu.Lock()
	current := c.rec == rec
	c.mu.Unlock()
	if !current {
		return
	}
	c.logger.Info("recording reached max duration", "session_id", rec.sessionID, "max", c.cfg.MaxDuration)
	c.Stop()
}

// Stop finalizes the current recording and transcribes it in the background. While
// a transcription is running, Stop cancels a pending on-device fallback instead.
func (c *Capture) Stop() {
	c.mu.Lock()
	switch c.state {
	case StateTranscribing:
		cancelFallback := c.cancelFallback
		c.cancelFallback = nil
		c.mu.Unlock()
		if cancelFallback != nil {
			cancelFallback()
		}
		return
	case StateIdle:
		c.mu.Unlock()
		return
	}
	rec := c.rec
	c.rec = nil
	c.state = StateTranscribing
	gen := c.gen
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	hook := c.stateHook
	c.mu.Unlock()

	samples := rec.finish()
	if hook != nil {
		hook(StateTranscribing)
	}

	c.wg.Add(1)
	go func() {
		defer cancel()
		c.transcribe(runCtx, gen, rec, samples)
	}()
}

func (r *recording) finish() []int16 {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.cancel()
	_ = r.stream.Close()
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

func (c *Capture) transcribe(ctx context.Context, gen uint64, rec *recording, samples []int16) {
	defer c.wg.Done()

	text, err := c.transcribeRemote(ctx, rec, samples)
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("remote transcription failed", "session_id", rec.sessionID, "error", fmt.Errorf("%w: %v", voice.ErrProviderUnavailable, err))
		c.metrics.ProviderError(providerRemote, errorCode(err))
	}
	if text == "" && ctx.Err() == nil {
		reason := "empty_transcript"
		if err != nil {
			reason = "request_failed"
		}
		text = c.recognizeFallback(ctx, gen, rec, reason)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.cancel = nil
	c.cancelFallback = nil
	hook, sink := c.stateHook, c.sink
	c.mu.Unlock()
	if hook != nil {
		hook(StateIdle)
	}

	if text == "" || ctx.Err() != nil {
		c.logger.Info("no speech recognized", "session_id", rec.sessionID)
		return
	}
	if sink != nil {
		sink(ctx, text)
	}
}

func (c *Capture) transcribeRemote(ctx context.Context, rec *recording, samples []int16) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	channels := rec.format.Channels
	if channels <= 0 {
		channels = 1
	}
	clip, err := audio.EncodeWAV(audio.Downmix(samples, channels), rec.format.SampleRate, 1)
	if err != nil {
		return "", fmt.Errorf("encode clip: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	resp, err := c.remote.Transcribe(reqCtx, voiceapi.STTRequest{
		SessionID: rec.sessionID,
		Audio:     base64.StdEncoding.EncodeToString(clip),
		Language:  rec.language,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *Capture) recognizeFallback(ctx context.Context, gen uint64, rec *recording, reason string) string {
	if c.fallback == nil || !c.fallback.Available() {
		c.reportError(fmt.Errorf("transcribe speech: %w", voice.ErrRecognitionUnsupported))
		return ""
	}

	fbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	if c.gen != gen || c.state != StateTranscribing {
		c.mu.Unlock()
		return ""
	}
	c.cancelFallback = cancel
	c.mu.Unlock()

	c.metrics.Fallback(providerFallback, reason)
	c.logger.Info("using on-device recognizer", "session_id", rec.sessionID, "language", rec.language, "reason", reason)
	text, err := c.fallback.Recognize(fbCtx, rec.language)
	if err != nil {
		if fbCtx.Err() == nil {
			c.logger.Warn("on-device recognition failed", "session_id", rec.sessionID, "error", err)
			c.metrics.ProviderError(providerFallback, errorCode(err))
		}
		return ""
	}
	if fbCtx.Err() != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// ForceStop drops the current recording and any transcription without waiting for
// them. The state is idle when it returns.
func (c *Capture) ForceStop() {
	c.mu.Lock()
	rec := c.rec
	cancel := c.cancel
	cancelFallback := c.cancelFallback
	wasIdle := c.state == StateIdle
	c.rec = nil
	c.cancel = nil
	c.cancelFallback = nil
	c.gen++
	c.state = StateIdle
	hook := c.stateHook
	c.mu.Unlock()

	if rec != nil {
		if rec.timer != nil {
			rec.timer.Stop()
		}
		rec.cancel()
		_ = rec.stream.Close()
	}
	if cancelFallback != nil {
		cancelFallback()
	}
	if cancel != nil {
		cancel()
	}
	if !wasIdle && hook != nil {
		hook(StateIdle)
	}
}

// Wait blocks until background readers and transcriptions have returned.
func (c *Capture) Wait() {
	c.wg.Wait()
}

func (c *Capture) reportError(err error) {
	c.logger.Warn("speech capture error", "error", err)
	c.mu.Lock()
	hook := c.errHook
	c.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

func errorCode(err error) string {
	var statusErr *voiceapi.StatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("http_%d", statusErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, voice.ErrNetwork):
		return "network"
	default:
		return "error"
	}
}
