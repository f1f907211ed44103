package speech

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/veritalk/internal/logging"
	"github.com/antoniostano/veritalk/internal/observability"
	"github.com/antoniostano/veritalk/internal/voice"
	"github.com/antoniostano/veritalk/internal/voiceapi"
)

const (
	DefaultVoice  = "anushka"
	DefaultLocale = "en-IN"

	providerRemote   = "remote_tts"
	providerFallback = "local_tts"
)

// Synthesizer is the remote text-to-speech endpoint.
type Synthesizer interface {
	Synthesize(ctx context.Context, req voiceapi.TTSRequest) (voiceapi.TTSResponse, error)
}

type Config struct {
	// Voice and Locale are sent with every remote synthesis request regardless of
	// the conversation language.
	Voice          string
	Locale         string
	RequestTimeout time.Duration
}

// Output vocalizes assistant replies, one utterance at a time.
type Output struct {
	cfg      Config
	remote   Synthesizer
	player   voice.Player
	fallback voice.TextToSpeechEngine
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	gen      uint64
	speaking bool
	cancel   context.CancelFunc
	done     chan struct{}
	hook     func(bool)

	wg sync.WaitGroup
}

func New(cfg Config, remote Synthesizer, player voice.Player, fallback voice.TextToSpeechEngine, logger *slog.Logger, metrics *observability.Metrics) *Output {
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = DefaultVoice
	}
	if strings.TrimSpace(cfg.Locale) == "" {
		cfg.Locale = DefaultLocale
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Output{
		cfg:      cfg,
		remote:   remote,
		player:   player,
		fallback: fallback,
		logger:   logging.OrDiscard(logger),
		metrics:  metrics,
	}
}

// SetStateHook registers a callback for speaking transitions.
func (o *Output) SetStateHook(hook func(speaking bool)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hook = hook
}

func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

// Speak starts vocalizing text in the background, superseding any utterance that is
// still playing. Cancelling ctx cancels the utterance. played, when set, receives the
// remote clip right before playback starts; it is not called for on-device speech.
func (o *Output) Speak(ctx context.Context, text, language string, played func(clip []byte)) {
	text = speakableText(text, language)
	if text == "" {
		return
	}
	uctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	o.mu.Lock()
	prevCancel, prevDone := o.cancel, o.done
	o.gen++
	g := o.gen
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		defer cancel()
		if prevDone != nil {
			<-prevDone
		}
		defer o.finish(g)
		o.utter(uctx, g, text, language, played)
	}()
}

func (o *Output) utter(ctx context.Context, g uint64, text, language string, played func([]byte)) {
	if ctx.Err() != nil {
		return
	}
	clip, reason := o.synthesizeRemote(ctx, text)
	if ctx.Err() != nil {
		return
	}
	if clip != nil {
		if played != nil {
			played(clip)
		}
		o.setSpeaking(g, true)
		if err := o.player.Play(ctx, clip); err != nil && ctx.Err() == nil {
			o.logger.Warn("playback failed", "error", err)
			o.metrics.ProviderError("player", "playback")
		}
		return
	}

	if o.fallback == nil || !o.fallback.Available() {
		o.logger.Warn("no speech synthesizer available", "reason", reason)
		return
	}
	o.metrics.Fallback(providerFallback, reason)
	o.logger.Info("using on-device synthesizer", "language", language, "reason", reason)
	o.setSpeaking(g, true)
	if err := o.fallback.Speak(ctx, text, language); err != nil && ctx.Err() == nil {
		o.logger.Warn("on-device synthesis failed", "error", err)
		o.metrics.ProviderError(providerFallback, "synthesis")
	}
}

// synthesizeRemote returns decoded audio, or nil plus the reason the fallback should run.
func (o *Output) synthesizeRemote(ctx context.Context, text string) ([]byte, string) {
	if o.remote == nil || o.player == nil {
		return nil, "remote_disabled"
	}
	reqCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	resp, err := o.remote.Synthesize(reqCtx, voiceapi.TTSRequest{
		Text:     text,
		Language: o.cfg.Locale,
		Voice:    o.cfg.Voice,
	})
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("remote synthesis failed", "error", fmt.Errorf("%w: %v", voice.ErrProviderUnavailable, err))
			o.metrics.ProviderError(providerRemote, "request")
		}
		return nil, "request_failed"
	}
	if strings.TrimSpace(resp.Audio) == "" {
		return nil, "empty_audio"
	}
	clip, err := base64.StdEncoding.DecodeString(strings.TrimSpace(resp.Audio))
	if err != nil || len(clip) == 0 {
		o.logger.Warn("remote synthesis returned undecodable audio", "error", err)
		return nil, "decode_failed"
	}
	return clip, ""
}

// Stop cancels the current utterance immediately.
func (o *Output) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.gen++
	o.cancel = nil
	wasSpeaking := o.speaking
	o.speaking = false
	hook := o.hook
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasSpeaking && hook != nil {
		hook(false)
	}
}

// Wait blocks until every background utterance has returned.
func (o *Output) Wait() {
	o.wg.Wait()
}

func (o *Output) setSpeaking(g uint64, speaking bool) {
	o.mu.Lock()
	if o.gen != g || o.speaking == speaking {
		o.mu.Unlock()
		return
	}
	o.speaking = speaking
	hook := o.hook
	o.mu.Unlock()
	if hook != nil {
		hook(speaking)
	}
}

func (o *Output) finish(g uint64) {
	o.mu.Lock()
	if o.gen == g {
		o.cancel = nil
	}
	o.mu.Unlock()
	o.setSpeaking(g, false)
}
