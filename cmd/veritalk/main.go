package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/veritalk/internal/capture"
	"github.com/antoniostano/veritalk/internal/config"
	"github.com/antoniostano/veritalk/internal/device"
	"github.com/antoniostano/veritalk/internal/httpapi"
	"github.com/antoniostano/veritalk/internal/logging"
	"github.com/antoniostano/veritalk/internal/observability"
	"github.com/antoniostano/veritalk/internal/session"
	"github.com/antoniostano/veritalk/internal/speech"
	"github.com/antoniostano/veritalk/internal/transport"
	"github.com/antoniostano/veritalk/internal/voice"
	"github.com/antoniostano/veritalk/internal/voiceapi"
)

func main() {
	envFile := cli.StringP("env-file", "e", ".env", "dotenv file to load before reading the environment")
	bind := cli.StringP("bind", "b", "", "listen address (overrides APP_BIND_ADDR)")
	apiURL := cli.String("api", "", "voice backend base URL (overrides VOICE_API_BASE_URL)")
	deviceMode := cli.String("device-mode", "", "audio devices: auto, native or mock (overrides VOICE_DEVICE_MODE)")
	language := cli.StringP("language", "l", "", "default conversation language, en-IN or hi-IN")
	logLevel := cli.String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	cli.Parse()

	envExplicit := cli.CommandLine.Changed("env-file")
	if err := config.LoadEnvFile(*envFile, envExplicit); err != nil {
		log.Fatalf("env file error: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	applyFlag(&cfg.BindAddr, *bind)
	applyFlag(&cfg.VoiceAPIBaseURL, *apiURL)
	applyFlag(&cfg.VoiceDeviceMode, strings.ToLower(*deviceMode))
	applyFlag(&cfg.VoiceDefaultLanguage, *language)
	applyFlag(&cfg.LogLevel, *logLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, logCloser, err := logging.New(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		log.Fatalf("logging init failed: %v", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	client := voiceapi.NewClient(cfg.VoiceAPIBaseURL, cfg.VoiceRequestTimeout)

	devs, closeDevices, err := openDevices(cfg, logger)
	if err != nil {
		log.Fatalf("audio devices init failed: %v", err)
	}
	defer closeDevices()

	tr := transport.New(transport.Config{
		ICEServers:         cfg.VoiceSTUNURLs,
		NegotiationTimeout: cfg.VoiceRequestTimeout,
	}, devs.source, client, logger.With("component", "transport"), metrics)

	cp := capture.New(capture.Config{
		MaxDuration:    cfg.VoiceRecordingMax,
		RequestTimeout: cfg.VoiceRequestTimeout,
	}, devs.source, client, devs.recognizer, logger.With("component", "capture"), metrics)

	out := speech.New(speech.Config{
		Voice:          cfg.VoiceTTSVoice,
		Locale:         cfg.VoiceTTSLocale,
		RequestTimeout: cfg.VoiceRequestTimeout,
	}, client, devs.player, devs.synthesizer, logger.With("component", "speech"), metrics)

	ctrl := session.NewController(session.Config{
		Language:       cfg.VoiceDefaultLanguage,
		Voice:          cfg.VoiceDefaultVoice,
		RequestTimeout: cfg.VoiceRequestTimeout,
	}, client, tr, cp, out, logger.With("component", "session"), metrics)

	logger.Info("voice backend",
		"url", client.BaseURL(),
		"device_mode", devs.mode,
		"language", ctrl.Snapshot().Language,
		"local_stt", devs.recognizer.Available(),
		"local_tts", devs.synthesizer.Available(),
	)
	logKeyStatus(ctrl, logger, cfg.VoiceRequestTimeout)

	api := httpapi.New(cfg, ctrl, metrics, logger.With("component", "httpapi"))
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("veritalk listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := ctrl.End(shutdownCtx); err != nil && !errors.Is(err, voice.ErrNotConnected) {
			logger.Warn("end session on shutdown", "err", err)
		}
		err := httpServer.Shutdown(shutdownCtx)
		ctrl.Wait()
		cp.Wait()
		out.Wait()
		tr.Wait()
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func applyFlag(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

type devices struct {
	mode        string
	source      voice.AudioDeviceSource
	player      voice.Player
	recognizer  voice.SpeechToTextEngine
	synthesizer voice.TextToSpeechEngine
}

// openDevices picks native PortAudio devices or in-memory mocks. In auto mode a
// PortAudio init failure falls back to mocks so the service stays usable for text.
func openDevices(cfg config.Config, logger *slog.Logger) (devices, func(), error) {
	mock := func() (devices, func(), error) {
		return devices{
			mode:        config.DeviceModeMock,
			source:      voice.NewMockDevice(),
			player:      voice.NewMockPlayer(),
			recognizer:  voice.NewMockRecognizer(),
			synthesizer: voice.NewMockSynthesizer(),
		}, func() {}, nil
	}

	if cfg.VoiceDeviceMode == config.DeviceModeMock {
		return mock()
	}

	pa := device.NewPortAudioSource()
	if err := pa.Init(); err != nil {
		if cfg.VoiceDeviceMode == config.DeviceModeNative {
			return devices{}, nil, err
		}
		logger.Warn("portaudio unavailable, using mock audio devices", "err", err)
		return mock()
	}

	whisper := device.NewWhisperRecognizer(pa, cfg.LocalWhisperCLI, cfg.LocalWhisperModelPath, cfg.LocalWhisperThreads)
	if !whisper.Available() {
		logger.Warn("local speech recognition unavailable", "cli", cfg.LocalWhisperCLI, "model", cfg.LocalWhisperModelPath)
	}
	espeak := device.NewEspeakSynthesizer(cfg.LocalEspeakCLI)
	if !espeak.Available() {
		logger.Warn("local speech synthesis unavailable", "cli", cfg.LocalEspeakCLI)
	}
	closer := func() {
		if err := pa.Close(); err != nil {
			logger.Warn("portaudio terminate", "err", err)
		}
	}
	return devices{
		mode:        config.DeviceModeNative,
		source:      pa,
		player:      device.NewSpeakerPlayer(),
		recognizer:  whisper,
		synthesizer: espeak,
	}, closer, nil
}

func logKeyStatus(ctrl *session.Controller, logger *slog.Logger, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	status, err := ctrl.KeyStatus(ctx)
	if err != nil {
		logger.Warn("voice backend key status unavailable", "err", err)
		return
	}
	logger.Info("voice backend keys", "status", status)
}
