package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DeviceModeAuto   = "auto"
	DeviceModeNative = "native"
	DeviceModeMock   = "mock"
)

// Config contains all runtime settings for the voice session service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	VoiceAPIBaseURL      string
	VoiceRequestTimeout  time.Duration
	VoiceRecordingMax    time.Duration
	VoiceDefaultLanguage string
	VoiceDefaultVoice    string
	VoiceTTSVoice        string
	VoiceTTSLocale       string
	VoiceSTUNURLs        []string
	VoiceDeviceMode      string

	LocalWhisperCLI       string
	LocalWhisperModelPath string
	LocalWhisperThreads   int
	LocalEspeakCLI        string

	LogLevel string
	LogDir   string
}

// LoadEnvFile exports the variables of a dotenv file without overriding the
// environment. A missing file is not an error unless required is set.
func LoadEnvFile(path string, required bool) error {
	path = trimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", "127.0.0.1:8090"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "veritalk"),
		AllowAnyOrigin:       false,
		VoiceAPIBaseURL:      envOrDefault("VOICE_API_BASE_URL", "http://localhost:8001/api/voice"),
		VoiceDefaultLanguage: stringsTrimSpace("VOICE_DEFAULT_LANGUAGE"),
		VoiceDefaultVoice:    envOrDefault("VOICE_DEFAULT_VOICE", "meera"),
		// Remote synthesis always uses this voice and locale, whatever the session language.
		VoiceTTSVoice:         envOrDefault("VOICE_TTS_VOICE", "anushka"),
		VoiceTTSLocale:        envOrDefault("VOICE_TTS_LOCALE", "en-IN"),
		VoiceSTUNURLs:         splitList(envOrDefault("VOICE_STUN_URLS", "stun:stun.l.google.com:19302")),
		VoiceDeviceMode:       strings.ToLower(envOrDefault("VOICE_DEVICE_MODE", DeviceModeAuto)),
		LocalWhisperCLI:       envOrDefault("LOCAL_WHISPER_CLI", "whisper-cli"),
		LocalWhisperModelPath: envOrDefault("LOCAL_WHISPER_MODEL_PATH", ".models/whisper/ggml-base.bin"),
		// 0 means "auto" (picked based on CPU count).
		LocalWhisperThreads: 0,
		LocalEspeakCLI:      envOrDefault("LOCAL_ESPEAK_CLI", "espeak-ng"),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		LogDir:              stringsTrimSpace("LOG_DIR"),
		ShutdownTimeout:     15 * time.Second,
		VoiceRequestTimeout: 15 * time.Second,
		VoiceRecordingMax:   30 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceRequestTimeout, err = durationFromEnv("VOICE_REQUEST_TIMEOUT", cfg.VoiceRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceRecordingMax, err = durationFromEnv("VOICE_RECORDING_MAX", cfg.VoiceRecordingMax)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LocalWhisperThreads, err = intFromEnv("LOCAL_WHISPER_THREADS", cfg.LocalWhisperThreads)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that may also have been overridden by flags.
func (c Config) Validate() error {
	u, err := url.Parse(c.VoiceAPIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("VOICE_API_BASE_URL must be an absolute http(s) URL")
	}
	if c.VoiceRequestTimeout <= 0 {
		return fmt.Errorf("VOICE_REQUEST_TIMEOUT must be positive")
	}
	if c.VoiceRecordingMax < time.Second {
		return fmt.Errorf("VOICE_RECORDING_MAX must be at least 1s")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	switch c.VoiceDeviceMode {
	case DeviceModeAuto, DeviceModeNative, DeviceModeMock:
	default:
		return fmt.Errorf("VOICE_DEVICE_MODE must be one of auto, native, mock")
	}
	if len(c.VoiceSTUNURLs) == 0 {
		return fmt.Errorf("VOICE_STUN_URLS must list at least one server")
	}
	for _, s := range c.VoiceSTUNURLs {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") && !strings.HasPrefix(s, "turn:") {
			return fmt.Errorf("VOICE_STUN_URLS entry %q must be a stun: or turn: URL", s)
		}
	}
	if c.LocalWhisperThreads < 0 {
		return fmt.Errorf("LOCAL_WHISPER_THREADS must be >= 0")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := trimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
