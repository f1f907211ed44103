package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:8090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, "127.0.0.1:8090")
	}
	if cfg.VoiceAPIBaseURL != "http://localhost:8001/api/voice" {
		t.Fatalf("VoiceAPIBaseURL = %q", cfg.VoiceAPIBaseURL)
	}
	if cfg.VoiceRequestTimeout != 15*time.Second || cfg.VoiceRecordingMax != 30*time.Second {
		t.Fatalf("timeouts = %v/%v", cfg.VoiceRequestTimeout, cfg.VoiceRecordingMax)
	}
	if cfg.VoiceDefaultVoice != "meera" || cfg.VoiceTTSVoice != "anushka" || cfg.VoiceTTSLocale != "en-IN" {
		t.Fatalf("voices = %q/%q/%q", cfg.VoiceDefaultVoice, cfg.VoiceTTSVoice, cfg.VoiceTTSLocale)
	}
	if len(cfg.VoiceSTUNURLs) != 1 || cfg.VoiceSTUNURLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("VoiceSTUNURLs = %v", cfg.VoiceSTUNURLs)
	}
	if cfg.VoiceDeviceMode != DeviceModeAuto {
		t.Fatalf("VoiceDeviceMode = %q, want %q", cfg.VoiceDeviceMode, DeviceModeAuto)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_STUN_URLS", " stun:a.example:3478 , ,turn:b.example:3478")
	t.Setenv("VOICE_DEVICE_MODE", "MOCK")
	t.Setenv("VOICE_RECORDING_MAX", "10s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.VoiceSTUNURLs) != 2 || cfg.VoiceSTUNURLs[1] != "turn:b.example:3478" {
		t.Fatalf("VoiceSTUNURLs = %v", cfg.VoiceSTUNURLs)
	}
	if cfg.VoiceDeviceMode != DeviceModeMock || cfg.VoiceRecordingMax != 10*time.Second || !cfg.AllowAnyOrigin {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"VOICE_API_BASE_URL":    "localhost:8001",
		"VOICE_REQUEST_TIMEOUT": "soon",
		"VOICE_RECORDING_MAX":   "100ms",
		"VOICE_DEVICE_MODE":     "alsa",
		"VOICE_STUN_URLS":       "http://stun.example",
		"APP_ALLOW_ANY_ORIGIN":  "maybe",
		"LOCAL_WHISPER_THREADS": "-1",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q should fail", key, value)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("VOICE_DEFAULT_LANGUAGE=hi-IN\nAPP_BIND_ADDR=127.0.0.1:9999\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	// Already-set variables win over the file.
	t.Setenv("APP_BIND_ADDR", "127.0.0.1:7000")
	os.Unsetenv("VOICE_DEFAULT_LANGUAGE")

	if err := LoadEnvFile(path, true); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VoiceDefaultLanguage != "hi-IN" {
		t.Fatalf("VoiceDefaultLanguage = %q, want hi-IN", cfg.VoiceDefaultLanguage)
	}
	if cfg.BindAddr != "127.0.0.1:7000" {
		t.Fatalf("BindAddr = %q, want environment value", cfg.BindAddr)
	}

	missing := filepath.Join(t.TempDir(), "missing.env")
	if err := LoadEnvFile(missing, false); err != nil {
		t.Fatalf("LoadEnvFile(optional) error = %v", err)
	}
	if err := LoadEnvFile(missing, true); err == nil {
		t.Fatalf("LoadEnvFile(required) should fail for a missing file")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"VOICE_API_BASE_URL",
		"VOICE_REQUEST_TIMEOUT",
		"VOICE_RECORDING_MAX",
		"VOICE_DEFAULT_LANGUAGE",
		"VOICE_DEFAULT_VOICE",
		"VOICE_TTS_VOICE",
		"VOICE_TTS_LOCALE",
		"VOICE_STUN_URLS",
		"VOICE_DEVICE_MODE",
		"LOCAL_WHISPER_CLI",
		"LOCAL_WHISPER_MODEL_PATH",
		"LOCAL_WHISPER_THREADS",
		"LOCAL_ESPEAK_CLI",
		"LOG_LEVEL",
		"LOG_DIR",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
