package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/veritalk/internal/audio"
	"github.com/antoniostano/veritalk/internal/voice"
)

const (
	whisperSampleRate = 16000
	silenceRMS        = 0.015
	silenceHold       = 600 * time.Millisecond
	maxUtterance      = 10 * time.Second
)

// WhisperRecognizer listens for one utterance on the microphone and transcribes it
// with the whisper.cpp CLI.
type WhisperRecognizer struct {
	devices   voice.AudioDeviceSource
	cliPath   string
	modelPath string
	threads   int
	maxLength time.Duration
}

// NewWhisperRecognizer resolves the CLI and model. A recognizer with a missing CLI or
// model reports itself unavailable.
func NewWhisperRecognizer(devices voice.AudioDeviceSource, cli, modelPath string, threads int) *WhisperRecognizer {
	w := &WhisperRecognizer{devices: devices, threads: threads, maxLength: maxUtterance}
	cli = strings.TrimSpace(cli)
	if cli == "" {
		cli = "whisper-cli"
	}
	if path, err := exec.LookPath(cli); err == nil {
		w.cliPath = path
	}
	modelPath = strings.TrimSpace(modelPath)
	if modelPath != "" && !filepath.IsAbs(modelPath) {
		if wd, err := os.Getwd(); err == nil {
			modelPath = filepath.Join(wd, modelPath)
		}
	}
	if _, err := os.Stat(modelPath); err == nil {
		w.modelPath = modelPath
	}
	if w.threads <= 0 {
		w.threads = min(max(runtime.NumCPU(), 2), 8)
	}
	return w
}

func (w *WhisperRecognizer) Available() bool {
	return w != nil && w.devices != nil && w.cliPath != "" && w.modelPath != ""
}

func (w *WhisperRecognizer) Recognize(ctx context.Context, lang string) (string, error) {
	if !w.Available() {
		return "", voice.ErrRecognitionUnsupported
	}
	samples, err := w.listen(ctx)
	if err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "", nil
	}
	return w.transcribe(ctx, samples, espeakVoice(lang))
}

// listen records until the speaker has been silent for a moment after talking.
func (w *WhisperRecognizer) listen(ctx context.Context) ([]int16, error) {
	stream, err := w.devices.OpenMicrophone(ctx, voice.StreamOptions{
		SampleRate:       whisperSampleRate,
		Channels:         1,
		NoiseSuppression: true,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	format := stream.Format()
	deadline := time.Now().Add(w.maxLength)
	var (
		out      []int16
		speaking bool
		silence  time.Duration
	)
	for time.Now().Before(deadline) {
		frame, err := stream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			break
		}
		frame = audio.Downmix(frame, format.Channels)
		frameDur := time.Duration(len(frame)) * time.Second / time.Duration(format.SampleRate)
		if audio.RMS(frame) > silenceRMS {
			speaking = true
			silence = 0
			out = append(out, frame...)
			continue
		}
		if speaking {
			out = append(out, frame...)
			silence += frameDur
			if silence >= silenceHold {
				break
			}
		}
	}
	if !speaking {
		return nil, nil
	}
	return audio.Resample(out, format.SampleRate, whisperSampleRate), nil
}

func (w *WhisperRecognizer) transcribe(ctx context.Context, samples []int16, lang string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "veritalk-whisper-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "audio.wav")
	if err := audio.WriteWAVFile(wavPath, samples, whisperSampleRate, 1); err != nil {
		return "", err
	}
	outPrefix := filepath.Join(tmpDir, "out")

	args := []string{
		"-m", w.modelPath,
		"-f", wavPath,
		"-l", lang,
		"-otxt",
		"-of", outPrefix,
		"-nt",
		"-t", strconv.Itoa(w.threads),
	}
	cmd := exec.CommandContext(ctx, w.cliPath, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", context.Canceled
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 4<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(4<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("whisper.cpp failed: %s", detail)
	}

	b, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
