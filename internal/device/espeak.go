package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/text/language"
)

// EspeakSynthesizer speaks through the espeak-ng command line tool.
type EspeakSynthesizer struct {
	path string
}

// NewEspeakSynthesizer resolves cli on PATH. The synthesizer reports itself unavailable
// when the binary is missing.
func NewEspeakSynthesizer(cli string) *EspeakSynthesizer {
	cli = strings.TrimSpace(cli)
	if cli == "" {
		cli = "espeak-ng"
	}
	path, err := exec.LookPath(cli)
	if err != nil {
		return &EspeakSynthesizer{}
	}
	return &EspeakSynthesizer{path: path}
}

func (e *EspeakSynthesizer) Available() bool { return e != nil && e.path != "" }

func (e *EspeakSynthesizer) Speak(ctx context.Context, text, lang string) error {
	if !e.Available() {
		return errors.New("espeak-ng not available")
	}
	cmd := exec.CommandContext(ctx, e.path, "-v", espeakVoice(lang), "--", text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("espeak-ng failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// espeakVoice maps a BCP-47 tag to the espeak voice for its base language.
func espeakVoice(lang string) string {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return "en"
	}
	base, _ := tag.Base()
	return base.String()
}
