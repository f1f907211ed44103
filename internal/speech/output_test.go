package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/veritalk/internal/voice"
	"github.com/antoniostano/veritalk/internal/voiceapi"
)

type stubSynthesizer struct {
	mu    sync.Mutex
	reqs  []voiceapi.TTSRequest
	audio func(text string) (string, error)
}

func (s *stubSynthesizer) Synthesize(_ context.Context, req voiceapi.TTSRequest) (voiceapi.TTSResponse, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	audio, err := s.audio(req.Text)
	return voiceapi.TTSResponse{Audio: audio}, err
}

// blockingPlayer plays clips named "long" until cancelled and everything else instantly.
type blockingPlayer struct {
	mu        sync.Mutex
	started   chan string
	completed []string
	cancelled []string
}

func newBlockingPlayer() *blockingPlayer {
	return &blockingPlayer{started: make(chan string, 8)}
}

func (p *blockingPlayer) Play(ctx context.Context, clip []byte) error {
	name := string(clip)
	p.started <- name
	if name == "long" {
		<-ctx.Done()
		p.mu.Lock()
		p.cancelled = append(p.cancelled, name)
		p.mu.Unlock()
		return ctx.Err()
	}
	p.mu.Lock()
	p.completed = append(p.completed, name)
	p.mu.Unlock()
	return nil
}

type unavailableSynthesizer struct{ calls int }

func (u *unavailableSynthesizer) Available() bool { return false }
func (u *unavailableSynthesizer) Speak(context.Context, string, string) error {
	u.calls++
	return errors.New("unavailable")
}

type transitions struct {
	mu  sync.Mutex
	got []bool
}

func (tr *transitions) hook(speaking bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, speaking)
}

func (tr *transitions) all() []bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]bool(nil), tr.got...)
}

func encoded(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestSpeakPlaysRemoteAudio(t *testing.T) {
	remote := &stubSynthesizer{audio: func(string) (string, error) { return encoded("short"), nil }}
	player := newBlockingPlayer()
	fallback := voice.NewMockSynthesizer()
	out := New(Config{}, remote, player, fallback, nil, nil)
	var tr transitions
	out.SetStateHook(tr.hook)

	var playedClip []byte
	out.Speak(context.Background(), "नमस्ते! मैं आपकी कैसे मदद कर सकता हूँ?", "hi-IN", func(clip []byte) {
		playedClip = clip
	})
	out.Wait()

	if string(playedClip) != "short" {
		t.Fatalf("played clip = %q, want the decoded remote audio", playedClip)
	}

	if got := tr.all(); len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("transitions = %v, want [true false]", got)
	}
	if out.Speaking() {
		t.Fatalf("Speaking() = true after playback")
	}
	if fallback.Calls() != 0 {
		t.Fatalf("fallback calls = %d, want 0", fallback.Calls())
	}
	if len(remote.reqs) != 1 || remote.reqs[0].Voice != DefaultVoice || remote.reqs[0].Language != DefaultLocale {
		t.Fatalf("remote requests = %+v, want fixed voice/locale", remote.reqs)
	}
}

func TestSpeakEmptyAudioUsesFallbackOnce(t *testing.T) {
	remote := &stubSynthesizer{audio: func(string) (string, error) { return "", nil }}
	player := newBlockingPlayer()
	fallback := voice.NewMockSynthesizer()
	out := New(Config{}, remote, player, fallback, nil, nil)
	var tr transitions
	out.SetStateHook(tr.hook)

	played := false
	out.Speak(context.Background(), "hello", "hi-IN", func([]byte) { played = true })
	out.Wait()

	if played {
		t.Fatalf("played callback ran for on-device speech")
	}
	if fallback.Calls() != 1 {
		t.Fatalf("fallback calls = %d, want 1", fallback.Calls())
	}
	if len(player.started) != 0 {
		t.Fatalf("player was used for empty audio")
	}
	if got := tr.all(); len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("transitions = %v, want [true false]", got)
	}
}

func TestSpeakRemoteErrorWithoutFallbackNeverSpeaks(t *testing.T) {
	remote := &stubSynthesizer{audio: func(string) (string, error) { return "", voice.ErrNetwork }}
	fallback := &unavailableSynthesizer{}
	out := New(Config{}, remote, newBlockingPlayer(), fallback, nil, nil)
	var tr transitions
	out.SetStateHook(tr.hook)

	out.Speak(context.Background(), "hello", "en-IN", nil)
	out.Wait()

	if got := tr.all(); len(got) != 0 {
		t.Fatalf("transitions = %v, want none", got)
	}
	if fallback.calls != 0 {
		t.Fatalf("unavailable synthesizer was called")
	}
}

func TestSpeakUndecodableAudioFallsBack(t *testing.T) {
	remote := &stubSynthesizer{audio: func(string) (string, error) { return "%%%not-base64", nil }}
	fallback := voice.NewMockSynthesizer()
	out := New(Config{}, remote, newBlockingPlayer(), fallback, nil, nil)

	out.Speak(context.Background(), "hello", "en-IN", nil)
	out.Wait()

	if fallback.Calls() != 1 {
		t.Fatalf("fallback calls = %d, want 1", fallback.Calls())
	}
}

func TestSpeakSupersedesCurrentUtterance(t *testing.T) {
	remote := &stubSynthesizer{audio: func(text string) (string, error) { return encoded(text), nil }}
	player := newBlockingPlayer()
	out := New(Config{}, remote, player, voice.NewMockSynthesizer(), nil, nil)
	var tr transitions
	out.SetStateHook(tr.hook)

	out.Speak(context.Background(), "long", "en-IN", nil)
	if name := <-player.started; name != "long" {
		t.Fatalf("first clip = %q, want long", name)
	}
	if !out.Speaking() {
		t.Fatalf("Speaking() = false during playback")
	}

	out.Speak(context.Background(), "short", "en-IN", nil)
	out.Wait()

	player.mu.Lock()
	defer player.mu.Unlock()
	if len(player.cancelled) != 1 || player.cancelled[0] != "long" {
		t.Fatalf("cancelled = %v, want [long]", player.cancelled)
	}
	if len(player.completed) != 1 || player.completed[0] != "short" {
		t.Fatalf("completed = %v, want [short]", player.completed)
	}
	if got := tr.all(); len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("transitions = %v, want [true false]", got)
	}
}

func TestStopCancelsPlayback(t *testing.T) {
	remote := &stubSynthesizer{audio: func(text string) (string, error) { return encoded(text), nil }}
	player := newBlockingPlayer()
	out := New(Config{}, remote, player, nil, nil, nil)

	out.Speak(context.Background(), "long", "en-IN", nil)
	<-player.started
	out.Stop()
	if out.Speaking() {
		t.Fatalf("Speaking() = true after Stop")
	}

	done := make(chan struct{})
	go func() {
		out.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("utterance did not stop")
	}
	if len(player.cancelled) != 1 {
		t.Fatalf("cancelled = %v, want one clip", player.cancelled)
	}
}

func TestSpeakIgnoresBlankText(t *testing.T) {
	remote := &stubSynthesizer{audio: func(string) (string, error) { return encoded("x"), nil }}
	out := New(Config{}, remote, newBlockingPlayer(), nil, nil, nil)
	out.Speak(context.Background(), "   ", "en-IN", nil)
	out.Wait()
	if len(remote.reqs) != 0 {
		t.Fatalf("remote called for blank text")
	}
}
