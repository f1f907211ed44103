package voice

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockDeviceTracksOpenStreams(t *testing.T) {
	d := NewMockDevice()
	s, err := d.OpenMicrophone(context.Background(), StreamOptions{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("OpenMicrophone() error = %v", err)
	}
	frame, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(frame) != 320 {
		t.Fatalf("frame len = %d, want 320", len(frame))
	}
	if d.Active() != 1 {
		t.Fatalf("Active() = %d, want 1", d.Active())
	}

	_ = s.Close()
	_ = s.Close()
	if d.Active() != 0 {
		t.Fatalf("Active() after close = %d, want 0", d.Active())
	}
	if _, err := s.Read(context.Background()); err == nil {
		t.Fatalf("Read() after close expected error")
	}
}

func TestMockDeviceDeny(t *testing.T) {
	d := &MockDevice{Deny: true}
	_, err := d.OpenMicrophone(context.Background(), StreamOptions{})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("OpenMicrophone() error = %v, want ErrPermissionDenied", err)
	}
	if d.Opened() != 0 {
		t.Fatalf("Opened() = %d, want 0", d.Opened())
	}
}

func TestMockSynthesizerHonoursCancel(t *testing.T) {
	s := &MockSynthesizer{PerRune: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Speak(ctx, "a long sentence", "en-IN")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Speak() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Speak() did not return promptly after cancel")
	}
}

func TestAlreadyListeningWrapsAlreadyInProgress(t *testing.T) {
	if !errors.Is(ErrAlreadyListening, ErrAlreadyInProgress) {
		t.Fatalf("ErrAlreadyListening should wrap ErrAlreadyInProgress")
	}
}
