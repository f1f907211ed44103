package voice

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied       = errors.New("microphone permission denied")
	ErrNotConnected           = errors.New("not connected")
	ErrAlreadyInProgress      = errors.New("already in progress")
	ErrProviderUnavailable    = errors.New("speech provider unavailable")
	ErrRecognitionUnsupported = errors.New("speech recognition unsupported")
	ErrNetwork                = errors.New("network error")
)

// ErrAlreadyListening is returned when a recording is started while another is active.
var ErrAlreadyListening = fmt.Errorf("already listening: %w", ErrAlreadyInProgress)
