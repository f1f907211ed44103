package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/veritalk/internal/capture"
	"github.com/antoniostano/veritalk/internal/logging"
	"github.com/antoniostano/veritalk/internal/observability"
	"github.com/antoniostano/veritalk/internal/transport"
	"github.com/antoniostano/veritalk/internal/voice"
	"github.com/antoniostano/veritalk/internal/voiceapi"
)

const (
	noResponseText = "No response received"
	eventBuffer    = 64
	releaseTimeout = 5 * time.Second
)

var (
	ErrEmptyText           = errors.New("message text is empty")
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Backend is the remote voice backend.
type Backend interface {
	CreateSession(ctx context.Context, req voiceapi.CreateSessionRequest) (voiceapi.CreateSessionResponse, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SendText(ctx context.Context, req voiceapi.TextRequest) (voiceapi.TextResponse, error)
	SetResults(ctx context.Context, req voiceapi.ResultsRequest) error
	KeyStatus(ctx context.Context) (voiceapi.KeyStatus, error)
}

type Transport interface {
	Connect(ctx context.Context, sessionID string) error
	Disconnect()
	State() transport.State
	SetStateHook(hook func(transport.State))
}

type Capture interface {
	Start(ctx context.Context, sessionID, language string) error
	Stop()
	ForceStop()
	State() capture.State
	SetStateHook(hook func(capture.State))
	SetTranscriptSink(sink func(ctx context.Context, text string))
	SetErrorHook(hook func(error))
}

type Output interface {
	Speak(ctx context.Context, text, language string, played func(clip []byte))
	Stop()
	Speaking() bool
	SetStateHook(hook func(speaking bool))
}

type Config struct {
	Language       string
	Voice          string
	RequestTimeout time.Duration
}

// Controller runs one voice conversation at a time on top of the transport, capture
// and speech output components.
type Controller struct {
	backend   Backend
	transport Transport
	capture   Capture
	output    Output
	logger    *slog.Logger
	metrics   *observability.Metrics
	timeout   time.Duration
	voice     string

	mu            sync.Mutex
	status        Status
	sessionID     string
	language      string
	sessionVoice  string
	messages      []Message
	seq           int
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	// sendMu serializes sends so replies land in the order they were issued.
	sendMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSub     int

	wg sync.WaitGroup
}

func NewController(cfg Config, backend Backend, tr Transport, cp Capture, out Output, logger *slog.Logger, metrics *observability.Metrics) *Controller {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = DefaultVoice
	}
	c := &Controller{
		backend:     backend,
		transport:   tr,
		capture:     cp,
		output:      out,
		logger:      logging.OrDiscard(logger),
		metrics:     metrics,
		timeout:     cfg.RequestTimeout,
		voice:       cfg.Voice,
		status:      StatusIdle,
		language:    ResolveLanguage(cfg.Language),
		subscribers: make(map[int]chan Event),
	}
	tr.SetStateHook(c.onTransportState)
	cp.SetStateHook(c.onCaptureState)
	cp.SetTranscriptSink(c.onTranscript)
	cp.SetErrorHook(c.onComponentError)
	out.SetStateHook(c.onSpeaking)
	return c
}

// Start opens a backend session and connects the audio transport. When only the
// transport fails the session stays active for text conversation and the transport
// error is returned.
func (c *Controller) Start(ctx context.Context, language, voiceID string) (Snapshot, error) {
	c.mu.Lock()
	if c.status != StatusIdle {
		status := c.status
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("start session while %s: %w", status, voice.ErrAlreadyInProgress)
	}
	lang := c.language
	if strings.TrimSpace(language) != "" {
		matched, ok := MatchLanguage(language)
		if !ok {
			c.mu.Unlock()
			return Snapshot{}, fmt.Errorf("%w %q", ErrUnsupportedLanguage, language)
		}
		lang = matched
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		voiceID = c.voice
	}
	c.status = StatusStarting
	c.mu.Unlock()
	c.metrics.SessionEvent("start")
	c.emitState()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	resp, err := c.backend.CreateSession(reqCtx, voiceapi.CreateSessionRequest{Language: lang, Voice: voiceID})
	cancel()
	if err != nil {
		c.mu.Lock()
		c.status = StatusIdle
		c.mu.Unlock()
		c.metrics.SessionEvent("start_failed")
		c.emitState()
		return c.Snapshot(), fmt.Errorf("create session: %w", asNetworkError(err))
	}

	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.status = StatusActive
	c.sessionID = resp.SessionID
	c.language = lang
	c.sessionVoice = voiceID
	c.messages = nil
	c.seq = 0
	c.sessionCtx = sessionCtx
	c.sessionCancel = sessionCancel
	c.mu.Unlock()
	c.metrics.SetSessionActive(true)
	c.logger.Info("session started", "session_id", resp.SessionID, "language", lang, "voice", voiceID)
	c.emitState()

	if err := c.transport.Connect(ctx, resp.SessionID); err != nil {
		c.logger.Warn("audio transport unavailable, continuing text-only", "session_id", resp.SessionID, "error", err)
		c.emitError(err)
		return c.Snapshot(), fmt.Errorf("connect audio: %w", err)
	}
	return c.Snapshot(), nil
}

// Send appends text as a user message, asks the assistant for a reply and speaks it.
// The user message stays in the history when the request fails.
func (c *Controller) Send(ctx context.Context, text string, extra map[string]any) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyText
	}
	if _, _, err := c.activeSession(); err != nil {
		return Message{}, err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	sessionID, sessionCtx, err := c.activeSession()
	if err != nil {
		return Message{}, err
	}
	if _, err := c.appendMessage(sessionID, RoleUser, text); err != nil {
		return Message{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	stop := context.AfterFunc(sessionCtx, cancel)
	defer stop()

	started := time.Now()
	resp, err := c.backend.SendText(reqCtx, voiceapi.TextRequest{SessionID: sessionID, Text: text, Context: extra})
	if err != nil {
		if sessionCtx.Err() != nil {
			return Message{}, fmt.Errorf("send text: %w", voice.ErrNotConnected)
		}
		c.metrics.ProviderError("assistant", "request")
		return Message{}, fmt.Errorf("send text: %w", asNetworkError(err))
	}
	c.metrics.ObserveReplyLatency(time.Since(started))

	reply := strings.TrimSpace(resp.Text)
	if reply == "" {
		reply = noResponseText
	}
	msg, err := c.appendMessage(sessionID, RoleAssistant, reply)
	if err != nil {
		return Message{}, err
	}

	c.mu.Lock()
	lang := c.language
	c.mu.Unlock()
	c.output.Speak(sessionCtx, reply, lang, func(clip []byte) {
		c.attachAudio(sessionID, msg.ID, clip)
	})
	return msg, nil
}

// attachAudio records the played clip on the message it voiced. The speaking
// transition that follows publishes the change.
func (c *Controller) attachAudio(sessionID, messageID string, clip []byte) {
	ref := &AudioRef{MimeType: http.DetectContentType(clip), Size: len(clip)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessionID {
		return
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == messageID {
			c.messages[i].Audio = ref
			return
		}
	}
}

// End tears down speech, capture and transport, releases the backend session in the
// background and clears the history.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusActive && c.status != StatusEnding {
		c.mu.Unlock()
		return fmt.Errorf("end session: %w", voice.ErrNotConnected)
	}
	c.status = StatusEnding
	sessionID := c.sessionID
	cancel := c.sessionCancel
	c.sessionCancel = nil
	c.mu.Unlock()
	c.emitState()

	if cancel != nil {
		cancel()
	}
	c.output.Stop()
	c.capture.ForceStop()
	c.transport.Disconnect()

	if sessionID != "" {
		c.wg.Add(1)
		go c.release(context.WithoutCancel(ctx), sessionID)
	}

	c.mu.Lock()
	c.status = StatusIdle
	c.sessionID = ""
	c.sessionVoice = ""
	c.messages = nil
	c.seq = 0
	c.sessionCtx = nil
	c.mu.Unlock()
	c.metrics.SetSessionActive(false)
	c.metrics.SessionEvent("end")
	c.logger.Info("session ended", "session_id", sessionID)
	c.emitState()
	return nil
}

func (c *Controller) release(ctx context.Context, sessionID string) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, releaseTimeout)
	defer cancel()
	if err := c.backend.DeleteSession(ctx, sessionID); err != nil {
		c.logger.Warn("release session failed", "session_id", sessionID, "error", err)
	}
}

// StartListening begins recording one utterance. It needs an active session with a
// connected transport.
func (c *Controller) StartListening(ctx context.Context) error {
	sessionID, _, err := c.activeSession()
	if err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	if c.transport.State() != transport.StateConnected {
		return fmt.Errorf("start listening: transport %s: %w", c.transport.State(), voice.ErrNotConnected)
	}
	c.mu.Lock()
	lang := c.language
	c.mu.Unlock()
	return c.capture.Start(ctx, sessionID, lang)
}

func (c *Controller) StopListening() error {
	if _, _, err := c.activeSession(); err != nil {
		return fmt.Errorf("stop listening: %w", err)
	}
	c.capture.Stop()
	return nil
}

// ToggleLanguage flips between English and Hindi before a session starts. While a
// session is running the language is left unchanged. It returns the current language.
func (c *Controller) ToggleLanguage() string {
	c.mu.Lock()
	if c.status != StatusIdle {
		lang := c.language
		c.mu.Unlock()
		return lang
	}
	c.language = toggled(c.language)
	lang := c.language
	c.mu.Unlock()
	c.emitState()
	return lang
}

func (c *Controller) KeyStatus(ctx context.Context) (voiceapi.KeyStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	status, err := c.backend.KeyStatus(ctx)
	if err != nil {
		return voiceapi.KeyStatus{}, fmt.Errorf("key status: %w", asNetworkError(err))
	}
	return status, nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		Status:    c.status,
		SessionID: c.sessionID,
		Language:  c.language,
		Voice:     c.sessionVoice,
		Messages:  append([]Message(nil), c.messages...),
	}
	c.mu.Unlock()
	if s.Voice == "" {
		s.Voice = c.voice
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	s.TransportState = c.transport.State()
	s.Connected = s.SessionID != "" && s.TransportState == transport.StateConnected
	s.CaptureState = c.capture.State()
	s.Listening = s.CaptureState != capture.StateIdle
	s.Speaking = c.output.Speaking()
	return s
}

// Subscribe returns a stream of controller events. Events are dropped for subscribers
// that do not keep up. The returned function unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

// Wait blocks until background session releases and result uploads have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) activeSession() (string, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusActive || c.sessionID == "" {
		return "", nil, voice.ErrNotConnected
	}
	return c.sessionID, c.sessionCtx, nil
}

func (c *Controller) appendMessage(sessionID string, role Role, text string) (Message, error) {
	c.mu.Lock()
	if c.sessionID == "" || c.sessionID != sessionID {
		c.mu.Unlock()
		return Message{}, fmt.Errorf("append message: %w", voice.ErrNotConnected)
	}
	c.seq++
	msg := Message{
		ID:        uuid.NewString(),
		Seq:       c.seq,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	c.metrics.MessageAppended(string(role))
	c.broadcast(Event{Type: EventMessage, Message: &msg})
	return msg, nil
}

func (c *Controller) onTransportState(state transport.State) {
	c.logger.Debug("transport state", "state", state)
	c.emitState()
}

func (c *Controller) onCaptureState(capture.State) { c.emitState() }

func (c *Controller) onSpeaking(bool) { c.emitState() }

func (c *Controller) onComponentError(err error) { c.emitError(err) }

func (c *Controller) onTranscript(ctx context.Context, text string) {
	if _, err := c.Send(ctx, text, nil); err != nil {
		c.logger.Warn("send transcript failed", "error", err)
		c.emitError(err)
	}
}

func (c *Controller) emitState() {
	s := c.Snapshot()
	c.broadcast(Event{Type: EventState, Snapshot: &s})
}

func (c *Controller) emitError(err error) {
	c.broadcast(Event{Type: EventError, Error: err.Error()})
}

func (c *Controller) broadcast(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func asNetworkError(err error) error {
	if errors.Is(err, voice.ErrNetwork) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", voice.ErrNetwork, err)
}
