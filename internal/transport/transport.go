package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/antoniostano/veritalk/internal/audio"
	"github.com/antoniostano/veritalk/internal/logging"
	"github.com/antoniostano/veritalk/internal/observability"
	"github.com/antoniostano/veritalk/internal/voice"
	"github.com/antoniostano/veritalk/internal/voiceapi"
)

type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

var errDisconnected = fmt.Errorf("connect transport: disconnected: %w", voice.ErrNotConnected)

const (
	DefaultSTUNServer = "stun:stun.l.google.com:19302"

	pcmuClockRate  = 8000
	iceSendTimeout = 5 * time.Second
)

// Signaler exchanges negotiation messages with the voice backend.
type Signaler interface {
	SendOffer(ctx context.Context, req voiceapi.OfferRequest) (voiceapi.OfferResponse, error)
	SendICECandidate(ctx context.Context, req voiceapi.ICERequest) error
}

type Config struct {
	ICEServers         []string
	NegotiationTimeout time.Duration
}

// Transport owns one peer connection carrying microphone audio to the backend.
type Transport struct {
	cfg      Config
	devices  voice.AudioDeviceSource
	signaler Signaler
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu        sync.Mutex
	state     State
	sessionID string
	pc        *webrtc.PeerConnection
	mic       voice.AudioStream
	cancel    context.CancelFunc
	hook      func(State)
	wg        sync.WaitGroup
}

func New(cfg Config, devices voice.AudioDeviceSource, signaler Signaler, logger *slog.Logger, metrics *observability.Metrics) *Transport {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{DefaultSTUNServer}
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = 15 * time.Second
	}
	return &Transport{
		cfg:      cfg,
		devices:  devices,
		signaler: signaler,
		logger:   logging.OrDiscard(logger),
		metrics:  metrics,
		state:    StateNew,
	}
}

// SetStateHook registers a callback invoked on every state transition.
func (t *Transport) SetStateHook(hook func(State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hook = hook
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect acquires the microphone, negotiates a peer connection for sessionID and
// returns once the remote answer is applied. ICE may still be in progress. Disconnect
// aborts a Connect that is still in flight.
func (t *Transport) Connect(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	if t.pc != nil || t.cancel != nil {
		t.mu.Unlock()
		return fmt.Errorf("connect transport: %w", voice.ErrAlreadyInProgress)
	}
	if sessionID == "" {
		t.mu.Unlock()
		return fmt.Errorf("connect transport: %w", voice.ErrNotConnected)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.sessionID = sessionID
	t.cancel = cancel
	t.mu.Unlock()
	t.setState(StateConnecting)

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	stop := context.AfterFunc(runCtx, connCancel)
	defer stop()

	mic, err := t.devices.OpenMicrophone(connCtx, voice.StreamOptions{
		SampleRate:       pcmuClockRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		cancel()
		if !t.fail(nil, nil) {
			return errDisconnected
		}
		if errors.Is(err, voice.ErrPermissionDenied) {
			return fmt.Errorf("acquire microphone: %w", err)
		}
		return fmt.Errorf("acquire microphone: %w: %v", voice.ErrPermissionDenied, err)
	}

	pc, track, err := t.newPeerConnection(runCtx, sessionID)
	if err != nil {
		cancel()
		if !t.fail(nil, mic) {
			return errDisconnected
		}
		return err
	}

	t.mu.Lock()
	if t.cancel == nil {
		t.mu.Unlock()
		_ = mic.Close()
		_ = pc.Close()
		return errDisconnected
	}
	t.pc = pc
	t.mic = mic
	t.mu.Unlock()

	if err := t.negotiate(connCtx, sessionID, pc); err != nil {
		cancel()
		if !t.fail(nil, nil) {
			return errDisconnected
		}
		return err
	}

	t.wg.Add(1)
	go t.pump(runCtx, mic, track)
	t.logger.Info("webrtc answer applied", "session_id", sessionID)
	return nil
}

func (t *Transport) newPeerConnection(runCtx context.Context, sessionID string) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: t.cfg.ICEServers}},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.mu.Lock()
		current := t.pc == pc
		t.mu.Unlock()
		if !current {
			return
		}
		t.logger.Debug("webrtc connection state", "session_id", sessionID, "state", s.String())
		t.setState(fromPeerState(s))
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			t.logger.Warn("encode ice candidate failed", "error", err)
			return
		}
		t.wg.Add(1)
		go t.forwardCandidate(runCtx, sessionID, raw)
	})

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: pcmuClockRate, Channels: 1},
		"audio",
		"veritalk-mic",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("create local track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("add local track: %w", err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return pc, track, nil
}

func (t *Transport) negotiate(ctx context.Context, sessionID string, pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	negCtx, cancel := context.WithTimeout(ctx, t.cfg.NegotiationTimeout)
	defer cancel()
	resp, err := t.signaler.SendOffer(negCtx, voiceapi.OfferRequest{
		SessionID: sessionID,
		Offer:     voiceapi.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP},
	})
	if err != nil {
		if errors.Is(err, voice.ErrNetwork) {
			return fmt.Errorf("exchange offer: %w", err)
		}
		return fmt.Errorf("exchange offer: %w: %v", voice.ErrNetwork, err)
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(resp.Answer.Type),
		SDP:  resp.Answer.SDP,
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		answer.Type = webrtc.SDPTypeAnswer
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	return nil
}

func (t *Transport) forwardCandidate(ctx context.Context, sessionID string, candidate json.RawMessage) {
	defer t.wg.Done()
	sendCtx, cancel := context.WithTimeout(ctx, iceSendTimeout)
	defer cancel()
	err := t.signaler.SendICECandidate(sendCtx, voiceapi.ICERequest{SessionID: sessionID, Candidate: candidate})
	if err != nil && ctx.Err() == nil {
		t.logger.Warn("forward ice candidate failed", "session_id", sessionID, "error", err)
	}
}

// pump feeds microphone frames to the outgoing PCMU track until the stream closes.
func (t *Transport) pump(ctx context.Context, mic voice.AudioStream, track *webrtc.TrackLocalStaticSample) {
	defer t.wg.Done()
	format := mic.Format()
	resampler := audio.NewResampler(format.SampleRate, pcmuClockRate)
	for {
		frame, err := mic.Read(ctx)
		if err != nil {
			return
		}
		mono := resampler.Process(audio.Downmix(frame, format.Channels))
		if len(mono) == 0 {
			continue
		}
		sample := media.Sample{
			Data:     audio.EncodeULaw(mono),
			Duration: time.Duration(len(mono)) * time.Second / pcmuClockRate,
		}
		if err := track.WriteSample(sample); err != nil && ctx.Err() == nil {
			t.logger.Debug("write audio sample failed", "error", err)
		}
	}
}

// Disconnect closes the microphone stream and the peer connection. Calling it on a
// closed transport does nothing.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.state == StateClosed && t.pc == nil && t.mic == nil {
		t.mu.Unlock()
		return
	}
	pc, mic, cancel := t.pc, t.mic, t.cancel
	sessionID := t.sessionID
	t.pc, t.mic, t.cancel = nil, nil, nil
	t.sessionID = ""
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if mic != nil {
		_ = mic.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			t.logger.Warn("close peer connection failed", "session_id", sessionID, "error", err)
		}
	}
	t.setState(StateClosed)
	t.logger.Info("transport disconnected", "session_id", sessionID)
}

// Wait blocks until background candidate forwarding and the media pump have exited.
func (t *Transport) Wait() {
	t.wg.Wait()
}

// fail tears down a connect attempt and marks the transport failed. pc and mic are
// resources not yet stored on t; stored ones are closed too. It returns false when
// Disconnect already owns the teardown, in which case the state stays closed.
func (t *Transport) fail(pc *webrtc.PeerConnection, mic voice.AudioStream) bool {
	t.mu.Lock()
	active := t.cancel != nil
	var storedPC *webrtc.PeerConnection
	var storedMic voice.AudioStream
	if active {
		storedPC, storedMic = t.pc, t.mic
		t.pc, t.mic, t.cancel = nil, nil, nil
		t.sessionID = ""
	}
	t.mu.Unlock()

	for _, m := range []voice.AudioStream{mic, storedMic} {
		if m != nil {
			_ = m.Close()
		}
	}
	for _, p := range []*webrtc.PeerConnection{pc, storedPC} {
		if p != nil {
			_ = p.Close()
		}
	}
	if active {
		t.setState(StateFailed)
	}
	return active
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	hook := t.hook
	t.mu.Unlock()

	t.metrics.TransportState(string(s))
	if hook != nil {
		hook(s)
	}
}

func fromPeerState(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}
