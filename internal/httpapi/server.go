package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/veritalk/internal/config"
	"github.com/antoniostano/veritalk/internal/logging"
	"github.com/antoniostano/veritalk/internal/observability"
	"github.com/antoniostano/veritalk/internal/session"
	"github.com/antoniostano/veritalk/internal/voice"
	"github.com/antoniostano/veritalk/internal/voiceapi"
)

// Controller is the voice session surface exposed over HTTP.
type Controller interface {
	Start(ctx context.Context, language, voiceID string) (session.Snapshot, error)
	End(ctx context.Context) error
	Send(ctx context.Context, text string, extra map[string]any) (session.Message, error)
	StartListening(ctx context.Context) error
	StopListening() error
	ToggleLanguage() string
	SetDetectionResults(results session.DetectionResults) error
	KeyStatus(ctx context.Context) (voiceapi.KeyStatus, error)
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Event, func())
}

type Server struct {
	cfg      config.Config
	ctrl     Controller
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, ctrl Controller, metrics *observability.Metrics, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		metrics: metrics,
		logger:  logging.OrDiscard(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the microphone session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/voice", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/session", s.handleStartSession)
		r.Delete("/session", s.handleEndSession)
		r.Post("/text", s.handleSendText)
		r.Post("/listen/start", s.handleListenStart)
		r.Post("/listen/stop", s.handleListenStop)
		r.Post("/language/toggle", s.handleToggleLanguage)
		r.Post("/results", s.handleResults)
		r.Get("/keys", s.handleKeyStatus)
		r.Get("/events", s.handleEventsWS)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"session_status": s.ctrl.Snapshot().Status,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"voice_api":    s.cfg.VoiceAPIBaseURL,
		"device_mode":  s.cfg.VoiceDeviceMode,
		"allow_origin": s.cfg.AllowAnyOrigin,
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

type startRequest struct {
	Language string `json:"language"`
	Voice    string `json:"voice"`
}

type startResponse struct {
	State   session.Snapshot `json:"state"`
	Warning string           `json:"warning,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	snap, err := s.ctrl.Start(r.Context(), req.Language, req.Voice)
	if err != nil {
		if snap.Status == session.StatusActive {
			// Text-only session; audio could not be connected.
			respondJSON(w, http.StatusCreated, startResponse{State: snap, Warning: err.Error()})
			return
		}
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, startResponse{State: snap})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.End(r.Context()); err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

type textRequest struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reply, err := s.ctrl.Send(r.Context(), req.Text, req.Context)
	if err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reply": reply})
}

func (s *Server) handleListenStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StartListening(r.Context()); err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.ctrl.Snapshot())
}

func (s *Server) handleListenStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.StopListening(); err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.ctrl.Snapshot())
}

func (s *Server) handleToggleLanguage(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"language": s.ctrl.ToggleLanguage()})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	var req session.DetectionResults
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.ctrl.SetDetectionResults(req); err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleKeyStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ctrl.KeyStatus(r.Context())
	if err != nil {
		respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondControllerError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	respondError(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrEmptyText), errors.Is(err, session.ErrUnsupportedLanguage):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, voice.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, voice.ErrNotConnected):
		return http.StatusConflict, "not_connected"
	case errors.Is(err, voice.ErrAlreadyInProgress):
		return http.StatusConflict, "already_in_progress"
	case errors.Is(err, voice.ErrRecognitionUnsupported):
		return http.StatusNotImplemented, "recognition_unsupported"
	case errors.Is(err, voice.ErrNetwork):
		return http.StatusBadGateway, "network_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
