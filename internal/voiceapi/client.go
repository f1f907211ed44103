package voiceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antoniostano/veritalk/internal/reliability"
	"github.com/antoniostano/veritalk/internal/voice"
)

// Client talks JSON over HTTP to the voice backend.
type Client struct {
	baseURL string
	client  *http.Client
	retry   reliability.Policy
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: http status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: http status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return voice.ErrNetwork }

// Retryable reports whether the backend signalled a transient failure.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		retry: reliability.DefaultPolicy,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error) {
	var out CreateSessionResponse
	if err := c.do(ctx, http.MethodPost, "/session", req, &out); err != nil {
		return CreateSessionResponse{}, err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return CreateSessionResponse{}, fmt.Errorf("create session: %w: empty session_id", voice.ErrNetwork)
	}
	return out, nil
}

// DeleteSession is idempotent and retried on transient failures.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil, nil)
	})
}

func (c *Client) SendText(ctx context.Context, req TextRequest) (TextResponse, error) {
	var out TextResponse
	err := c.do(ctx, http.MethodPost, "/text", req, &out)
	return out, err
}

func (c *Client) SetResults(ctx context.Context, req ResultsRequest) error {
	return c.do(ctx, http.MethodPost, "/results", req, nil)
}

func (c *Client) Synthesize(ctx context.Context, req TTSRequest) (TTSResponse, error) {
	var out TTSResponse
	err := c.do(ctx, http.MethodPost, "/tts", req, &out)
	return out, err
}

func (c *Client) Transcribe(ctx context.Context, req STTRequest) (STTResponse, error) {
	var out STTResponse
	err := c.do(ctx, http.MethodPost, "/stt", req, &out)
	return out, err
}

func (c *Client) SendOffer(ctx context.Context, req OfferRequest) (OfferResponse, error) {
	var out OfferResponse
	if err := c.do(ctx, http.MethodPost, "/webrtc/offer", req, &out); err != nil {
		return OfferResponse{}, err
	}
	if strings.TrimSpace(out.Answer.SDP) == "" {
		return OfferResponse{}, fmt.Errorf("webrtc offer: %w: empty answer", voice.ErrNetwork)
	}
	return out, nil
}

func (c *Client) SendICECandidate(ctx context.Context, req ICERequest) error {
	return c.do(ctx, http.MethodPost, "/webrtc/ice", req, nil)
}

func (c *Client) KeyStatus(ctx context.Context) (KeyStatus, error) {
	var out KeyStatus
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		out = KeyStatus{}
		return c.do(ctx, http.MethodGet, "/api-keys/status", nil, &out)
	})
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, voice.ErrNetwork, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
