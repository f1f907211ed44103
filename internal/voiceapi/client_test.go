package voiceapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/veritalk/internal/reliability"
	"github.com/antoniostano/veritalk/internal/voice"
)

func TestClientCreateAndDeleteSession(t *testing.T) {
	var deleted string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/voice/session", func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Language != "hi-IN" || req.Voice != "meera" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "s-1", "language": req.Language})
	})
	mux.HandleFunc("DELETE /api/voice/session/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleted = r.PathValue("id")
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(ts.URL+"/api/voice/", time.Second)
	resp, err := c.CreateSession(context.Background(), CreateSessionRequest{Language: "hi-IN", Voice: "meera"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if resp.SessionID != "s-1" {
		t.Fatalf("SessionID = %q, want %q", resp.SessionID, "s-1")
	}
	if err := c.DeleteSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if deleted != "s-1" {
		t.Fatalf("deleted = %q, want %q", deleted, "s-1")
	}
}

func TestClientStatusErrorWrapsNetwork(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "sarvam down", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, time.Second)
	_, err := c.Transcribe(context.Background(), STTRequest{SessionID: "s-1", Audio: "AAAA", Language: "en-IN"})
	if err == nil {
		t.Fatalf("Transcribe() expected error")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %T, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError || !statusErr.Retryable() {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
	if !errors.Is(err, voice.ErrNetwork) {
		t.Fatalf("status error should wrap ErrNetwork")
	}
}

func TestClientCreateSessionRejectsEmptyID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, time.Second).CreateSession(context.Background(), CreateSessionRequest{})
	if !errors.Is(err, voice.ErrNetwork) {
		t.Fatalf("CreateSession() error = %v, want ErrNetwork", err)
	}
}

func TestClientUnreachableBackend(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewClient(url, 200*time.Millisecond).SendText(context.Background(), TextRequest{SessionID: "s", Text: "hi"})
	if !errors.Is(err, voice.ErrNetwork) {
		t.Fatalf("SendText() error = %v, want ErrNetwork", err)
	}
}

func TestClientKeyStatusAndEmptyBodies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api-keys/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"gemini":{"configured":true},"sarvam":{"configured":false},"fallback_mode":true}`))
	})
	mux.HandleFunc("POST /results", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(ts.URL, time.Second)
	status, err := c.KeyStatus(context.Background())
	if err != nil {
		t.Fatalf("KeyStatus() error = %v", err)
	}
	if !status.Gemini.Configured || status.Sarvam.Configured || !status.FallbackMode {
		t.Fatalf("unexpected key status: %+v", status)
	}
	if err := c.SetResults(context.Background(), ResultsRequest{SessionID: "s", DetectionID: "d"}); err != nil {
		t.Fatalf("SetResults() error = %v", err)
	}
}

func TestClientDeleteSessionRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /session/{id}", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(ts.URL, time.Second)
	c.retry = reliability.Policy{Attempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond}
	if err := c.DeleteSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("delete calls = %d, want 2", got)
	}
}
