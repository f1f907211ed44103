package session

import (
	"context"
	"errors"
	"testing"

	"github.com/antoniostano/veritalk/internal/voice"
)

func TestSetDetectionResultsRequiresSession(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	err := h.ctrl.SetDetectionResults(DetectionResults{ID: "det-1"})
	if !errors.Is(err, voice.ErrNotConnected) {
		t.Fatalf("SetDetectionResults() error = %v, want ErrNotConnected", err)
	}
}

func TestSetDetectionResultsUploadsContext(t *testing.T) {
	backend := newFakeBackend()
	h := newHarness(t, backend)
	if _, err := h.ctrl.Start(context.Background(), "", ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	err := h.ctrl.SetDetectionResults(DetectionResults{
		AIScore:    87.5,
		HumanScore: 12.5,
		Modality:   "document",
		Features:   map[string]any{"perplexity": 12.1},
		Pages:      []map[string]any{{"page": 1, "ai_score": 90}},
	})
	if err != nil {
		t.Fatalf("SetDetectionResults() error = %v", err)
	}
	h.ctrl.Wait()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.results) != 1 {
		t.Fatalf("results uploads = %d, want 1", len(backend.results))
	}
	got := backend.results[0]
	if got.SessionID != "sess-1" || got.DetectionID != unknownDetectionID {
		t.Fatalf("results request = %+v", got)
	}
	if got.AIScore != 87.5 || got.HumanScore != 12.5 {
		t.Fatalf("scores = %v/%v", got.AIScore, got.HumanScore)
	}
	if got.Features["modality"] != "document" || got.Features["perplexity"] != 12.1 {
		t.Fatalf("features = %v", got.Features)
	}
	if pages, ok := got.Features["pages"].([]any); !ok || len(pages) != 1 {
		t.Fatalf("pages = %v", got.Features["pages"])
	}
}

func TestSetDetectionResultsFailureIsNotSurfaced(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	if _, err := h.ctrl.Start(context.Background(), "", ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// The upload is cancelled by End; the caller still sees success.
	if err := h.ctrl.SetDetectionResults(DetectionResults{ID: "det-9"}); err != nil {
		t.Fatalf("SetDetectionResults() error = %v", err)
	}
	if err := h.ctrl.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	h.ctrl.Wait()
}

func TestResultsRequestKeepsCallerFeatures(t *testing.T) {
	features := map[string]any{"burstiness": 0.4}
	req := resultsRequest("sess-1", DetectionResults{ID: " det-2 ", Features: features, Modality: "image"})
	if req.DetectionID != "det-2" {
		t.Fatalf("DetectionID = %q, want det-2", req.DetectionID)
	}
	if _, ok := features["modality"]; ok {
		t.Fatalf("caller features map was modified")
	}
	if req.Features["modality"] != "image" {
		t.Fatalf("modality = %v, want image", req.Features["modality"])
	}
}
