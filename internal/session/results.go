package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/veritalk/internal/voiceapi"
)

const unknownDetectionID = "unknown"

// DetectionResults are scores produced by the content detector for one item.
type DetectionResults struct {
	ID         string           `json:"id"`
	AIScore    float64          `json:"ai_score"`
	HumanScore float64          `json:"human_score"`
	Modality   string           `json:"modality,omitempty"`
	Features   map[string]any   `json:"features,omitempty"`
	Pages      []map[string]any `json:"pages,omitempty"`
	Frames     []map[string]any `json:"frames,omitempty"`
}

// SetDetectionResults attaches results to the running conversation. The upload runs in
// the background and its failure is only logged.
func (c *Controller) SetDetectionResults(results DetectionResults) error {
	sessionID, sessionCtx, err := c.activeSession()
	if err != nil {
		return fmt.Errorf("set detection results: %w", err)
	}
	req := resultsRequest(sessionID, results)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(sessionCtx, c.timeout)
		defer cancel()
		if err := c.backend.SetResults(ctx, req); err != nil {
			c.logger.Warn("attach detection results failed", "session_id", sessionID, "detection_id", req.DetectionID, "error", err)
			return
		}
		c.logger.Info("detection results attached", "session_id", sessionID, "detection_id", req.DetectionID)
	}()
	return nil
}

func resultsRequest(sessionID string, results DetectionResults) voiceapi.ResultsRequest {
	features := make(map[string]any, len(results.Features)+3)
	for k, v := range results.Features {
		features[k] = v
	}
	if m := strings.TrimSpace(results.Modality); m != "" {
		features["modality"] = m
	}
	if len(results.Pages) > 0 {
		features["pages"] = results.Pages
	}
	if len(results.Frames) > 0 {
		features["frames"] = results.Frames
	}
	id := strings.TrimSpace(results.ID)
	if id == "" {
		id = unknownDetectionID
	}
	return voiceapi.ResultsRequest{
		SessionID:   sessionID,
		DetectionID: id,
		AIScore:     results.AIScore,
		HumanScore:  results.HumanScore,
		Features:    features,
	}
}
