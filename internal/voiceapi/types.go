package voiceapi

import "encoding/json"

type CreateSessionRequest struct {
	Language string `json:"language"`
	Voice    string `json:"voice"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language,omitempty"`
	Voice     string `json:"voice,omitempty"`
}

type TextRequest struct {
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	Context   map[string]any `json:"context,omitempty"`
}

type TextResponse struct {
	Text string `json:"text"`
}

type ResultsRequest struct {
	SessionID   string         `json:"session_id"`
	DetectionID string         `json:"detection_id"`
	AIScore     float64        `json:"ai_score"`
	HumanScore  float64        `json:"human_score"`
	Features    map[string]any `json:"features"`
}

type TTSRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Voice    string `json:"voice"`
}

// TTSResponse carries a base64 encoded audio file; Audio is empty when the provider
// produced nothing.
type TTSResponse struct {
	Audio  string `json:"audio"`
	Format string `json:"format,omitempty"`
}

type STTRequest struct {
	SessionID string `json:"session_id"`
	Audio     string `json:"audio"`
	Language  string `json:"language"`
}

type STTResponse struct {
	Text string `json:"text"`
}

// SessionDescription mirrors the WebRTC {type, sdp} pair.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type OfferRequest struct {
	SessionID string             `json:"session_id"`
	Offer     SessionDescription `json:"offer"`
}

type OfferResponse struct {
	Answer SessionDescription `json:"answer"`
}

type ICERequest struct {
	SessionID string          `json:"session_id"`
	Candidate json.RawMessage `json:"candidate"`
}

type ProviderStatus struct {
	Configured bool   `json:"configured"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
}

type KeyStatus struct {
	Gemini       ProviderStatus `json:"gemini"`
	Sarvam       ProviderStatus `json:"sarvam"`
	FallbackMode bool           `json:"fallback_mode"`
}
