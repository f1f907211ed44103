package session

import (
	"time"

	"github.com/antoniostano/veritalk/internal/capture"
	"github.com/antoniostano/veritalk/internal/transport"
)

type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusEnding   Status = "ending"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Audio     *AudioRef `json:"audio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AudioRef describes the synthesized clip that was played for a message.
type AudioRef struct {
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// Snapshot is a read-only copy of the controller state.
type Snapshot struct {
	Status         Status          `json:"status"`
	SessionID      string          `json:"session_id,omitempty"`
	Language       string          `json:"language"`
	Voice          string          `json:"voice"`
	Connected      bool            `json:"is_connected"`
	TransportState transport.State `json:"transport_state"`
	Listening      bool            `json:"is_listening"`
	CaptureState   capture.State   `json:"capture_state"`
	Speaking       bool            `json:"is_speaking"`
	Messages       []Message       `json:"messages"`
}

type EventType string

const (
	EventState   EventType = "state"
	EventMessage EventType = "message"
	EventError   EventType = "error"
)

type Event struct {
	Type     EventType `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
}
