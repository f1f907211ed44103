package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl   MessageType = "client_control"
	TypeClientText      MessageType = "client_text"
	TypeStateChanged    MessageType = "state_changed"
	TypeMessageAppended MessageType = "message_appended"
	TypeErrorEvent      MessageType = "error_event"
)

const (
	ActionStart          = "start"
	ActionEnd            = "end"
	ActionListenStart    = "listen_start"
	ActionListenStop     = "listen_stop"
	ActionToggleLanguage = "toggle_language"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	Action   string      `json:"action"`
	Language string      `json:"language,omitempty"`
	Voice    string      `json:"voice,omitempty"`
}

type ClientText struct {
	Type    MessageType    `json:"type"`
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

// StateChanged carries a full controller snapshot.
type StateChanged struct {
	Type  MessageType `json:"type"`
	State any         `json:"state"`
}

type MessageAppended struct {
	Type    MessageType `json:"type"`
	Message any         `json:"message"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionStart, ActionEnd, ActionListenStart, ActionListenStop, ActionToggleLanguage:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the message type of a known protocol value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientControl:
		return m.Type, true
	case ClientText:
		return m.Type, true
	case StateChanged:
		return m.Type, true
	case MessageAppended:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
