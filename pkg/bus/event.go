package bus

import (
	"time"

	"github.com/ayatori-dev/ayatori/pkg/session"
)

// Type discriminates event payloads on the bus.
type Type string

const (
	TypePromptReceived Type = "prompt_received"
	TypeAssistantReply Type = "assistant_reply"
	TypeToolStarted    Type = "tool_started"
	TypeToolEnded      Type = "tool_ended"
	TypeStatusChanged  Type = "status_changed"
	TypeErrorOccurred  Type = "error_occurred"
	TypeInterrupted    Type = "interrupted"
)

// ToolInfo describes a tool dispatch for ToolStarted and ToolEnded events.
type ToolInfo struct {
	Name    string         `json:"name"`
	CallID  string         `json:"call_id,omitempty"`
	OK      bool           `json:"ok,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Event is one notification on the bus. Message, Tool, Running and
// Error are populated per type; unused fields stay zero.
type Event struct {
	Type      Type             `json:"type"`
	SessionID string           `json:"session_id"`
	RunID     string           `json:"run_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Message   *session.Message `json:"message,omitempty"`
	Tool      *ToolInfo        `json:"tool,omitempty"`
	Running   *bool            `json:"running,omitempty"`
	Error     string           `json:"error,omitempty"`
}
