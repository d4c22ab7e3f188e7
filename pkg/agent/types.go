package agent

import (
	"strings"

	"github.com/ayatori-dev/ayatori/pkg/session"
	"github.com/ayatori-dev/ayatori/pkg/toolengine"
)

// Profile represents authentication credentials for a model provider.
// Lower priority values are tried first during failover.
type Profile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "anthropic", "openai"
	APIKey        string `json:"api_key"`
	Model         string `json:"model,omitempty"`
	Priority      int    `json:"priority"`
	FailureCount  int    `json:"failure_count"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
}

// TokenUsage tracks token consumption for one model call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolCallRequest is the model asking for one tool invocation.
type ToolCallRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Turn is the outcome of a single model call: assistant text, and
// optionally a tool call to dispatch.
type Turn struct {
	Content  string
	Usage    *TokenUsage
	ToolCall *ToolCallRequest
}

// ConverseRequest carries everything a provider needs for one call.
type ConverseRequest struct {
	Model        string
	SystemPrompt string
	History      []session.Message
	Tools        []toolengine.Spec
	MaxTokens    int
	Temperature  float64
}

const metadataToolCallKey = "tool_call"

// metadataForToolCall encodes a tool call into message metadata so the
// journal round-trips it and providers can rebuild native tool blocks.
func metadataForToolCall(tc ToolCallRequest) map[string]any {
	return map[string]any{
		metadataToolCallKey: map[string]any{
			"id":   tc.ID,
			"name": tc.Name,
			"args": tc.Args,
		},
	}
}

// toolCallFromMetadata is the inverse of metadataForToolCall. Returns
// nil when the message carries no tool call.
func toolCallFromMetadata(md map[string]any) *ToolCallRequest {
	raw, ok := md[metadataToolCallKey].(map[string]any)
	if !ok {
		return nil
	}
	tc := &ToolCallRequest{}
	tc.ID, _ = raw["id"].(string)
	tc.Name, _ = raw["name"].(string)
	tc.Args, _ = raw["args"].(map[string]any)
	if tc.Name == "" {
		return nil
	}
	return tc
}

// IsRetryableError reports whether a provider error is transient and
// worth another attempt.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"ECONNRESET", "ETIMEDOUT", "connection reset", "timeout",
		"429", "rate limit",
		"500", "502", "503", "504", "overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
