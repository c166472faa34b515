package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation item sent to or returned by a provider.
// Assistant messages may carry tool calls instead of (or alongside) text.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []ToolCallData `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

func System(text string) Message    { return Message{Role: RoleSystem, Content: text} }
func User(text string) Message      { return Message{Role: RoleUser, Content: text} }
func Assistant(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// ToolDefinition is the schema handed to function-calling providers.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCallData is a provider-issued request to invoke a tool.
// Arguments is the raw JSON object exactly as the model produced it.
type ToolCallData struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type Request struct {
	Model    string
	Provider string
	Messages []Message

	// Tools enables function calling when non-empty. The model may answer
	// with plain text, one call, or several calls in one round-trip.
	Tools []ToolDefinition

	Temperature *float64
	MaxTokens   *int
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return &ConfigurationError{Message: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &ConfigurationError{Message: "messages must not be empty"}
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return &ConfigurationError{Message: fmt.Sprintf("message %d has invalid role %q", i, m.Role)}
		}
	}
	return nil
}

type Response struct {
	Provider string
	Model    string
	Message  Message
	Usage    Usage
	Finish   string
}

// Text returns the assistant text content, empty when the model only
// requested tool calls.
func (r Response) Text() string { return r.Message.Content }

func (r Response) ToolCalls() []ToolCallData { return r.Message.ToolCalls }

// ValidateToolName enforces the character set accepted by every supported
// provider's function-calling API.
func ValidateToolName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("tool name is empty")
	}
	for _, r := range name {
		ok := r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("tool name %q contains invalid character %q", name, r)
		}
	}
	return nil
}
