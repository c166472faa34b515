package orchestrator

import (
	"github.com/lmoreno/finchat/internal/tools"
)

// Message is one caller-supplied history item. Ordering is significant
// (oldest first) and is re-sent to the model verbatim.
type Message struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

// PendingAction describes a resolved tool call that was parked behind the
// confirmation gate. It is fully self-describing: the client echoes it back
// unchanged as confirmed_action to authorize execution, so the server keeps
// no cross-request state.
type PendingAction struct {
	ToolCall    tools.Call     `json:"tool_call"`
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
	Description string         `json:"description"`
}

// ConfirmationRequest is the terminal output of a gated turn. A turn ends in
// either a ConfirmationRequest or a final response, never both.
type ConfirmationRequest struct {
	Message              string        `json:"message"`
	PendingAction        PendingAction `json:"pending_action"`
	RequiresConfirmation bool          `json:"requires_confirmation"`
}

// TurnMetrics is accumulated additively across every model invocation in one
// turn and attached once at the end.
type TurnMetrics struct {
	Model            string  `json:"model"`
	LatencyMS        int64   `json:"latency_ms"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	ToolCalls        int     `json:"tool_calls"`
	DroppedToolCalls int     `json:"dropped_tool_calls,omitempty"`
}

// TurnInput is one inbound turn. History is supplied by the caller on every
// request; the server persists nothing between turns.
type TurnInput struct {
	UserID          string
	Message         string
	History         []Message
	ConfirmedAction *PendingAction
}

// TurnResult is the terminal outcome of a turn. Exactly one of Message or
// Confirmation is meaningful: a gated turn carries Confirmation and an empty
// Message.
type TurnResult struct {
	Message      string
	ToolsUsed    []string
	Metrics      TurnMetrics
	Confirmation *ConfirmationRequest
}
