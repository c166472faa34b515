package server

import "github.com/lmoreno/finchat/internal/orchestrator"

// ChatRequest is the POST /chat and POST /chat/stream request body.
type ChatRequest struct {
	UserID  string                 `json:"user_id"`
	Message string                 `json:"message"`
	History []orchestrator.Message `json:"history,omitempty"`

	// ConfirmedAction is the pending action from a previous turn, echoed
	// back unchanged to authorize a gated tool call.
	ConfirmedAction *orchestrator.PendingAction `json:"confirmed_action,omitempty"`
}

// ChatResponse is the non-streaming success payload.
type ChatResponse struct {
	Message   string                   `json:"message"`
	ToolsUsed []string                 `json:"tools_used"`
	Metrics   orchestrator.TurnMetrics `json:"metrics"`
}

// ConfirmationResponse is the non-streaming gated payload.
type ConfirmationResponse struct {
	Message              string                     `json:"message"`
	PendingAction        orchestrator.PendingAction `json:"pending_action"`
	RequiresConfirmation bool                       `json:"requires_confirmation"`
}

// CapabilityInfo describes one tool on the capabilities surface.
type CapabilityInfo struct {
	Name                 string `json:"name"`
	Description          string `json:"description"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
}

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
