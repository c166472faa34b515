package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/lmoreno/finchat/internal/orchestrator"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"model":  s.config.Model,
		"tools":  len(s.registry.Names()),
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	defs := s.registry.Definitions()
	out := make([]CapabilityInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, CapabilityInfo{
			Name:                 d.Name,
			Description:          d.Description,
			RequiresConfirmation: s.registry.RequiresConfirmation(d.Name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeTurn(w, r)
	if !ok {
		return
	}

	result, err := s.pipeline.Run(r.Context(), in, nil)
	if err != nil {
		writeTurnError(w, err)
		return
	}
	if result.Confirmation != nil {
		writeJSON(w, http.StatusOK, ConfirmationResponse{
			Message:              result.Confirmation.Message,
			PendingAction:        result.Confirmation.PendingAction,
			RequiresConfirmation: true,
		})
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Message:   result.Message,
		ToolsUsed: result.ToolsUsed,
		Metrics:   result.Metrics,
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeTurn(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming not supported"})
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // nginx proxy compatibility
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The pipeline emits events from the handler goroutine and from the
	// stream-consuming goroutine; serialize writes to the wire.
	var mu sync.Mutex
	sink := func(ev orchestrator.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write(append(data, '\n'))
		flusher.Flush()
	}

	// Terminal events (done/error/confirmation) are already emitted by the
	// pipeline; nothing more to write regardless of the returned error.
	_, _ = s.pipeline.Run(r.Context(), in, sink)
}

func decodeTurn(w http.ResponseWriter, r *http.Request) (orchestrator.TurnInput, bool) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return orchestrator.TurnInput{}, false
	}
	return orchestrator.TurnInput{
		UserID:          req.UserID,
		Message:         req.Message,
		History:         req.History,
		ConfirmedAction: req.ConfirmedAction,
	}, true
}

func writeTurnError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	// Provider failures: short, non-technical message only.
	writeJSON(w, http.StatusBadGateway, ErrorResponse{
		Error: "el asistente no está disponible en este momento",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
