package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lmoreno/finchat/internal/llm"
	"github.com/lmoreno/finchat/internal/orchestrator"
	"github.com/lmoreno/finchat/internal/store"
	"github.com/lmoreno/finchat/internal/tools"
)

// scriptedAdapter plays back canned model responses in call order, for both
// Complete and Stream.
type scriptedAdapter struct {
	responses []llm.Response
	calls     int
}

func (a *scriptedAdapter) Name() string { return "openai" }

func (a *scriptedAdapter) next() (llm.Response, error) {
	i := a.calls
	a.calls++
	if i >= len(a.responses) {
		return llm.Response{}, fmt.Errorf("script exhausted at call %d", i)
	}
	return a.responses[i], nil
}

func (a *scriptedAdapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return a.next()
}

func (a *scriptedAdapter) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	resp, err := a.next()
	if err != nil {
		return nil, err
	}
	st := llm.NewChanStream(nil)
	go func() {
		defer st.CloseSend()
		for _, r := range resp.Text() {
			st.Send(llm.StreamEvent{Type: llm.StreamEventTextDelta, Delta: string(r)})
		}
		st.Send(llm.StreamEvent{Type: llm.StreamEventFinish, Response: &resp})
	}()
	return st, nil
}

func newTestServer(t *testing.T, st *store.Store, script ...llm.Response) *Server {
	t.Helper()
	reg := tools.NewRegistry()
	if err := tools.RegisterFinanceTools(reg, st); err != nil {
		t.Fatalf("RegisterFinanceTools: %v", err)
	}
	client := llm.NewClient()
	client.Register(&scriptedAdapter{responses: script})
	retry := llm.RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond}
	pipeline := &orchestrator.Pipeline{
		Resolver: &orchestrator.FunctionCallResolver{
			Client:   client,
			Model:    "gpt-4o-mini",
			Provider: "openai",
			Registry: reg,
			Retry:    retry,
		},
		Gate:     orchestrator.NewGate(reg, true),
		Executor: tools.NewExecutor(reg),
		Synth: &orchestrator.Synthesizer{
			Client:   client,
			Model:    "gpt-4o-mini",
			Provider: "openai",
			Retry:    retry,
		},
		Model:  "gpt-4o-mini",
		Prices: llm.DefaultPrices(),
	}
	return New(Config{Addr: ":0", Model: "gpt-4o-mini"}, pipeline, reg)
}

func createTxScript(t *testing.T) llm.Response {
	t.Helper()
	args, err := json.Marshal(map[string]any{"amount": 50.0, "merchant": "Mercadona"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return llm.Response{Message: llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCallData{{ID: "call_1", Name: "createTransaction", Arguments: args}},
	}}
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, store.New())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["model"] != "gpt-4o-mini" {
		t.Fatalf("body: %v", body)
	}
	if body["tools"] != float64(9) {
		t.Fatalf("tools: %v", body["tools"])
	}
}

func TestCapabilities(t *testing.T) {
	srv := newTestServer(t, store.New())
	req := httptest.NewRequest(http.MethodGet, "/capabilities", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body struct {
		Tools []CapabilityInfo `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	byName := map[string]CapabilityInfo{}
	for _, tool := range body.Tools {
		byName[tool.Name] = tool
	}
	if !byName["createTransaction"].RequiresConfirmation {
		t.Fatalf("createTransaction should require confirmation: %+v", byName)
	}
	if byName["analyzeSpending"].RequiresConfirmation {
		t.Fatalf("analyzeSpending must not require confirmation")
	}
}

func TestChat_InvalidInputIs400(t *testing.T) {
	srv := newTestServer(t, store.New())
	rec := postJSON(t, srv.Handler(), "/chat", ChatRequest{UserID: "u1", Message: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	var e ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Error == "" {
		t.Fatalf("error body: %s", rec.Body.String())
	}
}

func TestChat_MalformedBodyIs400(t *testing.T) {
	srv := newTestServer(t, store.New())
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestChat_ProviderFailureIs502(t *testing.T) {
	// Empty script: the first model call fails.
	srv := newTestServer(t, store.New())
	rec := postJSON(t, srv.Handler(), "/chat", ChatRequest{UserID: "u1", Message: "hola"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	var e ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(e.Error, "exhausted") {
		t.Fatalf("internal detail leaked: %q", e.Error)
	}
}

func TestChat_ConfirmationRoundTrip(t *testing.T) {
	st := store.New()
	srv := newTestServer(t, st, createTxScript(t))

	rec := postJSON(t, srv.Handler(), "/chat", ChatRequest{UserID: "u1", Message: "Añade 50€ de gasto en Mercadona"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	var conf ConfirmationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &conf); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !conf.RequiresConfirmation {
		t.Fatalf("expected confirmation: %s", rec.Body.String())
	}
	if !strings.Contains(conf.Message, "50€") {
		t.Fatalf("message: %q", conf.Message)
	}
	if got := len(st.ListTransactions("u1", time.Time{}, time.Time{})); got != 0 {
		t.Fatalf("blocked turn wrote %d rows", got)
	}

	// Second request echoes the pending action; fresh server because the model
	// script is consumed per-instance, state lives in the shared store.
	srv2 := newTestServer(t, st,
		createTxScript(t),
		llm.Response{Message: llm.Assistant("Apuntado: 50€ en Mercadona.")},
	)
	rec2 := postJSON(t, srv2.Handler(), "/chat", ChatRequest{
		UserID:          "u1",
		Message:         "Sí, confirmo",
		ConfirmedAction: &conf.PendingAction,
	})
	if rec2.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec2.Code, rec2.Body.String())
	}
	var resp ChatResponse
	if err := json.Unmarshal(rec2.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.ToolsUsed) != 1 || resp.ToolsUsed[0] != "createTransaction" {
		t.Fatalf("tools used: %v", resp.ToolsUsed)
	}
	if resp.Metrics.ToolCalls != 1 {
		t.Fatalf("metrics: %+v", resp.Metrics)
	}
	if got := len(st.ListTransactions("u1", time.Time{}, time.Time{})); got != 1 {
		t.Fatalf("rows after confirmation: %d", got)
	}
}

func TestChatStream_NDJSONFraming(t *testing.T) {
	st := store.New()
	if _, err := st.InsertTransaction("u1", store.Transaction{Amount: 120, Merchant: "Mercadona"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	args, _ := json.Marshal(map[string]any{})
	srv := newTestServer(t, st,
		llm.Response{Message: llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCallData{{ID: "c1", Name: "analyzeSpending", Arguments: args}},
		}},
		llm.Response{Message: llm.Assistant("Has gastado 120€ este mes.")},
	)

	rec := postJSON(t, srv.Handler(), "/chat/stream", ChatRequest{UserID: "u1", Message: "¿Cuánto llevo gastado?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type: %q", ct)
	}

	var events []orchestrator.Event
	sc := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev orchestrator.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(events) == 0 || events[0].Type != orchestrator.EventThinking {
		t.Fatalf("first event: %+v", events)
	}
	terminals := 0
	var text strings.Builder
	for i, ev := range events {
		switch ev.Type {
		case orchestrator.EventChunk:
			text.WriteString(ev.Text)
		case orchestrator.EventDone, orchestrator.EventError, orchestrator.EventConfirmation:
			terminals++
			if i != len(events)-1 {
				t.Fatalf("terminal event not last")
			}
		}
	}
	if terminals != 1 {
		t.Fatalf("terminals: %d", terminals)
	}
	if events[len(events)-1].Type != orchestrator.EventDone {
		t.Fatalf("last event: %s", events[len(events)-1].Type)
	}
	if text.String() != "Has gastado 120€ este mes." {
		t.Fatalf("chunks: %q", text.String())
	}
}

func TestChatStream_ValidationEmitsErrorEvent(t *testing.T) {
	srv := newTestServer(t, store.New())
	rec := postJSON(t, srv.Handler(), "/chat/stream", ChatRequest{UserID: "", Message: "hola"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var ev orchestrator.Event
	line := strings.TrimSpace(rec.Body.String())
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if ev.Type != orchestrator.EventError || ev.Message == "" {
		t.Fatalf("event: %+v", ev)
	}
}
