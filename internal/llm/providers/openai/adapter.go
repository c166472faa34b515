package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/lmoreno/finchat/internal/llm"
)

// Adapter speaks the OpenAI chat-completions API, including function calling
// and incremental streaming. Compatible endpoints work via BaseURL.
type Adapter struct {
	Provider string
	APIKey   string
	BaseURL  string
	Client   *http.Client
}

func New(provider, apiKey, baseURL string) *Adapter {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		p = "openai"
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	return &Adapter{
		Provider: p,
		APIKey:   strings.TrimSpace(apiKey),
		BaseURL:  base,
		// Avoid short client-level timeouts; rely on request context deadlines instead.
		Client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string { return a.Provider }

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	resp, err := a.do(ctx, req, false)
	if err != nil {
		return llm.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var raw chatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return llm.Response{}, fmt.Errorf("decode %s response: %w", a.Provider, err)
	}
	if len(raw.Choices) == 0 {
		return llm.Response{}, llm.ErrorFromHTTPStatus(a.Provider, resp.StatusCode, "response has no choices", nil)
	}
	choice := raw.Choices[0]
	out := llm.Response{
		Provider: a.Provider,
		Model:    raw.Model,
		Message:  fromWireMessage(choice.Message),
		Finish:   choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     raw.Usage.PromptTokens,
			CompletionTokens: raw.Usage.CompletionTokens,
		},
	}
	return out, nil
}

func (a *Adapter) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	resp, err := a.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	st := llm.NewChanStream(cancel)
	go func() {
		defer st.CloseSend()
		defer func() { _ = resp.Body.Close() }()
		st.Send(llm.StreamEvent{Type: llm.StreamEventStreamStart})

		var text strings.Builder
		var usage llm.Usage
		var finish string
		model := req.Model
		calls := newToolCallAssembler()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if sctx.Err() != nil {
				st.Send(llm.StreamEvent{Type: llm.StreamEventError, Err: sctx.Err()})
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}
			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage != nil {
				usage.PromptTokens = chunk.Usage.PromptTokens
				usage.CompletionTokens = chunk.Usage.CompletionTokens
			}
			for _, c := range chunk.Choices {
				if c.FinishReason != "" {
					finish = c.FinishReason
				}
				if c.Delta.Content != "" {
					text.WriteString(c.Delta.Content)
					st.Send(llm.StreamEvent{Type: llm.StreamEventTextDelta, Delta: c.Delta.Content})
				}
				calls.add(c.Delta.ToolCalls)
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			st.Send(llm.StreamEvent{Type: llm.StreamEventError, Err: fmt.Errorf("%s stream read: %w", a.Provider, err)})
			return
		}

		final := llm.Response{
			Provider: a.Provider,
			Model:    model,
			Finish:   finish,
			Usage:    usage,
			Message: llm.Message{
				Role:      llm.RoleAssistant,
				Content:   text.String(),
				ToolCalls: calls.finish(),
			},
		}
		st.Send(llm.StreamEvent{Type: llm.StreamEventFinish, Response: &final})
	}()
	return st, nil
}

func (a *Adapter) do(ctx context.Context, req llm.Request, stream bool) (*http.Response, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": toWireMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		body["tools"] = toWireTools(req.Tools)
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, llm.NewRequestTimeoutError(a.Provider, "request deadline exceeded")
		}
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		msg := readErrorMessage(resp.Body)
		retryAfter := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, llm.ErrorFromHTTPStatus(a.Provider, resp.StatusCode, msg, retryAfter)
	}
	return resp, nil
}

// --- wire types ---

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatCompletion struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatCompletionChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []wireCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type wireCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func toWireMessages(msgs []llm.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == llm.RoleTool {
			wm.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			var w wireToolCall
			w.ID = tc.ID
			w.Type = "function"
			w.Function.Name = tc.Name
			w.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, w)
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []llm.ToolDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return out
}

func fromWireMessage(m wireMessage) llm.Message {
	out := llm.Message{Role: llm.RoleAssistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCallData{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}

func readErrorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 8192))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(b))
}

// toolCallAssembler stitches streamed tool-call fragments back together.
// OpenAI deltas carry the call index; id and name arrive on the first
// fragment, argument text accumulates across the rest.
type toolCallAssembler struct {
	byIndex map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{byIndex: map[int]*partialCall{}}
}

func (a *toolCallAssembler) add(deltas []wireCallDelta) {
	for _, d := range deltas {
		pc, ok := a.byIndex[d.Index]
		if !ok {
			pc = &partialCall{}
			a.byIndex[d.Index] = pc
		}
		if d.ID != "" {
			pc.id = d.ID
		}
		if d.Function.Name != "" {
			pc.name = d.Function.Name
		}
		pc.args.WriteString(d.Function.Arguments)
	}
}

func (a *toolCallAssembler) finish() []llm.ToolCallData {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]llm.ToolCallData, 0, len(indexes))
	for _, i := range indexes {
		pc := a.byIndex[i]
		args := pc.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		out = append(out, llm.ToolCallData{ID: pc.id, Name: pc.name, Arguments: json.RawMessage(args)})
	}
	return out
}
