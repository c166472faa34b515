package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lmoreno/finchat/internal/llm"
)

// FallbackConfirmationMessage is used when a confirmable tool registers no
// template of its own.
const FallbackConfirmationMessage = "¿Confirmas esta acción?"

// Call is one resolved tool invocation. ID is opaque and only correlates the
// call with its result and with a deferred confirmation.
type Call struct {
	ID        string         `json:"id"`
	Name      string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolFunc executes a tool against the user's records. Arguments have already
// passed schema validation; business-rule validation (positive amounts,
// required fields) is the tool's own job and must precede any write.
type ToolFunc func(ctx context.Context, userID string, args map[string]any) (any, error)

// ConfirmationTemplate renders the user-facing question for a gated call.
type ConfirmationTemplate func(args map[string]any) string

type RegisteredTool struct {
	Definition llm.ToolDefinition
	Schema     *jsonschema.Schema
	Exec       ToolFunc

	// RequiresConfirmation marks tools that mutate state. The registry is
	// the single source of truth for this flag.
	RequiresConfirmation bool
	Confirm              ConfirmationTemplate
}

// Registry is the process-wide tool catalogue. It is populated once at
// startup and read-only afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]RegisteredTool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]RegisteredTool{}}
}

func (r *Registry) Register(t RegisteredTool) error {
	if err := llm.ValidateToolName(t.Definition.Name); err != nil {
		return err
	}
	if t.Exec == nil {
		return fmt.Errorf("tool %s missing executor", t.Definition.Name)
	}
	if t.Schema == nil {
		s, err := compileSchema(t.Definition.Parameters)
		if err != nil {
			return fmt.Errorf("tool %s schema: %w", t.Definition.Name, err)
		}
		t.Schema = s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Definition.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Definition.Name)
	}
	r.tools[t.Definition.Name] = t
	return nil
}

// Definitions returns the schemas handed to the model, sorted by name so
// prompts stay deterministic.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Names() []string {
	defs := r.Definitions()
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

func (r *Registry) Lookup(name string) (RegisteredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

func (r *Registry) RequiresConfirmation(name string) bool {
	t, ok := r.Lookup(name)
	return ok && t.RequiresConfirmation
}

// ConfirmationMessage renders the question shown to the user before a gated
// call runs, falling back to the generic Spanish prompt.
func (r *Registry) ConfirmationMessage(name string, args map[string]any) string {
	t, ok := r.Lookup(name)
	if !ok || t.Confirm == nil {
		return FallbackConfirmationMessage
	}
	msg := strings.TrimSpace(t.Confirm(args))
	if msg == "" {
		return FallbackConfirmationMessage
	}
	return msg
}

// ValidateArgs checks call arguments against the tool's compiled schema.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	t, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := t.Schema.Validate(anyMap(args)); err != nil {
		return fmt.Errorf("tool %s arguments: %w", name, err)
	}
	return nil
}

// anyMap round-trips args through JSON so schema validation sees the same
// generic types the model wire format produces (float64 numbers, etc.).
func anyMap(args map[string]any) any {
	b, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return args
	}
	return out
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
