package tools

import (
	"context"
	"fmt"
	"sync"
)

// Result is the per-tool outcome envelope. Failures never propagate past the
// executor boundary; they land here as Success=false.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor runs resolved tool calls against the registry. All calls in a
// batch start before any is awaited; one call's failure (error or panic)
// never aborts its siblings.
type Executor struct {
	reg *Registry
}

func NewExecutor(reg *Registry) *Executor {
	return &Executor{reg: reg}
}

// Execute fans out every call concurrently and returns a map keyed by tool
// name with exactly one entry per distinct tool in the batch.
func (e *Executor) Execute(ctx context.Context, userID string, calls []Call) map[string]Result {
	results := make(map[string]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i := range calls {
		call := calls[i]
		go func() {
			defer wg.Done()
			res := e.runOne(ctx, userID, call)
			mu.Lock()
			results[call.Name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (e *Executor) runOne(ctx context.Context, userID string, call Call) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Success: false, Error: fmt.Sprintf("tool %s panicked: %v", call.Name, r)}
		}
	}()

	t, ok := e.reg.Lookup(call.Name)
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}
	if err := e.reg.ValidateArgs(call.Name, call.Arguments); err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	data, err := t.Exec(ctx, userID, args)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Data: data}
}
