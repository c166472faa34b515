package tools

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func registryWith(t *testing.T, defs ...RegisteredTool) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register %s: %v", d.Definition.Name, err)
		}
	}
	return reg
}

func TestExecutor_FailureIsolation(t *testing.T) {
	reg := registryWith(t,
		echoTool("analyzeSpending", nil),
		echoTool("viewTrends", nil),
	)
	failing := echoTool("checkBudget", nil)
	failing.Exec = func(ctx context.Context, userID string, args map[string]any) (any, error) {
		return nil, fmt.Errorf("no budget configured")
	}
	if err := reg.Register(failing); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex := NewExecutor(reg)
	results := ex.Execute(context.Background(), "u1", []Call{
		{ID: "c1", Name: "analyzeSpending"},
		{ID: "c2", Name: "checkBudget"},
		{ID: "c3", Name: "viewTrends"},
	})

	if len(results) != 3 {
		t.Fatalf("results: %d want 3", len(results))
	}
	if !results["analyzeSpending"].Success || !results["viewTrends"].Success {
		t.Fatalf("healthy tools should succeed: %+v", results)
	}
	r := results["checkBudget"]
	if r.Success {
		t.Fatalf("failing tool reported success")
	}
	if !strings.Contains(r.Error, "no budget configured") {
		t.Fatalf("error: %q", r.Error)
	}
}

func TestExecutor_PanicIsContained(t *testing.T) {
	panicky := echoTool("detectAnomalies", nil)
	panicky.Exec = func(ctx context.Context, userID string, args map[string]any) (any, error) {
		panic("boom")
	}
	reg := registryWith(t, echoTool("analyzeSpending", nil), panicky)

	ex := NewExecutor(reg)
	results := ex.Execute(context.Background(), "u1", []Call{
		{ID: "c1", Name: "detectAnomalies"},
		{ID: "c2", Name: "analyzeSpending"},
	})

	r := results["detectAnomalies"]
	if r.Success {
		t.Fatalf("panicking tool reported success")
	}
	if !strings.Contains(r.Error, "panicked") {
		t.Fatalf("error: %q", r.Error)
	}
	if !results["analyzeSpending"].Success {
		t.Fatalf("sibling tool should have run to completion")
	}
}

func TestExecutor_UnknownToolAndBadArgs(t *testing.T) {
	reg := registryWith(t, echoTool("createTransaction", amountSchema()))
	ex := NewExecutor(reg)

	results := ex.Execute(context.Background(), "u1", []Call{
		{ID: "c1", Name: "ghostTool"},
		{ID: "c2", Name: "createTransaction", Arguments: map[string]any{"merchant": "X"}},
	})
	if results["ghostTool"].Success {
		t.Fatalf("unknown tool reported success")
	}
	if !strings.Contains(results["ghostTool"].Error, "unknown tool") {
		t.Fatalf("error: %q", results["ghostTool"].Error)
	}
	if results["createTransaction"].Success {
		t.Fatalf("schema-invalid args reported success")
	}
}

// All calls in a batch must start before any finishes: three tools block on a
// shared rendezvous that only releases once all three have arrived.
func TestExecutor_RunsCallsConcurrently(t *testing.T) {
	const n = 3
	var arrived int32
	release := make(chan struct{})

	reg := NewRegistry()
	for i := 0; i < n; i++ {
		tool := echoTool(fmt.Sprintf("tool%d", i), nil)
		tool.Exec = func(ctx context.Context, userID string, args map[string]any) (any, error) {
			if atomic.AddInt32(&arrived, 1) == n {
				close(release)
			}
			select {
			case <-release:
				return "ok", nil
			case <-time.After(5 * time.Second):
				return nil, fmt.Errorf("siblings never started")
			}
		}
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	ex := NewExecutor(reg)
	calls := make([]Call, n)
	for i := range calls {
		calls[i] = Call{ID: fmt.Sprintf("c%d", i), Name: fmt.Sprintf("tool%d", i)}
	}
	results := ex.Execute(context.Background(), "u1", calls)
	for name, r := range results {
		if !r.Success {
			t.Fatalf("%s: %s", name, r.Error)
		}
	}
}

func TestExecutor_EmptyBatch(t *testing.T) {
	ex := NewExecutor(NewRegistry())
	if got := ex.Execute(context.Background(), "u1", nil); len(got) != 0 {
		t.Fatalf("empty batch produced %d results", len(got))
	}
}
