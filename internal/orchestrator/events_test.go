package orchestrator

import (
	"encoding/json"
	"strings"
	"testing"
)

// A done event always carries tools_used on the wire, [] when the turn ran
// no tools.
func TestDoneEventCarriesEmptyToolsUsed(t *testing.T) {
	var got *Event
	em := newEmitter(func(ev Event) { got = &ev })
	em.done(nil, TurnMetrics{Model: "gpt-4o-mini"})

	if got == nil {
		t.Fatalf("no event emitted")
	}
	b, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"tools_used":[]`) {
		t.Fatalf("done event missing empty tools_used: %s", b)
	}
}

func TestEmitter_NothingAfterTerminal(t *testing.T) {
	var types []EventType
	em := newEmitter(func(ev Event) { types = append(types, ev.Type) })
	em.thinking()
	em.done([]string{"viewTrends"}, TurnMetrics{})
	em.chunk("tarde")
	em.error("tarde")
	em.done(nil, TurnMetrics{})

	want := []EventType{EventThinking, EventDone}
	if len(types) != len(want) {
		t.Fatalf("events: %v", types)
	}
	for i, w := range want {
		if types[i] != w {
			t.Fatalf("event[%d] = %s want %s", i, types[i], w)
		}
	}
}
