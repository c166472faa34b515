package orchestrator

import (
	"sync"
	"time"

	"github.com/lmoreno/finchat/internal/llm"
)

// Accountant accumulates token usage, cost, and tool-call counts across the
// model invocations of a single turn. One accountant per turn; safe for
// concurrent use because synthesis streaming and tool fan-out overlap.
type Accountant struct {
	mu      sync.Mutex
	model   string
	prices  llm.PriceTable
	started time.Time
	m       TurnMetrics
}

func NewAccountant(model string, prices llm.PriceTable) *Accountant {
	return &Accountant{
		model:   model,
		prices:  prices,
		started: time.Now(),
		m:       TurnMetrics{Model: model},
	}
}

// AddUsage records one model invocation's token report.
func (a *Accountant) AddUsage(usage llm.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m.InputTokens += usage.PromptTokens
	a.m.OutputTokens += usage.CompletionTokens
	a.m.CostUSD += a.prices.CostUSD(a.model, usage)
}

func (a *Accountant) AddToolCalls(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m.ToolCalls += n
}

func (a *Accountant) AddDropped(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m.DroppedToolCalls += n
}

// Finish stamps the wall-clock latency and returns the final snapshot.
func (a *Accountant) Finish() TurnMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m.LatencyMS = time.Since(a.started).Milliseconds()
	return a.m
}
