package orchestrator

import "sync"

type EventType string

const (
	EventThinking     EventType = "thinking"
	EventTools        EventType = "tools"
	EventExecuting    EventType = "executing"
	EventChunk        EventType = "chunk"
	EventConfirmation EventType = "confirmation"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// Event is one line of the streaming wire protocol.
type Event struct {
	Type      EventType            `json:"type"`
	Text      string               `json:"text,omitempty"`
	Names     []string             `json:"names,omitempty"`
	Request   *ConfirmationRequest `json:"request,omitempty"`
	ToolsUsed []string             `json:"tools_used"`
	Metrics   *TurnMetrics         `json:"metrics,omitempty"`
	Message   string               `json:"message,omitempty"`
}

// EventSink receives turn lifecycle events in causal order.
type EventSink func(Event)

// emitter enforces the turn state machine's terminal invariant: exactly one
// of done/error/confirmation is delivered, and nothing after it. A nil sink
// makes every emit a no-op (synchronous mode).
type emitter struct {
	mu       sync.Mutex
	sink     EventSink
	terminal bool
}

func newEmitter(sink EventSink) *emitter {
	return &emitter{sink: sink}
}

func (e *emitter) emit(ev Event) {
	if e == nil || e.sink == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal {
		return
	}
	switch ev.Type {
	case EventDone, EventError, EventConfirmation:
		e.terminal = true
	}
	e.sink(ev)
}

func (e *emitter) thinking() { e.emit(Event{Type: EventThinking}) }

func (e *emitter) toolsSelected(names []string) {
	e.emit(Event{Type: EventTools, Names: names})
}

func (e *emitter) executing() { e.emit(Event{Type: EventExecuting}) }

func (e *emitter) chunk(text string) {
	if text == "" {
		return
	}
	e.emit(Event{Type: EventChunk, Text: text})
}

func (e *emitter) confirmation(req ConfirmationRequest) {
	e.emit(Event{Type: EventConfirmation, Request: &req})
}

func (e *emitter) done(toolsUsed []string, m TurnMetrics) {
	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	e.emit(Event{Type: EventDone, ToolsUsed: toolsUsed, Metrics: &m})
}

func (e *emitter) error(message string) {
	e.emit(Event{Type: EventError, Message: message})
}
