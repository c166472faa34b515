package llm

import (
	"context"
	"sync"
)

type StreamEventType string

const (
	StreamEventStreamStart StreamEventType = "STREAM_START"
	StreamEventTextDelta   StreamEventType = "TEXT_DELTA"
	StreamEventFinish      StreamEventType = "FINISH"
	StreamEventError       StreamEventType = "ERROR"
)

// StreamEvent is one incremental item of a streaming completion.
// FINISH carries the assembled Response including usage.
type StreamEvent struct {
	Type     StreamEventType
	Delta    string
	Response *Response
	Err      error
}

// Stream yields completion events in the provider's generation order.
// The channel is closed after a FINISH or ERROR event.
type Stream interface {
	Events() <-chan StreamEvent
	Close()
}

// ChanStream is a channel-backed Stream. Producers call Send then CloseSend;
// Close cancels the producer and drains.
type ChanStream struct {
	ch     chan StreamEvent
	cancel context.CancelFunc
	once   sync.Once
}

func NewChanStream(cancel context.CancelFunc) *ChanStream {
	return &ChanStream{ch: make(chan StreamEvent, 64), cancel: cancel}
}

func (s *ChanStream) Events() <-chan StreamEvent { return s.ch }

func (s *ChanStream) Send(ev StreamEvent) {
	// CloseSend may race with a producer during cancellation; dropping the
	// event is acceptable, the consumer already walked away.
	defer func() { _ = recover() }()
	s.ch <- ev
}

func (s *ChanStream) CloseSend() {
	s.once.Do(func() { close(s.ch) })
}

func (s *ChanStream) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	go func() {
		for range s.ch {
		}
	}()
}

// CollectStream drains a stream, invoking onDelta for every text fragment,
// and returns the final response. Exactly one of the return values is set.
func CollectStream(st Stream, onDelta func(delta string)) (Response, error) {
	var final *Response
	for ev := range st.Events() {
		switch ev.Type {
		case StreamEventTextDelta:
			if onDelta != nil && ev.Delta != "" {
				onDelta(ev.Delta)
			}
		case StreamEventFinish:
			if ev.Response != nil {
				r := *ev.Response
				final = &r
			}
		case StreamEventError:
			return Response{}, ev.Err
		}
	}
	if final == nil {
		return Response{}, &ConfigurationError{Message: "stream ended without a finish event"}
	}
	return *final, nil
}
