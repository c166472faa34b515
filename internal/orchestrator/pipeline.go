package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/lmoreno/finchat/internal/llm"
	"github.com/lmoreno/finchat/internal/tools"
)

const MaxMessageChars = 1000

// fallbackReply guards the invariant that a completed turn never returns an
// empty message, even when every tool failed and the model went quiet.
const fallbackReply = "Lo siento, no he podido preparar una respuesta. Inténtalo de nuevo."

const providerErrorReply = "El asistente no está disponible en este momento. Inténtalo de nuevo en unos minutos."

// ErrInvalidInput marks request validation failures; they are rejected before
// any side effect and never retried.
var ErrInvalidInput = errors.New("invalid input")

// Pipeline runs one conversational turn: resolve → gate → execute →
// synthesize → attach metrics, emitting lifecycle events along the way.
// A nil sink gives the synchronous (non-streaming) mode; both modes share
// this code path, so streamed chunks always concatenate to the synchronous
// reply.
type Pipeline struct {
	Resolver Resolver
	Gate     *Gate
	Executor *tools.Executor
	Synth    *Synthesizer
	Model    string
	Prices   llm.PriceTable
	Logger   *log.Logger
}

func (p *Pipeline) Run(ctx context.Context, in TurnInput, sink EventSink) (result TurnResult, err error) {
	em := newEmitter(sink)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("turn panicked: %v", r)
			em.error(providerErrorReply)
		}
	}()

	if err := validateInput(in); err != nil {
		em.error(err.Error())
		return TurnResult{}, err
	}

	acct := NewAccountant(p.Model, p.Prices)
	em.thinking()

	res, rerr := p.Resolver.Resolve(ctx, in.Message, in.History, acct)
	if rerr != nil {
		p.logf("resolver failed: %v", rerr)
		em.error(providerErrorReply)
		return TurnResult{}, rerr
	}

	// Model answered in the resolution round-trip: skip executor and
	// synthesizer entirely.
	if res.Direct {
		text := strings.TrimSpace(res.Text)
		if text == "" {
			text = fallbackReply
		}
		em.chunk(text)
		metrics := acct.Finish()
		em.done(nil, metrics)
		return TurnResult{Message: text, ToolsUsed: []string{}, Metrics: metrics}, nil
	}

	calls := res.Calls
	if len(calls) > 0 {
		em.toolsSelected(callNames(calls))
	}

	proceed, blocked := p.Gate.Check(calls, in.ConfirmedAction)
	if blocked != nil {
		em.confirmation(*blocked)
		return TurnResult{Confirmation: blocked, Metrics: acct.Finish()}, nil
	}

	var results map[string]tools.Result
	if len(proceed) > 0 {
		em.executing()
		results = p.Executor.Execute(ctx, in.UserID, proceed)
		acct.AddToolCalls(len(proceed))
	}

	// Only stream the model output when someone is listening; the synchronous
	// mode uses a plain completion.
	var onDelta func(string)
	if sink != nil {
		onDelta = em.chunk
	}
	text, serr := p.Synth.Synthesize(ctx, in.Message, in.History, results, onDelta, acct)
	if serr != nil {
		p.logf("synthesizer failed: %v", serr)
		em.error(providerErrorReply)
		return TurnResult{}, serr
	}
	// Already-streamed chunks must concatenate to exactly the returned
	// message, so the text is kept verbatim; only an all-blank reply is
	// replaced.
	if strings.TrimSpace(text) == "" {
		text = fallbackReply
		em.chunk(text)
	}

	metrics := acct.Finish()
	used := callNames(proceed)
	em.done(used, metrics)
	return TurnResult{Message: text, ToolsUsed: used, Metrics: metrics}, nil
}

func validateInput(in TurnInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return fmt.Errorf("%w: message must not be empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(in.Message) > MaxMessageChars {
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, MaxMessageChars)
	}
	for i, h := range in.History {
		if h.Role != "user" && h.Role != "assistant" {
			return fmt.Errorf("%w: history item %d has invalid role %q", ErrInvalidInput, i, h.Role)
		}
	}
	return nil
}

func callNames(calls []tools.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Name)
	}
	return out
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}
