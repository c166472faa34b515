package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lmoreno/finchat/internal/llm"
	"github.com/lmoreno/finchat/internal/tools"
)

// Synthesizer turns tool results (or just the conversation) into the final
// natural-language reply. With a delta callback it consumes the model output
// incrementally instead of buffering the full reply.
type Synthesizer struct {
	Client   *llm.Client
	Model    string
	Provider string
	Retry    llm.RetryPolicy
	Sleep    llm.SleepFunc
}

func (s *Synthesizer) Synthesize(ctx context.Context, userMessage string, history []Message, results map[string]tools.Result, onDelta func(string), acct *Accountant) (string, error) {
	msgs := make([]llm.Message, 0, len(history)+3)
	msgs = append(msgs, llm.System(synthesisSystemPrompt))
	for _, h := range history {
		msgs = append(msgs, llm.Message{Role: llm.Role(h.Role), Content: h.Content})
	}
	msgs = append(msgs, llm.User(userMessage))
	if len(results) > 0 {
		msgs = append(msgs, llm.System(resultsContext(results)))
	}

	req := llm.Request{
		Model:    s.Model,
		Provider: s.Provider,
		Messages: msgs,
	}

	if onDelta == nil {
		resp, err := llm.Retry(ctx, s.Retry, s.Sleep, nil, func() (llm.Response, error) {
			return s.Client.Complete(ctx, req)
		})
		if err != nil {
			return "", err
		}
		if acct != nil {
			acct.AddUsage(resp.Usage)
		}
		return resp.Text(), nil
	}

	st, err := s.Client.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer st.Close()
	resp, err := llm.CollectStream(st, onDelta)
	if err != nil {
		return "", err
	}
	if acct != nil {
		acct.AddUsage(resp.Usage)
	}
	return resp.Text(), nil
}

// resultsContext folds every tool's outcome into a system block the model can
// quote figures from. Failed tools appear with their error text so the reply
// can acknowledge them.
func resultsContext(results map[string]tools.Result) string {
	var b strings.Builder
	b.WriteString("Resultados de las herramientas ejecutadas (JSON):\n")
	for _, name := range sortedResultNames(results) {
		r := results[name]
		if r.Success {
			data, err := json.Marshal(r.Data)
			if err != nil {
				data = []byte(`"<dato no serializable>"`)
			}
			fmt.Fprintf(&b, "- %s: ok, datos=%s\n", name, data)
		} else {
			fmt.Fprintf(&b, "- %s: falló (%s)\n", name, r.Error)
		}
	}
	return b.String()
}

func sortedResultNames(results map[string]tools.Result) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	// Deterministic prompt ordering; the result map itself carries no order.
	sort.Strings(names)
	return names
}
