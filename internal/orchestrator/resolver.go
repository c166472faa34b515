package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/lmoreno/finchat/internal/llm"
	"github.com/lmoreno/finchat/internal/tools"
)

// Resolution is the resolver's decision for one turn: either a direct
// answer (Direct=true, the model replied with plain text in the same
// round-trip) or zero-or-more tool calls. Zero calls with Direct=false means
// the synthesizer produces the reply with its own model call.
type Resolution struct {
	Direct bool
	Text   string
	Calls  []tools.Call
}

type Resolver interface {
	Resolve(ctx context.Context, userMessage string, history []Message, acct *Accountant) (Resolution, error)
}

// --- deterministic keyword router ---

type Intent string

const (
	IntentAnalyzeSpending Intent = "analyze_spending"
	IntentCheckBudget     Intent = "check_budget"
	IntentDetectAnomalies Intent = "detect_anomalies"
	IntentPredictSpending Intent = "predict_spending"
	IntentViewTrends      Intent = "view_trends"
	IntentGeneralQuestion Intent = "general_question"
	IntentUnclear         Intent = "unclear"
)

type intentRule struct {
	intent  Intent
	pattern *regexp.Regexp
}

var intentRules = []intentRule{
	{IntentCheckBudget, regexp.MustCompile(`(?i)presupuesto|budget|l[ií]mite`)},
	{IntentDetectAnomalies, regexp.MustCompile(`(?i)anomal[ií]a|raro|inusual|extraño`)},
	{IntentPredictSpending, regexp.MustCompile(`(?i)predic|proyec|fin de mes|cu[aá]nto gastar[eé]`)},
	{IntentViewTrends, regexp.MustCompile(`(?i)tendencia|evoluci[oó]n|hist[oó]rico|[uú]ltimos meses`)},
	{IntentAnalyzeSpending, regexp.MustCompile(`(?i)gast|spending|cu[aá]nto llevo|desglose|categor[ií]a`)},
	{IntentGeneralQuestion, regexp.MustCompile(`(?i)qu[eé]|c[oó]mo|por qu[eé]|ayuda|hola|gracias|\?`)},
}

// intentToolTable maps each intent to at most one tool. Intents absent from
// the table resolve to zero tools.
var intentToolTable = map[Intent]string{
	IntentAnalyzeSpending: "analyzeSpending",
	IntentCheckBudget:     "checkBudget",
	IntentDetectAnomalies: "detectAnomalies",
	IntentPredictSpending: "predictSpending",
	IntentViewTrends:      "viewTrends",
}

// KeywordResolver classifies the message into a fixed intent set and maps it
// 1:1 to a tool. It never selects more than one tool per turn and never
// invokes a tool outside its static table.
type KeywordResolver struct {
	reg *tools.Registry
}

func NewKeywordResolver(reg *tools.Registry) *KeywordResolver {
	return &KeywordResolver{reg: reg}
}

// ClassifyIntent is exported for the capabilities surface and for tests.
func ClassifyIntent(message string) Intent {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return IntentUnclear
	}
	for _, r := range intentRules {
		if r.pattern.MatchString(msg) {
			return r.intent
		}
	}
	return IntentUnclear
}

func (r *KeywordResolver) Resolve(ctx context.Context, userMessage string, history []Message, acct *Accountant) (Resolution, error) {
	intent := ClassifyIntent(userMessage)
	toolName, ok := intentToolTable[intent]
	if !ok || !r.reg.Has(toolName) {
		return Resolution{}, nil
	}
	return Resolution{Calls: []tools.Call{{
		ID:        "call_" + ulid.Make().String(),
		Name:      toolName,
		Arguments: map[string]any{},
	}}}, nil
}

// --- model-native function-calling resolver ---

// FunctionCallResolver hands the registry's schemas to the model in one call;
// the model may answer directly or request several tools to run in parallel.
type FunctionCallResolver struct {
	Client   *llm.Client
	Model    string
	Provider string
	Registry *tools.Registry
	Retry    llm.RetryPolicy
	Sleep    llm.SleepFunc
	Logger   *log.Logger
}

func (r *FunctionCallResolver) Resolve(ctx context.Context, userMessage string, history []Message, acct *Accountant) (Resolution, error) {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.System(resolverSystemPrompt))
	for _, h := range history {
		msgs = append(msgs, llm.Message{Role: llm.Role(h.Role), Content: h.Content})
	}
	msgs = append(msgs, llm.User(userMessage))

	req := llm.Request{
		Model:    r.Model,
		Provider: r.Provider,
		Messages: msgs,
		Tools:    r.Registry.Definitions(),
	}
	resp, err := llm.Retry(ctx, r.Retry, r.Sleep, nil, func() (llm.Response, error) {
		return r.Client.Complete(ctx, req)
	})
	if err != nil {
		return Resolution{}, err
	}
	if acct != nil {
		acct.AddUsage(resp.Usage)
	}

	modelCalls := resp.ToolCalls()
	if len(modelCalls) == 0 {
		return Resolution{Direct: true, Text: resp.Text()}, nil
	}

	calls := make([]tools.Call, 0, len(modelCalls))
	dropped := 0
	for _, mc := range modelCalls {
		if !r.Registry.Has(mc.Name) {
			// The model asked for a tool outside the registry: drop the call
			// and count it so schema drift shows up in monitoring.
			dropped++
			if r.Logger != nil {
				r.Logger.Printf("resolver: dropped unknown tool call %q", mc.Name)
			}
			continue
		}
		args := map[string]any{}
		if len(mc.Arguments) > 0 {
			if err := json.Unmarshal(mc.Arguments, &args); err != nil {
				dropped++
				if r.Logger != nil {
					r.Logger.Printf("resolver: dropped tool call %q with malformed arguments: %v", mc.Name, err)
				}
				continue
			}
		}
		id := mc.ID
		if strings.TrimSpace(id) == "" {
			id = "call_" + ulid.Make().String()
		}
		calls = append(calls, tools.Call{ID: id, Name: mc.Name, Arguments: args})
	}
	if acct != nil && dropped > 0 {
		acct.AddDropped(dropped)
	}
	if len(calls) == 0 && strings.TrimSpace(resp.Text()) != "" {
		return Resolution{Direct: true, Text: resp.Text()}, nil
	}
	return Resolution{Calls: calls}, nil
}
