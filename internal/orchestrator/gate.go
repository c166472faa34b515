package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/lmoreno/finchat/internal/tools"
)

// Gate blocks state-mutating tool calls pending explicit user approval.
// The enabled flag is threaded in at construction so both positions are
// independently testable; disabled reproduces the legacy always-proceed
// behavior.
type Gate struct {
	reg     *tools.Registry
	enabled bool
}

func NewGate(reg *tools.Registry, enabled bool) *Gate {
	return &Gate{reg: reg, enabled: enabled}
}

// Check inspects the resolved calls. If any call requires confirmation and no
// matching confirmed action was supplied, the whole turn blocks on the first
// such call: a mixed batch is never partially executed.
func (g *Gate) Check(calls []tools.Call, confirmed *PendingAction) (proceed []tools.Call, blocked *ConfirmationRequest) {
	if !g.enabled {
		return calls, nil
	}
	var confirmedFP string
	if confirmed != nil {
		confirmedFP = Fingerprint(confirmed.ToolCall)
	}
	for _, call := range calls {
		if !g.reg.RequiresConfirmation(call.Name) {
			continue
		}
		if confirmedFP != "" && Fingerprint(call) == confirmedFP {
			continue
		}
		req := ConfirmationRequest{
			Message: g.reg.ConfirmationMessage(call.Name, call.Arguments),
			PendingAction: PendingAction{
				ToolCall:    call,
				ToolName:    call.Name,
				Arguments:   call.Arguments,
				Description: g.reg.ConfirmationMessage(call.Name, call.Arguments),
			},
			RequiresConfirmation: true,
		}
		return nil, &req
	}
	return calls, nil
}

// Fingerprint identifies a tool call by content: same tool name plus same
// arguments yield the same fingerprint regardless of wire key order, because
// encoding/json marshals map keys sorted. The opaque call ID is deliberately
// excluded so a resubmitted confirmation matches the freshly resolved call.
func Fingerprint(call tools.Call) string {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	h := blake3.New()
	_, _ = h.Write([]byte(call.Name))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(args)
	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}
