package orchestrator

import (
	"context"
	"fmt"

	"deskagent/internal/llm"
	"deskagent/internal/logging"
	"deskagent/internal/policy"
	"deskagent/internal/types"
)

// runTools answers every call of one model response. A failing call
// becomes an error result; only abort and the deadline stop the batch.
func (o *Orchestrator) runTools(ctx context.Context, t *turn, calls []types.ToolCall) ([]llm.ContentBlock, error) {
	blocks := make([]llm.ContentBlock, 0, len(calls))
	for _, call := range calls {
		out, err := o.runTool(ctx, t, call)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, llm.ToolResultBlock(call.ID, out.Message, !out.Success))
	}
	return blocks, nil
}

// runTool sanitizes, validates, applies policy and executes one call.
func (o *Orchestrator) runTool(ctx context.Context, t *turn, call types.ToolCall) (ToolOutcome, error) {
	if err := o.check(ctx); err != nil {
		return ToolOutcome{}, err
	}
	call.Arguments = o.deps.Policy.Sanitize(call.Arguments)
	out := ToolOutcome{Call: call}
	defer func() { t.outcomes = append(t.outcomes, out) }()

	if err := o.deps.Tools.Validate(call); err != nil {
		t.log.Warn("Rejected call to %s: %v", call.ToolID, err)
		out.Message = fmt.Sprintf("Invalid tool call: %v", err)
		return out, nil
	}

	decision := o.deps.Policy.Evaluate(call.ToolID, call.Arguments, o.settings.Autonomy)
	risk := o.deps.Policy.SafetyLevel(call.ToolID)
	switch decision.Action {
	case policy.Deny:
		t.audit.PolicyDecision(logging.AuditPolicyDeny, call.ToolID, string(risk), decision.Reason)
		out.Message = "Blocked: " + decision.Reason
		return out, nil

	case policy.RequireConfirmation:
		t.audit.PolicyDecision(logging.AuditPolicyConfirm, call.ToolID, string(risk), decision.Reason)
		approved := o.confirm(ctx, call, decision.Reason, risk)
		t.audit.ConfirmAnswer(call.ToolID, approved)
		if !approved {
			out.Message = fmt.Sprintf("The user declined to run %s.", call.ToolID)
			return out, nil
		}
		// Confirmation can take a while.
		if err := o.check(ctx); err != nil {
			out.Message = "Stopped before running " + call.ToolID
			return out, err
		}

	default:
		t.audit.PolicyDecision(logging.AuditPolicyAllow, call.ToolID, string(risk), decision.Reason)
	}

	o.status(fmt.Sprintf("Running %s…", o.displayName(call.ToolID)))
	res := o.deps.Tools.Execute(ctx, call)
	errMsg := ""
	if !res.Success {
		errMsg = res.Message
	}
	t.audit.ToolExec(call.ToolID, res.DurationMs, res.Success, errMsg)

	out.Executed = true
	out.Success = res.Success
	out.Message = res.Text()
	return out, nil
}

// confirm asks the user. Without a Confirmer the answer is no.
func (o *Orchestrator) confirm(ctx context.Context, call types.ToolCall, reason string, risk types.RiskLevel) bool {
	if o.deps.Confirmer == nil {
		logging.OrchestratorWarn("No confirmation handler, refusing %s", call.ToolID)
		return false
	}
	o.status(fmt.Sprintf("Waiting for confirmation to run %s…", o.displayName(call.ToolID)))
	return o.deps.Confirmer.Confirm(ctx, call, reason, risk)
}

func (o *Orchestrator) displayName(toolID string) string {
	if def, ok := o.deps.Tools.Definition(toolID); ok && def.DisplayName != "" {
		return def.DisplayName
	}
	return toolID
}
