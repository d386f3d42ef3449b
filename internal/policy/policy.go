// Package policy decides whether a tool call may run, must be confirmed by
// the user, or is refused. Decisions are computed fresh for every call.
package policy

import (
	"fmt"
	"strings"

	"deskagent/internal/logging"
	"deskagent/internal/types"
)

// AutonomyLevel is how much the assistant may do without asking.
type AutonomyLevel int

const (
	ConfirmAll AutonomyLevel = iota
	AutoExecute
	// FullyAuto is not yet differentiated from AutoExecute.
	FullyAuto
)

func (l AutonomyLevel) String() string {
	switch l {
	case ConfirmAll:
		return "confirm_all"
	case AutoExecute:
		return "auto_execute"
	case FullyAuto:
		return "fully_auto"
	}
	return fmt.Sprintf("autonomy(%d)", int(l))
}

// ParseAutonomyLevel accepts the config spellings confirm_all,
// auto_execute and fully_auto, plus their camel-case forms.
func ParseAutonomyLevel(s string) (AutonomyLevel, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "confirmall":
		return ConfirmAll, nil
	case "autoexecute":
		return AutoExecute, nil
	case "fullyauto":
		return FullyAuto, nil
	}
	return ConfirmAll, fmt.Errorf("unknown autonomy level %q", s)
}

// Action is the outcome of an evaluation.
type Action int

const (
	Allow Action = iota
	RequireConfirmation
	Deny
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case RequireConfirmation:
		return "confirm"
	case Deny:
		return "deny"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Decision is an Action with the reason shown to the user. Allow carries
// no reason.
type Decision struct {
	Action Action
	Reason string
}

func allow() Decision { return Decision{Action: Allow} }
func confirm(reason string) Decision { return Decision{Action: RequireConfirmation, Reason: reason} }
func deny(reason string) Decision { return Decision{Action: Deny, Reason: reason} }

// RiskLookup resolves a tool id to its risk tier. *tools.Registry
// satisfies it.
type RiskLookup interface {
	RiskLevel(id string) (types.RiskLevel, bool)
}

// Engine evaluates tool calls. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	lookup RiskLookup
}

// New creates an engine that resolves risk tiers through lookup.
func New(lookup RiskLookup) *Engine {
	return &Engine{lookup: lookup}
}

// SafetyLevel returns the risk tier of toolID. Unknown tools are
// dangerous.
func (e *Engine) SafetyLevel(toolID string) types.RiskLevel {
	if e.lookup == nil {
		return types.RiskDangerous
	}
	risk, ok := e.lookup.RiskLevel(toolID)
	if !ok {
		return types.RiskDangerous
	}
	return risk
}

// Evaluate decides what to do with a call to toolID. Arguments are checked
// in their sanitized form whether or not the caller sanitized them.
func (e *Engine) Evaluate(toolID string, args types.Args, level AutonomyLevel) Decision {
	d := e.evaluate(toolID, sanitizeArgs(args), level)
	logging.PolicyDebug("%s under %s: %s %s", toolID, level, d.Action, d.Reason)
	return d
}

func (e *Engine) evaluate(toolID string, args types.Args, level AutonomyLevel) Decision {
	for _, key := range args.Keys() {
		if at, bad, ok := findTraversal(key, args[key], false); ok {
			return deny(fmt.Sprintf("Path traversal is not allowed: %s=%q", at, bad))
		}
	}

	var risk types.RiskLevel
	known := false
	if e.lookup != nil {
		risk, known = e.lookup.RiskLevel(toolID)
	}
	if !known {
		return confirm(fmt.Sprintf("%s is not a known tool", toolID))
	}

	switch level {
	case AutoExecute, FullyAuto:
		if risk == types.RiskDangerous {
			return confirm(fmt.Sprintf("%s is a dangerous action", toolID))
		}
		return allow()
	default:
		return confirm(fmt.Sprintf("Confirmation is required before running %s", toolID))
	}
}
