package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names one kind of audit record.
type AuditEventType string

const (
	AuditTurnStart AuditEventType = "turn_start"
	AuditTurnEnd   AuditEventType = "turn_end"

	AuditRoute    AuditEventType = "route"
	AuditFallback AuditEventType = "fallback"

	AuditPolicyAllow   AuditEventType = "policy_allow"
	AuditPolicyConfirm AuditEventType = "policy_confirm"
	AuditPolicyDeny    AuditEventType = "policy_deny"
	AuditConfirmAnswer AuditEventType = "confirm_answer"

	AuditToolExec AuditEventType = "tool_exec"

	AuditPluginStatus AuditEventType = "plugin_status"

	AuditLLMCall AuditEventType = "llm_call"
)

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditMu   sync.Mutex
	auditZap  = zap.NewNop()
	auditFile *os.File
)

// AuditLogger writes one JSON line per security-relevant event: which
// provider handled a turn, what the policy engine decided, and what ran.
type AuditLogger struct {
	turnID string
}

// InitAudit opens path for appending and routes audit events to it.
func InitAudit(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "event"
	encCfg.LevelKey = ""
	encCfg.EncodeTime = zapcore.EpochMillisTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), zapcore.InfoLevel)

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
	}
	auditFile = file
	auditZap = zap.New(core)
	return nil
}

// SetAuditLogger replaces the audit sink; tests pass an observer-backed logger.
func SetAuditLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	auditMu.Lock()
	defer auditMu.Unlock()
	auditZap = l
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	_ = auditZap.Sync()
	auditZap = zap.NewNop()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns an audit logger not bound to any turn.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditForTurn returns an audit logger scoped to a turn.
func AuditForTurn(turnID string) *AuditLogger {
	return &AuditLogger{turnID: turnID}
}

func (a *AuditLogger) log(event AuditEventType, fields ...zap.Field) {
	auditMu.Lock()
	l := auditZap
	auditMu.Unlock()
	if a.turnID != "" {
		fields = append(fields, zap.String("turn", a.turnID))
	}
	l.Info(string(event), fields...)
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// TurnStart records the start of a user turn.
func (a *AuditLogger) TurnStart(inputLen int) {
	a.log(AuditTurnStart, zap.Int("input_len", inputLen))
}

// TurnEnd records how a turn finished.
func (a *AuditLogger) TurnEnd(provider string, rounds int, durationMs int64, success bool, errMsg string) {
	a.log(AuditTurnEnd,
		zap.String("provider", provider),
		zap.Int("rounds", rounds),
		zap.Int64("dur_ms", durationMs),
		zap.Bool("success", success),
		zap.String("error", errMsg),
	)
}

// Route records a routing decision.
func (a *AuditLogger) Route(provider, reason string) {
	a.log(AuditRoute, zap.String("provider", provider), zap.String("reason", reason))
}

// Fallback records a provider switch after a failure.
func (a *AuditLogger) Fallback(from, to string, cause error) {
	a.log(AuditFallback, zap.String("from", from), zap.String("to", to), zap.Error(cause))
}

// PolicyDecision records an allow/confirm/deny outcome.
func (a *AuditLogger) PolicyDecision(event AuditEventType, toolID, risk, reason string) {
	a.log(event,
		zap.String("tool", toolID),
		zap.String("risk", risk),
		zap.String("reason", reason),
	)
}

// ConfirmAnswer records the user's answer to a confirmation prompt.
func (a *AuditLogger) ConfirmAnswer(toolID string, approved bool) {
	a.log(AuditConfirmAnswer, zap.String("tool", toolID), zap.Bool("approved", approved))
}

// ToolExec records a finished tool execution.
func (a *AuditLogger) ToolExec(toolID string, durationMs int64, success bool, errMsg string) {
	a.log(AuditToolExec,
		zap.String("tool", toolID),
		zap.Int64("dur_ms", durationMs),
		zap.Bool("success", success),
		zap.String("error", errMsg),
	)
}

// PluginStatus records a plugin connection state change.
func (a *AuditLogger) PluginStatus(serverID, state string, toolCount int, message string) {
	a.log(AuditPluginStatus,
		zap.String("server", serverID),
		zap.String("state", state),
		zap.Int("tools", toolCount),
		zap.String("msg", message),
	)
}

// LLMCall records one provider round trip.
func (a *AuditLogger) LLMCall(provider, model string, durationMs int64, success bool, errMsg string) {
	a.log(AuditLLMCall,
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Int64("dur_ms", durationMs),
		zap.Bool("success", success),
		zap.String("error", errMsg),
	)
}
