// Package orchestrator runs user turns. A turn is routed to a model, driven
// through the tool-use loop with policy checks on every call, and falls back
// to a single local step when the cloud model cannot be reached.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"deskagent/internal/config"
	"deskagent/internal/llm"
	"deskagent/internal/logging"
	"deskagent/internal/policy"
	"deskagent/internal/router"
	"deskagent/internal/types"
)

const (
	DefaultMaxRounds         = 10
	DefaultTurnTimeout       = 90 * time.Second
	DefaultPluginConnectWait = 15 * time.Second
)

// ToolRunner is the part of the tool registry a turn uses.
type ToolRunner interface {
	Definition(id string) (types.ToolDefinition, bool)
	Definitions() []types.ToolDefinition
	ToolSchemas() []types.ToolSchema
	Validate(call types.ToolCall) error
	Execute(ctx context.Context, call types.ToolCall) types.ToolExecutionResult
}

// PluginConnector brings configured plugin servers online before a turn.
type PluginConnector interface {
	ConnectAllEnabled(ctx context.Context) error
}

// Confirmer asks the user whether a tool call may run.
type Confirmer interface {
	Confirm(ctx context.Context, call types.ToolCall, reason string, risk types.RiskLevel) bool
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, call types.ToolCall, reason string, risk types.RiskLevel) bool

// Confirm calls f.
func (f ConfirmerFunc) Confirm(ctx context.Context, call types.ToolCall, reason string, risk types.RiskLevel) bool {
	return f(ctx, call, reason, risk)
}

// StatusObserver receives progress messages as a turn advances. It must
// not block.
type StatusObserver interface {
	Status(message string)
}

// StatusFunc adapts a function to StatusObserver.
type StatusFunc func(message string)

// Status calls f.
func (f StatusFunc) Status(message string) { f(message) }

// Deps are the services a turn works with. Tools, Policy and Router are
// required; a nil Confirmer denies every confirmation.
type Deps struct {
	Tools     ToolRunner
	Policy    *policy.Engine
	Router    *router.Router
	Cloud     llm.Provider
	Local     llm.Provider
	Plugins   PluginConnector
	Confirmer Confirmer
	Status    StatusObserver
}

// Settings bound and shape each turn.
type Settings struct {
	Autonomy          policy.AutonomyLevel
	MaxRounds         int
	TurnTimeout       time.Duration
	PluginConnectWait time.Duration
	SystemPrompt      string
	MaxTokens         int
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Autonomy:          policy.AutoExecute,
		MaxRounds:         DefaultMaxRounds,
		TurnTimeout:       DefaultTurnTimeout,
		PluginConnectWait: DefaultPluginConnectWait,
	}
}

// SettingsFromConfig reads the assistant section of cfg.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	level, err := policy.ParseAutonomyLevel(cfg.Assistant.AutonomyLevel)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Autonomy:          level,
		MaxRounds:         cfg.Assistant.MaxRounds,
		TurnTimeout:       cfg.GetTurnTimeout(),
		PluginConnectWait: cfg.GetPluginConnectWait(),
		SystemPrompt:      cfg.Assistant.SystemPrompt,
		MaxTokens:         cfg.LLM.Cloud.MaxTokens,
	}, nil
}

// ToolOutcome records what happened to one requested tool call.
type ToolOutcome struct {
	Call     types.ToolCall
	Executed bool
	Success  bool
	Message  string
}

// Result is the outcome of one turn. Text is always set and is safe to
// show to the user.
type Result struct {
	TurnID   string
	Text     string
	Success  bool
	Stopped  bool
	Legacy   bool
	Provider router.Provider
	Rounds   int
	Tools    []ToolOutcome
	Err      error
	Duration time.Duration
}

// Orchestrator runs turns one at a time.
type Orchestrator struct {
	deps     Deps
	settings Settings

	turnMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	aborted atomic.Bool
}

// New creates an orchestrator. Zero settings fall back to the defaults.
func New(deps Deps, settings Settings) *Orchestrator {
	if settings.MaxRounds <= 0 {
		settings.MaxRounds = DefaultMaxRounds
	}
	if settings.TurnTimeout <= 0 {
		settings.TurnTimeout = DefaultTurnTimeout
	}
	if settings.PluginConnectWait <= 0 {
		settings.PluginConnectWait = DefaultPluginConnectWait
	}
	if deps.Policy == nil {
		deps.Policy = policy.New(nil)
	}
	if deps.Router == nil {
		deps.Router = router.New(router.ModeAuto, nil)
	}
	return &Orchestrator{deps: deps, settings: settings}
}

// Abort stops the running turn. The provider request in flight is
// cancelled, and no further model call or tool execution starts.
func (o *Orchestrator) Abort() {
	o.aborted.Store(true)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// Run processes one user request. It always returns a Result; failures are
// described in Result.Text and classified by Result.Err.
func (o *Orchestrator) Run(ctx context.Context, input string) Result {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.settings.TurnTimeout)
	defer cancel()
	o.aborted.Store(false)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	t := &turn{
		id:    uuid.NewString(),
		input: input,
		start: time.Now(),
	}
	t.audit = logging.AuditForTurn(t.id)
	t.log = logging.WithTurn(logging.CategoryOrchestrator, t.id)
	t.audit.TurnStart(len(input))
	t.log.Info("Turn started (%d chars)", len(input))

	var res Result
	if o.deps.Cloud == nil || !o.deps.Cloud.Available(ctx) {
		t.log.Info("Cloud model unavailable, using the single-step local path")
		res = o.runLegacy(ctx, t)
		res.Legacy = true
	} else {
		res = o.runPrimary(ctx, t)
	}

	res.TurnID = t.id
	res.Rounds = t.rounds
	res.Tools = t.outcomes
	res.Duration = time.Since(t.start)
	if res.Provider == "" {
		res.Provider = t.route
	}
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	t.audit.TurnEnd(string(res.Provider), t.rounds, res.Duration.Milliseconds(), res.Success, errMsg)
	t.log.Info("Turn finished in %v: success=%v rounds=%d", res.Duration, res.Success, t.rounds)
	return res
}

// turn is the state of one Run.
type turn struct {
	id    string
	input string
	start time.Time
	audit *logging.AuditLogger
	log   *logging.Logger

	route      router.Provider
	provider   llm.Provider
	fellBack   bool
	rounds     int
	history    []llm.Message
	outcomes   []ToolOutcome
	lastAnswer string
}

// check is consulted before every model call and tool execution.
func (o *Orchestrator) check(ctx context.Context) error {
	if o.aborted.Load() {
		return ErrAborted
	}
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimedOut
	default:
		return ErrAborted
	}
}

func (o *Orchestrator) status(message string) {
	if o.deps.Status != nil {
		o.deps.Status.Status(message)
	}
}

func (o *Orchestrator) provider(p router.Provider) llm.Provider {
	if p == router.ProviderCloud {
		return o.deps.Cloud
	}
	return o.deps.Local
}
