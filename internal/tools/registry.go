package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"deskagent/internal/logging"
	"deskagent/internal/types"
)

// Registry holds all available tools and provides lookup functionality.
// It is thread-safe and supports registration at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*entry),
	}
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same id already exists.
func (r *Registry) Register(def types.ToolDefinition, exec Executor) error {
	if def.ID == "" {
		return fmt.Errorf("invalid tool: %w", ErrToolIDEmpty)
	}
	if exec == nil {
		return fmt.Errorf("invalid tool %s: %w", def.ID, ErrToolExecutorNil)
	}
	if !def.RiskLevel.Valid() {
		return fmt.Errorf("invalid tool %s: %w %q", def.ID, ErrInvalidRiskLevel, def.RiskLevel)
	}
	if def.Source == "" {
		def.Source = types.SourceBuiltin
	}
	if def.DisplayName == "" {
		def.DisplayName = def.ID
	}

	if def.IsPlugin() {
		if len(def.InputSchema) == 0 {
			def.InputSchema = emptyObjectSchema
		} else if err := LintSchema(def.ID, def.InputSchema); err != nil {
			logging.ToolsWarn("plugin schema lint: %v", err)
		}
	} else {
		def.InputSchema = SynthesizeSchema(def.Parameters)
	}

	def.Parameters = append([]types.ToolParameter(nil), def.Parameters...)
	def.RequiredCapabilities = append([]string(nil), def.RequiredCapabilities...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, def.ID)
	}
	r.tools[def.ID] = &entry{def: def, exec: exec}

	logging.ToolsDebug("Registered tool: %s (source=%s, risk=%s)", def.ID, def.Source, def.RiskLevel)
	return nil
}

// MustRegister registers a tool and panics on error.
// Use this for static tool registration at startup.
func (r *Registry) MustRegister(def types.ToolDefinition, exec Executor) {
	if err := r.Register(def, exec); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", def.ID, err))
	}
}

// Unregister removes a tool. It reports whether the tool was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[id]; !ok {
		return false
	}
	delete(r.tools, id)
	logging.ToolsDebug("Unregistered tool: %s", id)
	return true
}

// UnregisterPrefix removes every tool whose id starts with prefix and
// returns the removed ids, sorted.
func (r *Registry) UnregisterPrefix(prefix string) []string {
	if prefix == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id := range r.tools {
		if strings.HasPrefix(id, prefix) {
			delete(r.tools, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	if len(removed) > 0 {
		logging.ToolsDebug("Unregistered %d tools with prefix %s", len(removed), prefix)
	}
	return removed
}

// Definition returns the definition registered under id.
func (r *Registry) Definition(id string) (types.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[id]
	if !ok {
		return types.ToolDefinition{}, false
	}
	return e.def, true
}

// Has returns true if a tool with the given id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// RiskLevel returns the risk tier of a registered tool.
func (r *Registry) RiskLevel(id string) (types.RiskLevel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[id]
	if !ok {
		return "", false
	}
	return e.def.RiskLevel, true
}

// Definitions returns all definitions sorted by id.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// IDs returns all registered tool ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ToolSchemas exports every tool as a {name, description, input_schema}
// triple for a tool-calling model, sorted by name. Plugin schemas are passed
// through verbatim.
func (r *Registry) ToolSchemas() []types.ToolSchema {
	defs := r.Definitions()
	schemas := make([]types.ToolSchema, 0, len(defs))
	for _, def := range defs {
		desc := def.Description
		if desc == "" {
			desc = def.DisplayName
		}
		schemas = append(schemas, types.ToolSchema{
			Name:        def.ID,
			Description: desc,
			InputSchema: def.InputSchema,
		})
	}
	return schemas
}

// Validate checks a call against the tool's declared parameters. Extra
// arguments are ignored. Plugin tools are not validated locally.
func (r *Registry) Validate(call types.ToolCall) error {
	def, ok := r.Definition(call.ToolID)
	if !ok {
		return &ValidationError{ToolID: call.ToolID, Reason: "unknown tool", Err: ErrToolNotFound}
	}
	if def.IsPlugin() {
		return nil
	}

	for _, p := range def.Parameters {
		v, present := call.Arguments[p.Name]
		if !present || v.IsNull() {
			if p.Required {
				return &ValidationError{ToolID: def.ID, Param: p.Name, Reason: "required parameter is missing", Err: ErrMissingRequiredArg}
			}
			continue
		}
		if err := p.Accepts(v); err != nil {
			return &ValidationError{ToolID: def.ID, Param: p.Name, Reason: err.Error(), Err: ErrInvalidArgType}
		}
	}
	return nil
}

// Execute runs the tool named by call. An unknown id or a panicking
// executor yields a failure result.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) (result types.ToolExecutionResult) {
	r.mu.RLock()
	e, ok := r.tools[call.ToolID]
	r.mu.RUnlock()
	if !ok {
		return types.Failed("Unknown tool: %s", call.ToolID)
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logging.ToolsError("Tool %s panicked: %v", call.ToolID, rec)
			result = types.Failed("Tool %s failed unexpectedly: %v", call.ToolID, rec)
		}
		result.DurationMs = time.Since(start).Milliseconds()
		logging.ToolsDebug("Tool %s completed in %dms (success=%v)", call.ToolID, result.DurationMs, result.Success)
	}()

	logging.ToolsDebug("Executing tool: %s", call.ToolID)
	args := call.Arguments
	if args == nil {
		args = types.Args{}
	}
	return e.exec.Execute(ctx, args)
}
