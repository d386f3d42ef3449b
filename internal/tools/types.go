// Package tools holds the tool registry: one map from tool id to definition
// and executor, shared by built-in tools and tools discovered from plugins.
//
// Flow:
//
//	Register(def, exec) → Validate(call) → Execute(ctx, call) → ToolExecutionResult
package tools

import (
	"context"

	"deskagent/internal/types"
)

// Executor runs one tool invocation. Failures are reported in the result,
// never as a panic or error.
type Executor interface {
	Execute(ctx context.Context, args types.Args) types.ToolExecutionResult
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, args types.Args) types.ToolExecutionResult

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, args types.Args) types.ToolExecutionResult {
	return f(ctx, args)
}

type entry struct {
	def  types.ToolDefinition
	exec Executor
}
