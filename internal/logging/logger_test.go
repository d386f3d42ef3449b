package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, enabled map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core), enabled)
	t.Cleanup(func() { SetLogger(nil, nil) })
	return logs
}

// TestAllCategoriesLog checks every category writes through the root logger.
func TestAllCategoriesLog(t *testing.T) {
	logs := observe(t, nil)

	for _, cat := range AllCategories {
		assert.True(t, IsCategoryEnabled(cat), "category %s should be enabled", cat)
		Get(cat).Info("info for %s", cat)
	}

	require.Equal(t, len(AllCategories), logs.Len())
	for i, entry := range logs.All() {
		assert.Equal(t, string(AllCategories[i]), entry.LoggerName)
		assert.Equal(t, "info for "+string(AllCategories[i]), entry.Message)
	}
}

func TestConvenienceFunctions(t *testing.T) {
	logs := observe(t, nil)

	Boot("boot %d", 1)
	MCPDebug("mcp %s", "debug")
	TransportWarn("stderr line")
	ToolsError("tool failed")
	Policy("decision")
	Routing("route")
	OrchestratorWarn("deadline")
	API("call")
	Store("upsert")

	entries := logs.All()
	require.Len(t, entries, 9)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "mcp debug", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "store", entries[8].LoggerName)
}

func TestDisabledCategory(t *testing.T) {
	logs := observe(t, map[string]bool{"transport": false, "mcp": true})

	assert.False(t, IsCategoryEnabled(CategoryTransport))
	assert.True(t, IsCategoryEnabled(CategoryMCP))
	assert.True(t, IsCategoryEnabled(CategoryTools), "unlisted categories default to enabled")

	Transport("hidden")
	MCP("visible")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "visible", logs.All()[0].Message)
}

func TestNoopBeforeInitialization(t *testing.T) {
	SetLogger(nil, nil)
	assert.NotPanics(t, func() {
		Get(CategoryBoot).Error("nothing happens")
		StartTimer(CategoryStore, "noop").Stop()
	})
}

func TestWithTurn(t *testing.T) {
	logs := observe(t, nil)

	WithTurn(CategoryOrchestrator, "turn-1").Info("thinking")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "turn-1", logs.All()[0].ContextMap()["turn"])
}

func TestTimerThreshold(t *testing.T) {
	logs := observe(t, nil)

	timer := StartTimer(CategoryAPI, "generate")
	timer.start = time.Now().Add(-time.Second)
	elapsed := timer.StopWithThreshold(10 * time.Millisecond)

	assert.GreaterOrEqual(t, elapsed, time.Second)
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Contains(t, logs.All()[0].Message, "generate took")
}

func TestInitializeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "deskagent.log")
	require.NoError(t, Initialize(Config{Level: "debug", Format: "json", File: path}))
	t.Cleanup(func() { SetLogger(nil, nil) })

	Tools("registered %d tools", 3)
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"registered 3 tools"`)
	assert.Contains(t, string(data), `"logger":"tools"`)
}

func TestInitializeRejectsBadInput(t *testing.T) {
	assert.Error(t, Initialize(Config{Level: "loud"}))
	assert.Error(t, Initialize(Config{Format: "xml"}))
}

func TestAuditEvents(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetAuditLogger(zap.New(core))
	t.Cleanup(func() { SetAuditLogger(nil) })

	a := AuditForTurn("t-42")
	a.Route("local", "simple request")
	a.PolicyDecision(AuditPolicyDeny, "search_files", "safe", "path traversal")
	a.ToolExec("search_files", 12, true, "")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, string(AuditRoute), entries[0].Message)
	assert.Equal(t, "t-42", entries[0].ContextMap()["turn"])
	assert.Equal(t, "path traversal", entries[1].ContextMap()["reason"])
	assert.Equal(t, true, entries[2].ContextMap()["success"])
}

func TestAuditFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAudit(path))

	Audit().PluginStatus("filesystem", "connected", 11, "")
	CloseAudit()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"event":"plugin_status"`)
	assert.Contains(t, line, `"tools":11`)
}
