//go:build integration

package mcp_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"deskagent/internal/mcp"
	"deskagent/internal/tools"
	"deskagent/internal/types"
)

// FilesystemPluginSuite runs the reference filesystem server through npx.
type FilesystemPluginSuite struct {
	suite.Suite
	dir      string
	registry *tools.Registry
	store    *mcp.Store
	manager  *mcp.Manager
}

func TestFilesystemPluginSuite(t *testing.T) {
	if _, err := exec.LookPath("npx"); err != nil {
		t.Skip("npx not installed")
	}
	suite.Run(t, new(FilesystemPluginSuite))
}

func (s *FilesystemPluginSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "hello.txt"), []byte("hello from disk"), 0o644))

	var err error
	s.store, err = mcp.NewStore(filepath.Join(s.T().TempDir(), "plugins.db"))
	s.Require().NoError(err)

	s.registry = tools.NewRegistry()
	s.manager = mcp.NewManager(s.registry, mcp.WithStore(s.store), mcp.WithTimeouts(2*time.Minute, 30*time.Second))
	s.Require().NoError(s.manager.SetConfigs([]mcp.ServerConfig{{
		ID:        "fs",
		Name:      "filesystem",
		Transport: mcp.ProtocolStdio,
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-filesystem", s.dir},
		Enabled:   true,
	}}))
}

func (s *FilesystemPluginSuite) TearDownTest() {
	s.manager.DisconnectAll()
	s.store.Close()
	goleak.VerifyNone(s.T(), goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func (s *FilesystemPluginSuite) TestReadFileThroughRegistry() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s.Require().NoError(s.manager.Connect(ctx, "fs"))
	s.Equal(mcp.ServerStatusConnected, s.manager.Status("fs").State)

	id := mcp.ToolRegistryID("filesystem", "read_text_file")
	if !s.registry.Has(id) {
		id = mcp.ToolRegistryID("filesystem", "read_file")
	}
	s.Require().True(s.registry.Has(id), "registered: %v", s.registry.IDs())

	args, err := types.ArgsFromMap(map[string]any{"path": filepath.Join(s.dir, "hello.txt")})
	s.Require().NoError(err)
	res := s.registry.Execute(ctx, types.ToolCall{ToolID: id, Arguments: args})
	s.True(res.Success, res.Message)
	s.Contains(res.Message, "hello from disk")

	rec, err := s.store.Tool(ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.EqualValues(1, rec.UsageCount)

	s.Require().NoError(s.manager.Disconnect("fs"))
	s.False(s.registry.Has(id))
}
