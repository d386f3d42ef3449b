package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deskagent/internal/config"
	"deskagent/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dataDir    string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "deskagent",
	Short: "deskagent - a desktop assistant that acts through tools",
	Long: `deskagent turns natural-language requests into actions on this computer.

Requests are routed to a local (Ollama) or cloud (Anthropic, Gemini) model.
The model calls built-in tools and tools exposed by MCP plugin servers; every
call passes a policy check and may ask for confirmation before it runs.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: user config dir)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(pluginsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and initializes logging.
func setup(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" && dataDir != "" {
		path = filepath.Join(dataDir, "config.yaml")
	}
	if path == "" {
		path = config.DefaultConfigPath()
	}

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if dataDir != "" {
		loaded.DataDir = dataDir
	}
	if verbose {
		loaded.Logging.Level = "debug"
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	if err := logging.Initialize(loaded.Logging.ToLogging()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := logging.InitAudit(loaded.AuditPath()); err != nil {
		logging.BootWarn("Audit log disabled: %v", err)
	}
	logger = logging.L()
	logger.Debug("configuration loaded", zap.String("path", path), zap.String("data_dir", loaded.DataDir))

	cfg = loaded
	return nil
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
