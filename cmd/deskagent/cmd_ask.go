package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deskagent/internal/orchestrator"
	"deskagent/internal/tools/builtin"
	"deskagent/internal/types"
)

var (
	assumeYes bool
	noPlugins bool
)

var errRequestFailed = errors.New("request did not complete")

// askCmd runs one request through the agent loop
var askCmd = &cobra.Command{
	Use:   "ask [request]",
	Short: "Carry out a request",
	Long: `Routes the request to a model and lets it act through tools until it has
an answer. Tool calls that need approval are confirmed on stdin; progress is
printed to stderr. Press Ctrl+C to stop the request.

Example:
  deskagent ask "open Safari and put it on the left half of the screen"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Approve every confirmation without asking")
	askCmd.Flags().BoolVar(&noPlugins, "no-plugins", false, "Do not connect plugin servers")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, builtin.NewSystemDesktop())
	if err != nil {
		return err
	}
	defer a.close()
	if !noPlugins {
		if err := a.openPlugins(ctx, false); err != nil {
			logger.Warn("Plugins unavailable", zap.Error(err))
		}
	}

	settings, err := orchestrator.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}

	var confirmer orchestrator.Confirmer = newPromptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr())
	if assumeYes {
		confirmer = orchestrator.ConfirmerFunc(func(context.Context, types.ToolCall, string, types.RiskLevel) bool {
			return true
		})
	}
	status := orchestrator.StatusFunc(func(message string) {
		fmt.Fprintln(cmd.ErrOrStderr(), message)
	})
	orch := a.orchestrator(settings, confirmer, status)

	// Ctrl+C stops the turn instead of killing the process mid-tool.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received interrupt, stopping request")
			orch.Abort()
		case <-done:
		}
	}()

	input := joinArgs(args)
	logger.Debug("Processing request", zap.Int("length", len(input)))
	res := orch.Run(ctx, input)
	fmt.Fprintln(cmd.OutOrStdout(), res.Text)

	logger.Debug("Request finished",
		zap.String("turn", res.TurnID),
		zap.String("provider", string(res.Provider)),
		zap.Bool("legacy", res.Legacy),
		zap.Int("rounds", res.Rounds),
		zap.Duration("duration", res.Duration))
	if !res.Success && !res.Stopped {
		return errRequestFailed
	}
	return nil
}
