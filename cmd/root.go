package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"wamq/pkg/config"
	"wamq/pkg/logger"
	"wamq/pkg/supervisor"

	"github.com/spf13/cobra"
)

var errBridgeFailed = errors.New("bridge exited with failure")

var rootCmd = &cobra.Command{
	Use:           "wamq",
	Short:         "Bridge WhatsApp conversations and STOMP destinations",
	Long:          "Runs the wamq daemon: chat messages are published to STOMP inbox destinations and frames from the listening destinations are sent as chat messages.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		log, err := newLogger(config.LoggingConfig{})
		if err != nil {
			return err
		}

		sup := supervisor.New(config.DefaultCandidates(), supervisor.DefaultFactory(), log)
		if !sup.Run(cmd.Context()) {
			return errBridgeFailed
		}
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errBridgeFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	appLogger, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return slog.Default().With("component", "cmd"), nil
}
