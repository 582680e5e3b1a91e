package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"wamq/pkg/config"
	"wamq/pkg/logger"

	"github.com/spf13/cobra"
)

var errInvalidConfiguration = errors.New("configuration is invalid")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		log, err := newLogger(config.LoggingConfig{File: logger.StderrTarget})
		if err != nil {
			return err
		}

		return checkConfiguration(config.DefaultCandidates(), log, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func checkConfiguration(candidates []string, log *slog.Logger, out io.Writer) error {
	params, path, err := config.Load(candidates, log)
	if err != nil {
		return err
	}

	cfg, errs := config.FromParams(params)
	if len(errs) > 0 {
		for _, verr := range errs {
			fmt.Fprintf(out, "%s: %s\n", path, verr.Error())
		}
		return fmt.Errorf("%s: %w", path, errInvalidConfiguration)
	}

	fmt.Fprintf(out, "%s: ok (network=%s broker=%s destinations=%d)\n",
		path, cfg.Chat.Network, cfg.Stomp.Address(), len(cfg.Stomp.ListeningDestinations))
	return nil
}
