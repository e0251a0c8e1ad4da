// Command arena runs bot-vs-bot chess matches in sandboxes and keeps their ratings.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"botarena/pkg/utils/logger"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliState is shared by every subcommand.
type cliState struct {
	configPath string
	cfg        *AppConfig
}

func newRootCommand() *cobra.Command {
	state := &cliState{}
	root := &cobra.Command{
		Use:           "arena",
		Short:         "Sandboxed chess bot arena",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAppConfig(state.configPath)
			if err != nil {
				return fmt.Errorf("load app config failed: %w", err)
			}
			if err := logger.Init(cfg.Logger); err != nil {
				return fmt.Errorf("init logger failed: %w", err)
			}
			state.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&state.configPath, "config", "c", defaultConfigPath, "Path to config file")

	root.AddCommand(
		newServeCommand(state),
		newFightCommand(state),
		newMigrateCommand(state),
		newBotsCommand(state),
	)
	return root
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
