package main

import (
	"fmt"
	"os"

	"botarena/internal/arena/bots"

	"github.com/spf13/cobra"
)

func newBotsCommand(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "Manage competitors",
	}

	var artifactPath string
	register := &cobra.Command{
		Use:   "register <name> [hash]",
		Short: "Register a bot with the starting rating",
		Long: "Register a bot. With --artifact the file is uploaded to the artifact store and\n" +
			"the hash defaults to its sha256.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bots.RegisterInput{Name: args[0]}
			if len(args) == 2 {
				in.Hash = args[1]
			}
			if artifactPath != "" {
				data, err := os.ReadFile(artifactPath)
				if err != nil {
					return fmt.Errorf("read artifact failed: %w", err)
				}
				in.Artifact = data
			}
			return withBots(cmd, state, func(svc *bots.Service) error {
				bot, err := svc.Register(commandContext(cmd), in)
				if err != nil {
					return err
				}
				return printJSON(cmd, bot)
			})
		},
	}
	register.Flags().StringVar(&artifactPath, "artifact", "", "Executable to upload")

	pause := &cobra.Command{
		Use:   "pause <id>",
		Short: "Exclude a bot from matchmaking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPaused(cmd, state, args[0], true)
		},
	}
	resume := &cobra.Command{
		Use:   "resume <id>",
		Short: "Return a paused bot to matchmaking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPaused(cmd, state, args[0], false)
		},
	}
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a bot and its rating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBotID(args[0])
			if err != nil {
				return err
			}
			return withBots(cmd, state, func(svc *bots.Service) error {
				p, err := svc.Get(commandContext(cmd), id)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}

	cmd.AddCommand(register, pause, resume, show)
	return cmd
}

func setPaused(cmd *cobra.Command, state *cliState, raw string, paused bool) error {
	id, err := parseBotID(raw)
	if err != nil {
		return err
	}
	return withBots(cmd, state, func(svc *bots.Service) error {
		return svc.SetPaused(commandContext(cmd), id, paused)
	})
}

func withBots(cmd *cobra.Command, state *cliState, fn func(*bots.Service) error) error {
	a, err := newApp(commandContext(cmd), state.cfg, appOptions{objects: true})
	if err != nil {
		return err
	}
	defer a.close()
	svc, err := a.bots()
	if err != nil {
		return err
	}
	return fn(svc)
}
