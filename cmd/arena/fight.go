package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

func newFightCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "fight [white-id black-id]",
		Short: "Play one match and print its report; without ids the matchmaker picks",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected both bot ids or none, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var whiteID, blackID int64
			if len(args) == 2 {
				var err error
				if whiteID, err = parseBotID(args[0]); err != nil {
					return err
				}
				if blackID, err = parseBotID(args[1]); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, state.cfg, appOptions{broker: true, objects: true})
			if err != nil {
				return err
			}
			defer a.close()

			runner, err := a.runner(ctx)
			if err != nil {
				return err
			}
			sched, err := a.scheduler(runner)
			if err != nil {
				return err
			}
			report, err := sched.Fight(ctx, whiteID, blackID)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func parseBotID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid bot id %q", raw)
	}
	return id, nil
}
