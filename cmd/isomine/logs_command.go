package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"isomine/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	var lines int
	var follow bool
	var filter logs.Filter
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show a run's log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			l, err := manager.RunLayout(flags.request(cmd), "logs")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			opts := logs.TailOptions{Offset: -1, Limit: lines, Filter: filter}
			for {
				res, err := logs.Tail(cmd.Context(), l.RunLog(), opts)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				for _, e := range res.Entries {
					fmt.Fprintln(out, logs.Format(e))
				}
				if !follow {
					return nil
				}
				opts = logs.TailOptions{Offset: res.Offset, Follow: true, Wait: 30 * time.Second, Filter: filter}
			}
		},
	}
	flags.bindSelection(cmd)
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing records to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing records as they are appended")
	cmd.Flags().StringVar(&filter.Stage, "stage", "", "Only records of this stage")
	cmd.Flags().StringVar(&filter.EventType, "event", "", "Only records with this event type")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}
