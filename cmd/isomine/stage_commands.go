package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"isomine/internal/state"
)

var stageDescriptions = map[string]string{
	state.Ingest:    "Resolve and hash the required source PDF parts",
	state.Extract:   "Extract page text and classify each page's extraction path",
	state.Normalize: "Segment pages into units and queue low-confidence items for QA",
	state.Anchor:    "Assign stable anchor identities to every unit",
	state.Publish:   "Publish corpus shards, manifests and the anchor registry",
	state.Verify:    "Check schemas, build query indexes and run the probe set",
	state.Finalize:  "Append the run report, snapshot the baseline and close the run",
}

func newStageCommands(ctx *commandContext) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(state.Stages))
	for _, name := range state.Stages {
		cmds = append(cmds, newStageCommand(ctx, name))
	}
	return cmds
}

func newStageCommand(ctx *commandContext, name string) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   name,
		Short: stageDescriptions[name],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			outcome, err := manager.RunStage(cmd.Context(), flags.request(cmd), name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s: %s complete in %s\n", outcome.RunID, outcome.Stage, outcome.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "Wrote %d file(s)\n", len(outcome.Result.Outputs))
			if outcome.NextStage == state.Complete {
				fmt.Fprintln(out, "Run complete")
			} else {
				fmt.Fprintf(out, "Next stage: %s\n", outcome.NextStage)
			}
			return nil
		},
	}
	flags.bindStage(cmd)
	return cmd
}
