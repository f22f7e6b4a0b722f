package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"isomine/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stage progress for a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			status, err := manager.Status(flags.request(cmd))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(status))
			return nil
		},
	}
	flags.bindSelection(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	return cmd
}

func renderStatus(status workflow.RunStatus) string {
	rows := make([][]string, 0, len(status.Stages))
	for _, s := range status.Stages {
		rows = append(rows, []string{
			s.Stage,
			yesNo(s.Done),
			fmt.Sprintf("%d/%d", s.Confirmed, s.Total),
			yesNo(s.Checkpoint),
		})
	}
	holder := "none"
	if status.Holder != nil {
		holder = fmt.Sprintf("pid %d on %s since %s", status.Holder.PID, status.Holder.Host, status.Holder.AcquiredAtUTC)
	}
	return fmt.Sprintf("Run:     %s (%s)\nControl: %s\nData:    %s\nStage:   %s\nLock:    %s\n%s\n",
		status.RunID, status.Mode, status.ControlRoot, status.RunRoot, status.CurrentStage, holder,
		renderTable([]string{"Stage", "Done", "Checklist", "Checkpoint"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
}
