package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"isomine/internal/deps"
	"isomine/internal/preflight"
	"isomine/internal/services"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, directories, policies and the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}

			checks := preflight.RunAll(cmd.Context(), cfg)
			binaries := preflight.CheckSystemDeps(cfg)
			health := manager.Health(cmd.Context())

			rows := make([][]string, 0, len(checks)+len(binaries)+len(health))
			for _, b := range binaries {
				detail := b.Command
				if !b.Available {
					detail = b.Detail
					if b.Optional {
						detail += " (optional)"
					}
				}
				rows = append(rows, []string{"binary", b.Name, passFail(b.Available), detail})
			}
			for _, c := range checks {
				rows = append(rows, []string{"preflight", c.Name, passFail(c.Passed), c.Detail})
			}
			ready := true
			for _, h := range health {
				detail := h.Detail
				if detail == "" {
					detail = "ready"
				}
				ready = ready && h.Ready
				rows = append(rows, []string{"stage", h.Name, passFail(h.Ready), detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Kind", "Check", "Result", "Detail"}, rows, nil))

			if !deps.Satisfied(binaries) {
				return services.Wrap(services.ErrExternalTool, "doctor", "binaries", "required poppler tools missing", nil)
			}
			if !preflight.Passed(checks) || !ready {
				return services.Wrap(services.ErrConfiguration, "doctor", "preflight", "one or more checks failed", nil)
			}
			return nil
		},
	}
}
