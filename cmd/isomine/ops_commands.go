package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"isomine/internal/qa"
	"isomine/internal/quality"
	"isomine/internal/replay"
	"isomine/internal/state"
	"isomine/internal/workflow"
)

func newReplayCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	var scratch string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-derive extract, normalize and anchor and compare signatures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			var check replay.Check
			runErr := manager.WithRun(cmd.Context(), flags.request(cmd), "replay", func(c context.Context, s *workflow.Session) error {
				var err error
				check, err = replay.Run(c, replay.Options{
					Layout:      s.Layout,
					State:       s.State,
					Config:      s.Config,
					ScratchRoot: scratch,
					Now:         s.Now,
					Logger:      s.Logger,
				})
				return err
			})
			if check.RunID != "" {
				if asJSON {
					if err := writeJSON(cmd, check); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Replay of %s: %s\n", check.RunID, passFail(check.Pass))
					for _, m := range check.Mismatches {
						fmt.Fprintf(out, "  - %s\n", m)
					}
				}
			}
			return runErr
		},
	}
	flags.bindSelection(cmd)
	cmd.Flags().StringVar(&scratch, "scratch-root", "", "Keep the re-derived streams under this directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the replay check as JSON")
	return cmd
}

func newQAListCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	var asJSON, all bool
	cmd := &cobra.Command{
		Use:   "qa-list",
		Short: "List the QA queue with adjudication status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			l, err := manager.RunLayout(flags.request(cmd), "qa-list")
			if err != nil {
				return err
			}
			rows, err := qa.List(l)
			if err != nil {
				return err
			}
			if !all {
				open := rows[:0]
				for _, r := range rows {
					if r.Status == qa.StatusOpen {
						open = append(open, r)
					}
				}
				rows = open
			}
			if asJSON {
				return writeJSON(cmd, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "QA queue is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), qa.Render(rows))
			return nil
		},
	}
	flags.bindSelection(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print rows as JSON")
	cmd.Flags().BoolVar(&all, "all", false, "Include items decided since the last normalize pass")
	return cmd
}

func newQAApplyCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	var ledgerPath string
	cmd := &cobra.Command{
		Use:   "qa-apply",
		Short: "Record QA decisions and reset the run to normalize",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			decisions, err := qa.LoadDecisions(ledgerPath)
			if err != nil {
				return err
			}
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			return manager.WithRun(cmd.Context(), flags.request(cmd), "qa-apply", func(_ context.Context, s *workflow.Session) error {
				res, err := qa.Apply(s.Layout, s.State, s.Checklist, decisions, s.Now)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d decision(s): %d confirmed, %d rejected\n", res.Recorded, res.Confirmed, res.Rejected)
				fmt.Fprintf(cmd.OutOrStdout(), "Run reset to %s\n", res.ResetFrom)
				return nil
			})
		},
	}
	flags.bindSelection(cmd)
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "YAML file of QA decisions")
	_ = cmd.MarkFlagRequired("ledger")
	return cmd
}

func newQualityCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	var profilePath, goldsetPath, textfile string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Score the run against the threshold profile and baseline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			pick := func(flag, fallback string) string {
				if flag != "" {
					return flag
				}
				return fallback
			}
			profile, err := quality.LoadProfile(pick(profilePath, cfg.Policies.ThresholdProfile))
			if err != nil {
				return err
			}
			var card quality.Scorecard
			runErr := manager.WithRun(cmd.Context(), flags.request(cmd), "quality", func(c context.Context, s *workflow.Session) error {
				res, err := quality.Run(c, quality.Options{
					Layout:        s.Layout,
					RunID:         s.Layout.RunID,
					Mode:          s.State.Get(state.KeyMode),
					RequiredParts: s.State.RequiredParts(),
					Profile:       profile,
					GoldsetPath:   pick(goldsetPath, cfg.Policies.BoundaryGoldset),
					Ledger:        s.Ledger,
					TextfilePath:  pick(textfile, cfg.Metrics.Textfile),
					Now:           s.Now,
					Logger:        s.Logger,
				})
				card = res.Scorecard
				return err
			})
			if card.RunID != "" {
				if asJSON {
					if err := writeJSON(cmd, card); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), renderScorecard(card))
				}
			}
			return runErr
		},
	}
	flags.bindSelection(cmd)
	cmd.Flags().StringVar(&profilePath, "profile", "", "Threshold profile overriding the configured one")
	cmd.Flags().StringVar(&goldsetPath, "goldset", "", "Boundary goldset overriding the configured one")
	cmd.Flags().StringVar(&textfile, "textfile", "", "Additional node-exporter textfile target")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the scorecard as JSON")
	return cmd
}

func renderScorecard(card quality.Scorecard) string {
	rows := make([][]string, 0, len(card.Categories))
	for _, name := range quality.CategoryNames() {
		cat, ok := card.Categories[name]
		if !ok {
			continue
		}
		failing := 0
		for _, pass := range cat.Details {
			if !pass {
				failing++
			}
		}
		rows = append(rows, []string{name, passFail(cat.Pass), fmt.Sprintf("%d/%d", len(cat.Details)-failing, len(cat.Details))})
	}
	table := renderTable([]string{"Category", "Result", "Checks"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight})
	baseline := card.BaselineRunID
	if baseline == "" {
		baseline = "none"
	}
	return fmt.Sprintf("%s\nBaseline: %s\nOverall: %s", table, baseline, passFail(card.OverallPass))
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
