package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"isomine/internal/query"
	"isomine/internal/workflow"
)

func newQueryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Build and search the run's token and phrase indexes",
	}
	cmd.AddCommand(newQueryIndexCommand(ctx))
	cmd.AddCommand(newQuerySearchCommand(ctx))
	cmd.AddCommand(newQueryExplainCommand(ctx))
	return cmd
}

func newQueryIndexCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the inverted and phrase indexes from the run's query rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			return manager.WithRun(cmd.Context(), flags.request(cmd), "query-index", func(_ context.Context, s *workflow.Session) error {
				manifest, err := query.BuildFromRun(s.Layout, s.Layout.RunID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Indexed %d row(s): %d tokens, %d phrases\n", manifest.RowCount, manifest.TokenCount, manifest.PhraseCount)
				fmt.Fprintf(out, "Manifest signature: %s\n", manifest.Signature)
				return nil
			})
		},
	}
	flags.bindSelection(cmd)
	return cmd
}

func newQuerySearchCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	var req query.Request
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Look up a token or phrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			l, err := manager.RunLayout(flags.request(cmd), "query")
			if err != nil {
				return err
			}
			searcher, err := query.Open(l)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-hits") {
				req.MaxHits = cfg.Query.MaxHits
			}
			req.MaxQuoteBytes = cfg.Query.MaxQuoteBytes
			resp, err := searcher.Search(req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, resp)
		},
	}
	flags.bindSelection(cmd)
	f := cmd.Flags()
	f.StringVar(&req.Term, "term", "", "Single normalized token")
	f.StringVar(&req.Phrase, "phrase", "", "Normalized phrase")
	f.StringVar(&req.Part, "part", "", "Restrict to a part (e.g. P06)")
	f.StringVar(&req.UnitType, "unit-type", "", "Restrict to a unit type")
	f.IntVar(&req.Page, "page", 0, "Restrict to a page")
	f.StringVar(&req.AnchorID, "anchor-id", "", "Restrict to an anchor")
	f.StringVar(&req.Clause, "clause", "", "Restrict to a clause prefix")
	f.IntVar(&req.MaxHits, "max-hits", query.DefaultMaxHits, "Maximum hits returned")
	f.BoolVar(&req.Quote, "quote", false, "Include a guarded quote of each hit")
	return cmd
}

func newQueryExplainCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	var anchorID, unitID string
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Trace an anchor or unit back to its page slices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			l, err := manager.RunLayout(flags.request(cmd), "query")
			if err != nil {
				return err
			}
			explanation, err := query.Explain(l, anchorID, unitID)
			if err != nil {
				return err
			}
			return writeJSON(cmd, explanation)
		},
	}
	flags.bindSelection(cmd)
	cmd.Flags().StringVar(&anchorID, "anchor-id", "", "Anchor to explain")
	cmd.Flags().StringVar(&unitID, "unit-id", "", "Unit to explain")
	return cmd
}
