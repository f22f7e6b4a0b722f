package main

import (
	"strings"

	"github.com/spf13/cobra"

	"isomine/internal/workflow"
)

// runFlags select the run an invocation acts on. Stage commands also accept
// the per-invocation switches.
type runFlags struct {
	runID     string
	resumeRun string
	runRoot   string
	mode      string
	noResume  bool

	lockSourceHashes  bool
	allowPartialScope bool
	failOnQA          bool
}

func (f *runFlags) bindSelection(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.runID, "run-id", "", "Run identifier")
	cmd.Flags().StringVar(&f.resumeRun, "resume-run", "", "Existing run id or control root to act on")
}

func (f *runFlags) bindStage(cmd *cobra.Command) {
	f.bindSelection(cmd)
	cmd.Flags().StringVar(&f.runRoot, "run-root", "", "Data-plane root for the run")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Run mode (strict or partial)")
	cmd.Flags().BoolVar(&f.noResume, "no-resume", false, "Refuse to reuse a control root that already has state")
	cmd.Flags().BoolVar(&f.lockSourceHashes, "lock-source-hashes", false, "Write observed hashes for PENDING parts back into the source set")
	cmd.Flags().BoolVar(&f.allowPartialScope, "allow-partial-scope", false, "Record missing parts instead of failing")
	cmd.Flags().BoolVar(&f.failOnQA, "fail-on-qa", true, "Block on unresolved QA items")
}

func (f *runFlags) request(cmd *cobra.Command) workflow.Request {
	req := workflow.Request{
		RunID:     strings.TrimSpace(f.runID),
		ResumeRun: strings.TrimSpace(f.resumeRun),
		RunRoot:   strings.TrimSpace(f.runRoot),
		Mode:      strings.TrimSpace(f.mode),
		NoResume:  f.noResume,
		Flags: workflow.Flags{
			LockSourceHashes:  f.lockSourceHashes,
			AllowPartialScope: f.allowPartialScope,
		},
	}
	if flag := cmd.Flags().Lookup("fail-on-qa"); flag != nil && flag.Changed {
		value := f.failOnQA
		req.Flags.FailOnQA = &value
	}
	return req
}
