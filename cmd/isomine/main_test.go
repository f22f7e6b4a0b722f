package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"isomine/internal/config"
	"isomine/internal/services"
	"isomine/internal/state"
	"isomine/internal/testsupport"
	"isomine/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("ISOMINE_PDF_ROOT", "")
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	sum := testsupport.SourcePDF(t, cfg, "P06")
	testsupport.Policies(t, cfg, []string{"P06"}, map[string]string{"P06": sum})

	configPath := filepath.Join(testsupport.BaseDir(cfg), "isomine.toml")
	testsupport.WriteFile(t, configPath, fmt.Sprintf(`[paths]
repo_root = %q

[logging]
format = "json"
level = "error"
`, testsupport.BaseDir(cfg)))
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestIngestThenStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "ingest", "--run-id", "r1")
	if err != nil {
		t.Fatalf("ingest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Next stage: extract") {
		t.Fatalf("unexpected ingest output:\n%s", out)
	}

	out, err = env.run(t, "status", "--run-id", "r1", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status workflow.RunStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if status.RunID != "r1" || status.CurrentStage != state.Extract {
		t.Fatalf("unexpected status %+v", status)
	}
	if !status.Stages[0].Done || status.Stages[1].Done {
		t.Fatalf("stage flags %+v", status.Stages)
	}

	out, err = env.run(t, "status", "--run-id", "r1")
	if err != nil {
		t.Fatalf("status table: %v", err)
	}
	for _, want := range []string{"Run:     r1 (strict)", "CHECKLIST", "ingest"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status table missing %q:\n%s", want, out)
		}
	}
}

func TestStageOrderAndUsageExitCodes(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "extract")
	if services.ExitCode(err) != services.ExitUsage {
		t.Fatalf("extract without run id: got %v", err)
	}

	if _, err := env.run(t, "ingest", "--run-id", "r1"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	_, err = env.run(t, "normalize", "--run-id", "r1")
	if services.ExitCode(err) != services.ExitStopCondition {
		t.Fatalf("normalize before extract: got %v", err)
	}

	_, err = env.run(t, "ingest", "--run-id", "r1", "--bogus")
	if services.ExitCode(err) != services.ExitUsage {
		t.Fatalf("unknown flag: got %v", err)
	}
}

func TestQAListEmptyQueue(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "ingest", "--run-id", "r1"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	out, err := env.run(t, "qa-list", "--run-id", "r1")
	if err != nil {
		t.Fatalf("qa-list: %v", err)
	}
	if !strings.Contains(out, "QA queue is empty") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestQAApplyRejectsUnknownItem(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "ingest", "--run-id", "r1"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	decisions := filepath.Join(testsupport.BaseDir(env.cfg), "decisions.yaml")
	testsupport.WriteFile(t, decisions, `decisions:
  - qa_item_id: qa-missing
    decision: confirm
    reviewer: lead
`)
	_, err := env.run(t, "qa-apply", "--run-id", "r1", "--ledger", decisions)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("got %v want validation error", err)
	}
}

func TestDoctorWithStubbedBinaries(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	for _, want := range []string{"pdftotext", "Relevant policy", "Run ledger", "extract"} {
		if !strings.Contains(out, want) {
			t.Fatalf("doctor output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "isomine.toml")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample not written: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); services.ExitCode(err) != services.ExitUsage {
		t.Fatalf("second init: got %v want usage error", err)
	}
}

func TestLogsShowsStageRecords(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "ingest", "--run-id", "r1"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	out, err := env.run(t, "logs", "--run-id", "r1", "--stage", "ingest", "--event", "stage_complete")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(out, "[ingest]") || !strings.Contains(out, "event=stage_complete") {
		t.Fatalf("unexpected logs output:\n%s", out)
	}
}
