package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"isomine/internal/ingest"
	"isomine/internal/policy"
	"isomine/internal/services"
	"isomine/internal/testsupport"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func TestResolvePreferredAndFallback(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	p06 := testsupport.SourcePDF(t, cfg, "P06")
	fallback := filepath.Join(cfg.Paths.PDFRoot, "nested", "ISO 26262-8 2018 ed2 copy.pdf")
	testsupport.WriteFile(t, fallback, "p08 body")
	testsupport.Policies(t, cfg, []string{"P06", "P08"}, map[string]string{
		"P06": p06,
		"P08": testsupport.SHA256("p08 body"),
	})

	summary, err := ingest.Resolve(context.Background(), ingest.Options{
		RunID:              "r1",
		PDFRoot:            cfg.Paths.PDFRoot,
		SourcePDFSetPath:   cfg.Policies.SourcePDFSet,
		RelevantPolicyPath: cfg.Policies.RelevantPolicy,
		Now:                now,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := summary.ResolvedParts["P06"].MatchMode; got != ingest.MatchPreferred {
		t.Fatalf("P06 match mode = %s", got)
	}
	p08 := summary.ResolvedParts["P08"]
	if p08.MatchMode != ingest.MatchFallback || p08.ResolvedPath != fallback {
		t.Fatalf("unexpected P08 resolution %+v", p08)
	}
	if summary.RequiredPartsCompleteness != "2/2" || summary.PendingHashes != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.SourceSignature == "" {
		t.Fatal("source signature missing")
	}
}

func TestResolveMissingPartIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.Policies(t, cfg, []string{"P09"}, nil)
	_, err := ingest.Resolve(context.Background(), ingest.Options{
		PDFRoot:            cfg.Paths.PDFRoot,
		SourcePDFSetPath:   cfg.Policies.SourcePDFSet,
		RelevantPolicyPath: cfg.Policies.RelevantPolicy,
	})
	if !errors.Is(err, services.ErrSource) || !strings.Contains(err.Error(), "missing required part P09") {
		t.Fatalf("got %v", err)
	}
}

func TestResolvePartialScopeRecordsMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	p06 := testsupport.SourcePDF(t, cfg, "P06")
	testsupport.Policies(t, cfg, []string{"P06", "P09"}, map[string]string{"P06": p06})
	summary, err := ingest.Resolve(context.Background(), ingest.Options{
		PDFRoot:            cfg.Paths.PDFRoot,
		SourcePDFSetPath:   cfg.Policies.SourcePDFSet,
		RelevantPolicyPath: cfg.Policies.RelevantPolicy,
		AllowPartialScope:  true,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(summary.MissingParts) != 1 || summary.MissingParts[0] != "P09" {
		t.Fatalf("missing parts = %v", summary.MissingParts)
	}
	if summary.RequiredPartsCompleteness != "1/2" {
		t.Fatalf("completeness = %s", summary.RequiredPartsCompleteness)
	}
}

func TestResolveAmbiguousFallback(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.PDFRoot, "a", "ISO 26262-9 2018 ed2.pdf"), "a")
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.PDFRoot, "b", "iso 26262-9 2018 ed 2.pdf"), "b")
	testsupport.Policies(t, cfg, []string{"P09"}, nil)
	_, err := ingest.Resolve(context.Background(), ingest.Options{
		PDFRoot:            cfg.Paths.PDFRoot,
		SourcePDFSetPath:   cfg.Policies.SourcePDFSet,
		RelevantPolicyPath: cfg.Policies.RelevantPolicy,
	})
	if err == nil || !strings.Contains(err.Error(), "ambiguous required part P09") {
		t.Fatalf("got %v", err)
	}
}

func TestPendingHashRequiresLockFlag(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sum := testsupport.SourcePDF(t, cfg, "P06")
	testsupport.Policies(t, cfg, []string{"P06"}, nil)
	opts := ingest.Options{
		PDFRoot:            cfg.Paths.PDFRoot,
		SourcePDFSetPath:   cfg.Policies.SourcePDFSet,
		RelevantPolicyPath: cfg.Policies.RelevantPolicy,
	}
	if _, err := ingest.Resolve(context.Background(), opts); err == nil || !strings.Contains(err.Error(), "PENDING outside --lock-source-hashes") {
		t.Fatalf("got %v", err)
	}

	opts.LockSourceHashes = true
	summary, err := ingest.Resolve(context.Background(), opts)
	if err != nil {
		t.Fatalf("Resolve with lock: %v", err)
	}
	if summary.ResolvedParts["P06"].HashStatus != ingest.HashLocked {
		t.Fatalf("hash status = %s", summary.ResolvedParts["P06"].HashStatus)
	}
	set, err := policy.LoadSourcePDFSet(cfg.Policies.SourcePDFSet)
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := set.Part("P06"); p.SHA256 != sum {
		t.Fatalf("hash not written back: %s", p.SHA256)
	}
}

func TestHashMismatchIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.SourcePDF(t, cfg, "P06")
	testsupport.Policies(t, cfg, []string{"P06"}, map[string]string{"P06": strings.Repeat("0", 64)})
	_, err := ingest.Resolve(context.Background(), ingest.Options{
		PDFRoot:            cfg.Paths.PDFRoot,
		SourcePDFSetPath:   cfg.Policies.SourcePDFSet,
		RelevantPolicyPath: cfg.Policies.RelevantPolicy,
	})
	if err == nil || !strings.Contains(err.Error(), "hash mismatch for P06") {
		t.Fatalf("got %v", err)
	}
}

func TestInventoryIgnoresNonPDF(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "x", "y", "doc.pdf"), "x")
	testsupport.WriteFile(t, filepath.Join(root, "notes.txt"), "x")
	if err := os.MkdirAll(filepath.Join(root, "dir.pdf"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := ingest.Inventory(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "doc.pdf" {
		t.Fatalf("inventory = %v", got)
	}
}
