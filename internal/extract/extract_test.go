package extract_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"isomine/internal/artifact"
	"isomine/internal/extract"
	"isomine/internal/ingest"
	"isomine/internal/layout"
	"isomine/internal/policy"
	"isomine/internal/testsupport"
)

var thresholds = policy.Thresholds{
	PolicyID:                     "extraction_policy_v1",
	NonBlankInkCoverageRatioMin:  0.01,
	PrimaryLowCharCountThreshold: 40,
	ReplacementCharRatioMax:      0.05,
	ControlCharRatioMax:          0.02,
	OCRPassMinChars:              200,
	OCRReviewMinChars:            20,
	OrientationConfidenceMin:     0.8,
}

// fakeExecutor answers pdfinfo, pdftotext and pdftoppm from fixed tables.
type fakeExecutor struct {
	pages  int
	layout map[int]string
	raw    map[int]string
	fail   map[int]bool
	ink    map[int]byte
	mu     sync.Mutex
	calls  []string
}

func (f *fakeExecutor) Run(_ context.Context, binary string, args []string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, binary+" "+strings.Join(args, " "))
	f.mu.Unlock()
	switch binary {
	case "pdfinfo":
		return []byte(fmt.Sprintf("Title: x\nPages:          %d\n", f.pages)), nil
	case "pdftotext":
		var page int
		fmt.Sscanf(args[1], "%d", &page)
		if slices.Contains(args, extract.ModeRaw) {
			return []byte(f.raw[page]), nil
		}
		if f.fail[page] {
			return nil, errors.New("exit status 1")
		}
		return []byte(f.layout[page]), nil
	case "pdftoppm":
		var page int
		fmt.Sscanf(args[1], "%d", &page)
		level, ok := f.ink[page]
		if !ok {
			level = 255
		}
		img := []byte("P5\n# fixture\n2 2\n255\n")
		return append(img, level, level, 255, 255), nil
	}
	return nil, fmt.Errorf("unexpected binary %s", binary)
}

func body(n int) string {
	return strings.Repeat("The supplier shall document each item. ", n)
}

func TestDecideRoutesZeroTextNonBlankPage(t *testing.T) {
	d := extract.Decide("P06", 3, "", false, 0.3, thresholds)
	if d.Method != extract.MethodOCRFallback {
		t.Fatalf("method = %s", d.Method)
	}
	if !slices.Contains(d.ReasonCodes, extract.ReasonZeroTextNonBlank) {
		t.Fatalf("reason codes = %v", d.ReasonCodes)
	}
}

func TestDecideBlankPageStaysPrimary(t *testing.T) {
	d := extract.Decide("P06", 1, "", false, extract.StandInInk(""), thresholds)
	if d.Method != extract.MethodPrimary || len(d.ReasonCodes) != 0 {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestDecideRatiosAndParserError(t *testing.T) {
	garbled := strings.Repeat("\ufffd", 10) + body(3)
	d := extract.Decide("P06", 2, garbled, true, 0.2, thresholds)
	for _, code := range []string{extract.ReasonReplacementCharRatio, extract.ReasonParserError} {
		if !slices.Contains(d.ReasonCodes, code) {
			t.Fatalf("missing %s in %v", code, d.ReasonCodes)
		}
	}
	short := extract.Decide("P06", 2, "Short line", false, 0.2, thresholds)
	if !slices.Contains(short.ReasonCodes, extract.ReasonLowCharTextBearing) {
		t.Fatalf("reason codes = %v", short.ReasonCodes)
	}
}

func TestCharBandScorer(t *testing.T) {
	scorer := extract.NewCharBandScorer(thresholds)
	cases := []struct {
		text string
		want string
	}{
		{body(10), extract.BandPass},
		{"twenty five characters here", extract.BandNeedsReview},
		{"tiny", extract.BandFail},
	}
	for _, tc := range cases {
		got := scorer.Score(extract.FallbackSample{Text: tc.text})
		if got.QualityBand != tc.want {
			t.Fatalf("band for %d chars = %s want %s", got.CharCount, got.QualityBand, tc.want)
		}
	}
	garbled := scorer.Score(extract.FallbackSample{
		Text:    body(10),
		Primary: extract.Decision{ReasonCodes: []string{extract.ReasonReplacementCharRatio}},
	})
	if garbled.QualityBand != extract.BandNeedsReview {
		t.Fatalf("garbled primary band = %s", garbled.QualityBand)
	}
}

func TestPageCountParseFailure(t *testing.T) {
	p := extract.NewPopplerWithExecutor("pdftotext", "pdfinfo", 0, execFunc(func(string, []string) ([]byte, error) {
		return []byte("Title: nothing\n"), nil
	}))
	if _, err := p.PageCount(context.Background(), "x.pdf"); err == nil {
		t.Fatal("expected parse failure")
	}
}

type execFunc func(string, []string) ([]byte, error)

func (f execFunc) Run(_ context.Context, b string, a []string) ([]byte, error) { return f(b, a) }

func TestRunProducesRecordsAndFallbacks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	pdf := filepath.Join(cfg.Paths.PDFRoot, "p06.pdf")
	testsupport.WriteFile(t, pdf, "%PDF")
	exec := &fakeExecutor{
		pages:  3,
		layout: map[int]string{1: body(4) + "\n\n" + body(2), 3: ""},
		raw:    map[int]string{2: body(8), 3: ""},
		fail:   map[int]bool{2: true},
		ink:    map[int]byte{3: 0},
	}
	poppler := extract.NewPopplerWithExecutor("pdftotext", "pdfinfo", time.Second, exec).WithRasterizer("pdftoppm")
	summary := ingest.Summary{ResolvedParts: map[string]ingest.ResolvedPart{
		"P06": {ResolvedPath: pdf, SHA256: "abc", HashStatus: ingest.HashLocked},
	}}

	out, err := extract.Run(context.Background(), extract.Options{
		RunID: "r1", Ingest: summary, Thresholds: thresholds, Source: poppler,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Decisions) != 3 || len(out.Pages) != 3 {
		t.Fatalf("decisions=%d pages=%d", len(out.Decisions), len(out.Pages))
	}
	if out.Decisions[0].Method != extract.MethodPrimary {
		t.Fatalf("page 1 method = %s", out.Decisions[0].Method)
	}
	p2 := out.Decisions[1]
	if !p2.Fallback() || p2.Band() != extract.BandPass || out.Pages[1].Text != body(8) {
		t.Fatalf("page 2 fallback not applied: %+v", p2)
	}
	p3 := out.Decisions[2]
	if !slices.Contains(p3.ReasonCodes, extract.ReasonZeroTextNonBlank) || p3.Band() != extract.BandFail {
		t.Fatalf("page 3 = %+v", p3)
	}
	ps := out.Summary.Parts["P06"]
	if ps.Pages != 3 || ps.HardFailPages != 2 || ps.PrimaryPages != 1 {
		t.Fatalf("part summary = %+v", ps)
	}
	var p1Blocks int
	for _, b := range out.Blocks {
		if b.Page == 1 {
			p1Blocks++
		}
	}
	if p1Blocks != 2 {
		t.Fatalf("page 1 blocks = %d want 2", p1Blocks)
	}

	l := layout.Layout{RunID: "r1", ControlRoot: filepath.Join(cfg.Paths.ControlDir, "r1"), RunRoot: filepath.Join(cfg.Paths.RunsRoot, "r1")}
	paths, err := extract.WriteOutputs(l, out)
	if err != nil {
		t.Fatalf("WriteOutputs: %v", err)
	}
	if len(paths) != 8 {
		t.Fatalf("wrote %d paths", len(paths))
	}
	decisions, err := artifact.ReadJSONL[map[string]any](l.PageDecisions())
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range decisions {
		if _, ok := row["text"]; ok {
			t.Fatal("control decisions must not carry text")
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	pdf := filepath.Join(cfg.Paths.PDFRoot, "p08.pdf")
	testsupport.WriteFile(t, pdf, "%PDF")
	summary := ingest.Summary{ResolvedParts: map[string]ingest.ResolvedPart{"P08": {ResolvedPath: pdf, SHA256: "def"}}}
	run := func() extract.Output {
		exec := &fakeExecutor{pages: 2, layout: map[int]string{1: body(3), 2: body(5)}}
		out, err := extract.Run(context.Background(), extract.Options{
			Ingest: summary, Thresholds: thresholds,
			Source: extract.NewPopplerWithExecutor("pdftotext", "pdfinfo", 0, exec),
		})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return out
	}
	a, b := run(), run()
	for i := range a.Pages {
		if a.Pages[i].PageRecordID != b.Pages[i].PageRecordID {
			t.Fatalf("page %d record ids differ", i+1)
		}
	}
	for i := range a.Signatures {
		if a.Signatures[i] != b.Signatures[i] {
			t.Fatalf("signature %d differs", i)
		}
	}
}
