package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"isomine/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "extract", "pdfinfo", "page count failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"extract", "pdfinfo", "page count failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		marker error
		want   int
	}{
		{services.ErrUsage, services.ExitUsage},
		{services.ErrSource, services.ExitSource},
		{services.ErrConfiguration, services.ExitSource},
		{services.ErrExternalTool, services.ExitSource},
		{services.ErrSchema, services.ExitSchema},
		{services.ErrDeterminism, services.ExitDeterminism},
		{services.ErrQualityGate, services.ExitQualityGate},
		{services.ErrLockContention, services.ExitLockContention},
		{services.ErrContractDrift, services.ExitContractDrift},
		{services.ErrStopCondition, services.ExitStopCondition},
		{services.ErrValidation, services.ExitFailure},
	}
	seen := map[int]error{}
	for _, tc := range cases {
		err := services.Wrap(tc.marker, "stage", "op", "msg", nil)
		if got := services.ExitCode(err); got != tc.want {
			t.Fatalf("exit code for %v: got %d want %d", tc.marker, got, tc.want)
		}
		wrapped := fmt.Errorf("outer: %w", err)
		if got := services.ExitCode(wrapped); got != tc.want {
			t.Fatalf("exit code for wrapped %v: got %d want %d", tc.marker, got, tc.want)
		}
		seen[tc.want] = tc.marker
	}
	if services.ExitCode(nil) != services.ExitOK {
		t.Fatal("expected ok exit code for nil error")
	}
	if len(seen) < 9 {
		t.Fatalf("expected distinct exit codes per failure class, got %d", len(seen))
	}
}

func TestDetailsSplitsMarker(t *testing.T) {
	err := services.Wrap(services.ErrContractDrift, "bootstrap", "", "RUN_ROOT changed", nil)
	details := services.Details(err)
	if details.Kind != "contract drift" {
		t.Fatalf("unexpected kind: %q", details.Kind)
	}
	if details.Message != "bootstrap: RUN_ROOT changed" {
		t.Fatalf("unexpected message: %q", details.Message)
	}
	if got := services.Details(errors.New("plain")); got.Kind != "error" || got.Message != "plain" {
		t.Fatalf("unexpected plain details: %#v", got)
	}
}
