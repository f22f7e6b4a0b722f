package stage_test

import (
	"context"
	"errors"
	"testing"

	"isomine/internal/services"
	"isomine/internal/stage"
)

type fakeHandler struct{ name string }

func (f fakeHandler) Name() string    { return f.name }
func (f fakeHandler) Version() string { return "v1" }
func (f fakeHandler) Execute(context.Context, *stage.Env) (stage.Result, error) {
	return stage.Result{}, nil
}
func (f fakeHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy(f.name) }

func TestRegistryOrdersByPipeline(t *testing.T) {
	reg, err := stage.NewRegistry(fakeHandler{"anchor"}, fakeHandler{"ingest"}, fakeHandler{"extract"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	var names []string
	for _, h := range reg.Handlers() {
		names = append(names, h.Name())
	}
	want := []string{"ingest", "extract", "anchor"}
	if len(names) != len(want) {
		t.Fatalf("got %v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v want %v", names, want)
		}
	}
}

func TestRegistryRejectsDuplicatesAndUnknown(t *testing.T) {
	if _, err := stage.NewRegistry(fakeHandler{"ingest"}, fakeHandler{"ingest"}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := stage.NewRegistry(fakeHandler{"render"}); err == nil {
		t.Fatal("expected unknown stage error")
	}
}

func TestLookupMissingIsUsageError(t *testing.T) {
	reg, _ := stage.NewRegistry()
	_, err := reg.Lookup("publish")
	if !errors.Is(err, services.ErrUsage) {
		t.Fatalf("got %v want ErrUsage", err)
	}
}

func TestResultHelpers(t *testing.T) {
	var r stage.Result
	r.Read("a")
	r.Wrote("b", "c")
	r.Confirm("K1")
	if len(r.Inputs) != 1 || len(r.Outputs) != 2 || r.Confirmed[0] != "K1" {
		t.Fatalf("unexpected result %+v", r)
	}
}
