package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"isomine/internal/logs"
)

const sample = `{"ts":"2026-03-01T12:00:00Z","level":"info","msg":"stage started","stage":"ingest","event_type":"stage_start"}
{"ts":"2026-03-01T12:00:01Z","level":"warn","msg":"part missing","stage":"ingest","event_type":"part_missing","part":"P09"}
{"ts":"2026-03-01T12:00:02Z","level":"info","msg":"stage started","stage":"extract","event_type":"stage_start"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestTailLastEntries(t *testing.T) {
	path := writeLog(t, sample)
	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Entries) != 2 || result.Entries[0].EventType != "part_missing" || result.Entries[1].Stage != "extract" {
		t.Fatalf("unexpected entries: %#v", result.Entries)
	}
	if result.Offset != int64(len(sample)) {
		t.Fatalf("offset = %d want %d", result.Offset, len(sample))
	}
}

func TestTailFilter(t *testing.T) {
	path := writeLog(t, sample)
	result, err := logs.Tail(context.Background(), path, logs.TailOptions{
		Offset: -1, Limit: 10, Filter: logs.Filter{Stage: "ingest", MinLevel: "warn"},
	})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Entries) != 1 || result.Entries[0].Attrs["part"] != "P09" {
		t.Fatalf("unexpected entries: %#v", result.Entries)
	}
	if got := logs.Format(result.Entries[0]); got != "2026-03-01T12:00:01Z WARN  [ingest] part missing event=part_missing part=P09" {
		t.Fatalf("format = %q", got)
	}
}

func TestTailKeepsPartialLine(t *testing.T) {
	complete := `{"ts":"t","level":"info","msg":"a"}` + "\n"
	path := writeLog(t, complete+`{"ts":"t","level":"in`)
	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 1 || result.Offset != int64(len(complete)) {
		t.Fatalf("entries=%d offset=%d", len(result.Entries), result.Offset)
	}
}

func TestTailMissingLog(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "nope.log"), logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil || len(result.Entries) != 0 {
		t.Fatalf("got %#v, %v", result, err)
	}
}

func TestTailFollowWaits(t *testing.T) {
	path := writeLog(t, sample)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: int64(len(sample)), Follow: true, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("follow tail error: %v", err)
		}
		if len(res.Entries) != 1 || res.Entries[0].Parsed || res.Entries[0].Raw != "later" {
			t.Errorf("unexpected follow entries: %#v", res.Entries)
		}
	}()

	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}
