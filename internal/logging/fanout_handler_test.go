package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestNewFanoutHandlerCollapses(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner, nil); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsPerHandlerLevel(t *testing.T) {
	var console, durable bytes.Buffer
	h := newFanoutHandler(
		slog.NewJSONHandler(&console, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&durable, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout enabled for debug when one handler accepts it")
	}
	slog.New(h).Debug("page decision")
	if console.Len() != 0 {
		t.Fatalf("info handler received debug record: %q", console.String())
	}
	if durable.Len() == 0 {
		t.Fatal("debug handler missed the record")
	}
}

func TestFanoutHandlerPropagatesAttrsAndGroups(t *testing.T) {
	var a, b bytes.Buffer
	h := newFanoutHandler(slog.NewJSONHandler(&a, nil), slog.NewJSONHandler(&b, nil))
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("run_id", "r1")}).WithGroup("lock"))
	logger.Info("lock_acquired", slog.Int("pid", 42))

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		if !bytes.Contains(buf.Bytes(), []byte(`"run_id":"r1"`)) {
			t.Errorf("%s: missing run_id attr: %s", name, buf.String())
		}
		if !bytes.Contains(buf.Bytes(), []byte(`"lock":{"pid":42}`)) {
			t.Errorf("%s: missing grouped attr: %s", name, buf.String())
		}
	}
}

func TestTeeLoggerNilBase(t *testing.T) {
	var buf bytes.Buffer
	TeeLogger(nil, slog.NewJSONHandler(&buf, nil)).Info("x")
	if buf.Len() == 0 {
		t.Fatal("expected output from tee with nil base")
	}
}

func TestRunLogAttachNilKeepsBase(t *testing.T) {
	base := NewNop()
	var runLog *RunLog
	if runLog.Attach(base) != base {
		t.Fatal("expected nil run log to return base logger")
	}
}
