package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestAttrsOverrideByKey(t *testing.T) {
	ctx := WithAttrs(context.Background(), slog.String("component", "orchestrator.heartbeat"), slog.String("project", "web"))
	ctx = WithAttrs(ctx, slog.String("component", "orchestrator.review"))

	attrs := Attrs(ctx)
	if len(attrs) != 2 {
		t.Fatalf("Attrs() = %#v, want 2 attrs", attrs)
	}
	if attrs[0].Key != "component" || attrs[0].Value.String() != "orchestrator.review" {
		t.Fatalf("attrs[0] = %v, want component=orchestrator.review", attrs[0])
	}
}

func TestAttrsDoNotLeakBetweenBranches(t *testing.T) {
	root := WithAttrs(context.Background(), slog.String("project", "web"))
	a := WithAttrs(root, slog.Int("issue_id", 1))
	b := WithAttrs(root, slog.Int("issue_id", 2))

	if got := Attrs(a)[1].Value.Int64(); got != 1 {
		t.Fatalf("branch a issue_id = %d, want 1", got)
	}
	if got := Attrs(b)[1].Value.Int64(); got != 2 {
		t.Fatalf("branch b issue_id = %d, want 2", got)
	}
	if len(Attrs(root)) != 1 {
		t.Fatalf("root attrs changed: %#v", Attrs(root))
	}
}

func TestLoggerWritesContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := WithAttrs(context.Background(), slog.String("project", "demo"))
	ctx = WithLogger(ctx, logger)
	ctx = WithTick(ctx, 7)

	Debug(ctx, "checking pr", slog.Int("issue_id", 42))

	out := buf.String()
	for _, want := range []string{"project=demo", "tick=7", "issue_id=42", "checking pr"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output = %q, missing %q", out, want)
		}
	}
}

func TestDisabledLevelIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := WithLogger(context.Background(), logger)

	Info(ctx, "tick finished")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}
	Warn(ctx, "stale worker")
	if !strings.Contains(buf.String(), "stale worker") {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}
