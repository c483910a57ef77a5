package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"issueflow/internal/ports"
	"issueflow/internal/usecase/orchestrator"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want slog.Level
	}{
		{raw: "", want: slog.LevelInfo},
		{raw: "DEBUG", want: slog.LevelDebug},
		{raw: " warning ", want: slog.LevelWarn},
		{raw: "error", want: slog.LevelError},
	}
	for _, tc := range cases {
		got, err := parseLevel(tc.raw)
		if err != nil {
			t.Fatalf("parseLevel(%q) error = %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Fatalf("parseLevel(loud) expected error")
	}
}

func TestParseChannels(t *testing.T) {
	t.Parallel()

	channels, err := parseChannels([]string{"telegram:-100123:dev chat", "slack:C42"})
	if err != nil {
		t.Fatalf("parseChannels() error = %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("len(channels) = %d, want 2", len(channels))
	}
	if channels[0].Type != "telegram" || channels[0].ID != "-100123" || channels[0].Name != "dev chat" {
		t.Fatalf("channels[0] = %+v", channels[0])
	}
	if channels[1].Name != "" {
		t.Fatalf("channels[1].Name = %q, want empty", channels[1].Name)
	}

	for _, raw := range []string{"telegram", ":42", "slack:"} {
		if _, err := parseChannels([]string{raw}); err == nil {
			t.Fatalf("parseChannels(%q) expected error", raw)
		}
	}
}

func TestParsePRState(t *testing.T) {
	t.Parallel()

	got, err := parsePRState("")
	if err != nil || got != ports.PRStateOpen {
		t.Fatalf("parsePRState(\"\") = %q, %v; want open", got, err)
	}
	got, err = parsePRState("Changes_Requested")
	if err != nil || got != ports.PRStateChangesRequested {
		t.Fatalf("parsePRState(Changes_Requested) = %q, %v", got, err)
	}
	if _, err := parsePRState("draft"); err == nil {
		t.Fatalf("parsePRState(draft) expected error")
	}
}

func TestResolveBody(t *testing.T) {
	t.Parallel()

	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "body"}
		cmd.Flags().String("body", "", "")
		cmd.Flags().String("body-file", "", "")
		return cmd
	}

	path := filepath.Join(t.TempDir(), "body.md")
	if err := os.WriteFile(path, []byte("from file"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cmd := newCmd()
	if err := cmd.ParseFlags([]string{"--body-file", path}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	body, err := resolveBody(cmd, true)
	if err != nil {
		t.Fatalf("resolveBody() error = %v", err)
	}
	if body != "from file" {
		t.Fatalf("body = %q, want from file", body)
	}

	cmd = newCmd()
	if err := cmd.ParseFlags([]string{"--body", "x", "--body-file", path}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if _, err := resolveBody(cmd, false); err == nil {
		t.Fatalf("resolveBody() expected mutually exclusive error")
	}

	if _, err := resolveBody(newCmd(), true); err == nil {
		t.Fatalf("resolveBody() expected required error")
	}
}

func TestQueueNextFlags(t *testing.T) {
	if err := queueNextCmd.ParseFlags([]string{
		"--project", "web",
		"--role", "developer",
		"--channel", "-100123",
		"--force",
		"--dry-run",
	}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if queueNextFlags.project != "web" || queueNextFlags.role != "developer" {
		t.Fatalf("flags = %+v", queueNextFlags)
	}
	if !queueNextFlags.force || !queueNextFlags.dryRun {
		t.Fatalf("force/dry-run not set: %+v", queueNextFlags)
	}
	if len(queueNextFlags.channels) != 1 || queueNextFlags.channels[0] != "-100123" {
		t.Fatalf("channels = %v", queueNextFlags.channels)
	}
}

func TestRenderSlots(t *testing.T) {
	t.Parallel()

	out := renderSlots([]orchestrator.ProjectView{
		{
			Slug: "web",
			Name: "Web",
			Repo: "org/web",
			Slots: []orchestrator.SlotView{
				{Role: "developer", Level: "medior", Index: 0, Active: true, IssueID: 7, Started: "2026-01-02T03:04:05Z"},
				{Role: "tester", Level: "junior", Index: 0},
			},
		},
		{Slug: "api", Name: "API", Provider: "github"},
	})

	for _, want := range []string{"web (Web)", "provider=default", "issue #7", "idle", "provider=github", "no slots yet"} {
		if !strings.Contains(out, want) {
			t.Fatalf("renderSlots() missing %q in:\n%s", want, out)
		}
	}
}

func TestPrintTickReport(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := &cobra.Command{Use: "tick"}
	cmd.SetOut(&out)

	if err := printTickReport(cmd, orchestrator.TickReport{Skipped: true}); err != nil {
		t.Fatalf("printTickReport() error = %v", err)
	}
	if !strings.Contains(out.String(), "tick skipped") {
		t.Fatalf("output = %q, want skipped notice", out.String())
	}

	out.Reset()
	err := printTickReport(cmd, orchestrator.TickReport{Projects: []orchestrator.ProjectTick{{
		Project:    "web",
		Dispatched: []orchestrator.DispatchResult{{IssueID: 3, From: "To Do", To: "Doing", Role: "developer", Level: "medior"}},
	}}})
	if err != nil {
		t.Fatalf("printTickReport() error = %v", err)
	}
	if !strings.Contains(out.String(), "#3 To Do -> Doing") {
		t.Fatalf("output = %q, want dispatched line", out.String())
	}
}

func TestWorkflowValidateAndSchema(t *testing.T) {
	t.Chdir(t.TempDir())
	projectDir := filepath.Join(".issueflow", "projects", "web")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	layer := []byte("workflow:\n  reviewPolicy: agent\n")
	if err := os.WriteFile(filepath.Join(projectDir, "workflow.yaml"), layer, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var out bytes.Buffer
	workflowValidateCmd.SetOut(&out)
	workflowValidateCmd.SetContext(context.Background())
	defer workflowValidateCmd.SetOut(nil)

	workflowProject = "web"
	defer func() { workflowProject = "" }()
	if err := workflowValidateCmd.RunE(workflowValidateCmd, nil); err != nil {
		t.Fatalf("workflow validate error = %v", err)
	}
	if !strings.Contains(out.String(), "workflow ok: builtin -> ") {
		t.Fatalf("output = %q, want ok line", out.String())
	}

	bad := []byte("roles:\n  developer:\n    defaultLevel: galaxy\n")
	if err := os.WriteFile(filepath.Join(projectDir, "workflow.yaml"), bad, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := workflowValidateCmd.RunE(workflowValidateCmd, nil); err == nil {
		t.Fatalf("workflow validate expected error for unknown default level")
	}

	out.Reset()
	workflowSchemaCmd.SetOut(&out)
	defer workflowSchemaCmd.SetOut(nil)
	if err := workflowSchemaCmd.RunE(workflowSchemaCmd, nil); err != nil {
		t.Fatalf("workflow schema error = %v", err)
	}
	if !strings.Contains(out.String(), "reviewPolicy") {
		t.Fatalf("schema output missing reviewPolicy")
	}
}
