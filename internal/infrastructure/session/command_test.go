package session

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"issueflow/internal/ports"
)

func TestDispatchPassesAssignmentThroughEnv(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "env.txt")

	rt := &CommandRuntime{
		Program: sh,
		Args:    []string{"-c", `cat > /dev/null; echo "$ISSUEFLOW_PROJECT $ISSUEFLOW_ISSUE_ID $ISSUEFLOW_ROLE $ISSUEFLOW_SESSION_KEY" > "` + out + `"`},
		LogDir:  dir,
	}
	key, err := rt.Dispatch(context.Background(), ports.SessionRequest{Project: "web", IssueID: 42, Role: "developer", SessionKey: "sess-1", Prompt: "work on #42"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if key != "sess-1" {
		t.Fatalf("session key = %q, want reused key", key)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(out)
		if err == nil && strings.TrimSpace(string(data)) == "web 42 developer sess-1" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker did not write env, last read %q err %v", string(data), err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDispatchGeneratesSessionKey(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	rt := &CommandRuntime{Program: sh, Args: []string{"-c", "cat > /dev/null"}, LogDir: t.TempDir()}
	key, err := rt.Dispatch(context.Background(), ports.SessionRequest{Project: "web", IssueID: 1, Role: "tester"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !strings.HasPrefix(key, "web:tester:") {
		t.Fatalf("generated key = %q", key)
	}
}

func TestDispatchRequiresProgram(t *testing.T) {
	if _, err := (&CommandRuntime{}).Dispatch(context.Background(), ports.SessionRequest{}); err == nil {
		t.Fatalf("Dispatch() without program should fail")
	}
}
