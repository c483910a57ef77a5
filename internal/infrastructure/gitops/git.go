// Package gitops runs the few git commands the orchestrator needs against a
// local checkout.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

type Git struct {
	Program string
	Timeout time.Duration
}

var _ ports.Git = (*Git)(nil)

func New(timeout time.Duration) *Git {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Git{Program: "git", Timeout: timeout}
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("repo dir is required")
	}
	runCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, g.Program, append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s timed out after %s: %w", args[0], g.Timeout, runCtx.Err())
		}
		return "", errs.Wrapf(err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Pull fast-forwards the checkout to the remote branch.
func (g *Git) Pull(ctx context.Context, repoDir string, branch string) error {
	args := []string{"pull", "--ff-only"}
	if branch != "" {
		args = append(args, "origin", branch)
	}
	_, err := g.run(ctx, repoDir, args...)
	return err
}

func (g *Git) CommitReferencesIssue(ctx context.Context, repoDir string, branch string, issueID int) (bool, error) {
	if branch == "" {
		branch = "HEAD"
	}
	out, err := g.run(ctx, repoDir, "log", branch, "-n", "500", "--format=%H",
		"--extended-regexp", "--grep", fmt.Sprintf("#%d([^0-9]|$)", issueID))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}
