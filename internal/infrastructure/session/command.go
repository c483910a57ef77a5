// Package session launches worker sessions as local processes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

// CommandRuntime starts Program once per dispatch. The prompt arrives on
// stdin and the assignment in ISSUEFLOW_* variables; the worker reports back
// through `issueflow work finish`.
type CommandRuntime struct {
	Program string
	Args    []string
	LogDir  string
	// WorkDir resolves the checkout a session runs in. Empty means the
	// current directory.
	WorkDir func(project string) string
}

var _ ports.SessionRuntime = (*CommandRuntime)(nil)

func (r *CommandRuntime) Dispatch(ctx context.Context, req ports.SessionRequest) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if strings.TrimSpace(r.Program) == "" {
		return "", errors.New("runtime program is required")
	}

	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = fmt.Sprintf("%s:%s:%s", req.Project, req.Role, uuid.NewString())
	}

	logDir := r.LogDir
	if logDir == "" {
		logDir = os.TempDir()
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", errs.Wrapf(err, "create session log dir %q", logDir)
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-%d-%s.log", req.Project, req.IssueID, req.Role))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", errs.Wrap(err, "open session log")
	}

	// The session outlives the dispatching tick.
	cmd := exec.Command(r.Program, r.Args...)
	if r.WorkDir != nil {
		cmd.Dir = r.WorkDir(req.Project)
	}
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"ISSUEFLOW_PROJECT="+req.Project,
		"ISSUEFLOW_ISSUE_ID="+strconv.Itoa(req.IssueID),
		"ISSUEFLOW_ROLE="+req.Role,
		"ISSUEFLOW_LEVEL="+req.Level,
		"ISSUEFLOW_MODEL="+req.Model,
		"ISSUEFLOW_SESSION_KEY="+sessionKey,
		"ISSUEFLOW_REPO="+req.Repo,
	)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return "", errs.Wrapf(err, "start worker %q", r.Program)
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "runtime.command"),
		slog.String("session_key", sessionKey),
		slog.Int("pid", cmd.Process.Pid),
	)
	logging.Info(logCtx, "worker session started", slog.String("log", logPath))

	go func() {
		defer logFile.Close()
		if err := cmd.Wait(); err != nil {
			logging.Warn(context.WithoutCancel(logCtx), "worker session exited with error", slog.Any("err", errs.Loggable(err)))
			return
		}
		logging.Info(context.WithoutCancel(logCtx), "worker session exited")
	}()

	return sessionKey, nil
}
