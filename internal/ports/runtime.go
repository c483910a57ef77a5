package ports

import "context"

// SessionRequest asks the host runtime to start or wake a worker session.
type SessionRequest struct {
	Project    string
	IssueID    int
	Role       string
	Level      string
	Model      string
	SessionKey string
	Prompt     string
	Repo       string
}

// SessionRuntime is the host agent runtime that runs worker sessions.
type SessionRuntime interface {
	Dispatch(ctx context.Context, req SessionRequest) (sessionKey string, err error)
}
