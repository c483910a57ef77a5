package ports

import "context"

// Git is the local repository view used for pulls and the history fallback.
type Git interface {
	Pull(ctx context.Context, repoDir string, branch string) error
	// CommitReferencesIssue reports whether a commit on branch mentions the
	// issue number.
	CommitReferencesIssue(ctx context.Context, repoDir string, branch string, issueID int) (bool, error)
}
