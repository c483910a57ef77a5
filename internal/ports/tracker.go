package ports

import (
	"context"
	"errors"
)

var (
	ErrIssueNotFound = errors.New("tracker issue not found")
	ErrMergeFailed   = errors.New("pull request merge failed")
)

// PRState is the review status of the pull request linked to an issue.
type PRState string

const (
	PRStateOpen             PRState = "open"
	PRStateApproved         PRState = "approved"
	PRStateChangesRequested PRState = "changes_requested"
	PRStateMerged           PRState = "merged"
	PRStateClosed           PRState = "closed"
)

type Issue struct {
	ID        int
	Title     string
	Body      string
	Labels    []string
	State     string
	URL       string
	CreatedAt string
	UpdatedAt string
}

// IsOpen reports whether the tracker considers the issue open.
func (i Issue) IsOpen() bool { return i.State != "closed" }

// PRStatus describes the pull request linked to an issue. URL is empty if and
// only if no pull request of any state is linked. Mergeable is nil when the
// tracker has not computed it.
type PRStatus struct {
	State                PRState
	URL                  string
	Number               int
	Mergeable            *bool
	SourceBranch         string
	Title                string
	HasUnresolvedComment bool
}

// Linked reports whether a pull request exists for the issue.
func (s PRStatus) Linked() bool { return s.URL != "" }

// Conflicting reports an explicit mergeable=false.
func (s PRStatus) Conflicting() bool { return s.Mergeable != nil && !*s.Mergeable }

// ReviewComment is one comment left on the linked pull request.
type ReviewComment struct {
	ID     int64
	Author string
	Body   string
}

type IssueCreate struct {
	Title  string
	Body   string
	Labels []string
}

type IssueEdit struct {
	Title *string
	Body  *string
}

// IssueTracker is the provider boundary every tracker backend implements.
// Label operations are atomic on the tracker side.
type IssueTracker interface {
	CreateIssue(ctx context.Context, in IssueCreate) (Issue, error)
	// ListIssuesByLabel lists open issues carrying label, newest first.
	ListIssuesByLabel(ctx context.Context, label string) ([]Issue, error)
	GetIssue(ctx context.Context, id int) (Issue, error)
	// TransitionLabel removes from and adds to in one step.
	TransitionLabel(ctx context.Context, id int, from string, to string) error
	AddLabels(ctx context.Context, id int, labels ...string) error
	RemoveLabels(ctx context.Context, id int, labels ...string) error
	EnsureLabel(ctx context.Context, name string, color string) error
	CloseIssue(ctx context.Context, id int) error
	ReopenIssue(ctx context.Context, id int) error
	GetPRStatus(ctx context.Context, id int) (PRStatus, error)
	MergePR(ctx context.Context, id int) error
	ListReviewComments(ctx context.Context, id int) ([]ReviewComment, error)
	ReactToComment(ctx context.Context, id int, commentID int64, reaction string) error
	AddComment(ctx context.Context, id int, body string) error
	EditIssue(ctx context.Context, id int, in IssueEdit) error
	HealthCheck(ctx context.Context) error
}
