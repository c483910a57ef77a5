package ports

import "context"

// Audit kinds recorded by the orchestrator.
const (
	AuditTransition    = "transition"
	AuditMergeConflict = "merge_conflict"
	AuditMergeFailed   = "merge_failed"
	AuditPickup        = "pickup"
	AuditCompletion    = "completion"
	AuditHealthFix     = "health_fix"
	AuditStaleWorker   = "stale_worker"
	AuditPassError     = "pass_error"
)

type AuditEntry struct {
	ID        uint64
	Project   string
	IssueID   int
	Kind      string
	Actor     string
	Event     string
	FromLabel string
	ToLabel   string
	Reason    string
	CreatedAt string
}

// AuditLog is the durable record of every transition the system makes.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
	ListForIssue(ctx context.Context, project string, issueID int) ([]AuditEntry, error)
	HasKind(ctx context.Context, project string, issueID int, kind string) (bool, error)
}
