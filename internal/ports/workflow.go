package ports

import (
	"context"

	"issueflow/internal/domain/slots"
	"issueflow/internal/domain/workflow"
)

// WorkflowSource returns the resolved workflow of a project.
type WorkflowSource interface {
	Load(ctx context.Context, slug string) (*workflow.Config, error)
}

// TrackerResolver picks the tracker backend bound to a project.
type TrackerResolver interface {
	TrackerFor(ctx context.Context, project slots.Project) (IssueTracker, error)
}
