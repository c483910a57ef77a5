package ports

import (
	"context"

	"issueflow/internal/domain/slots"
)

// SlotStore guards the slot document. Update runs fn under the store lock
// against a freshly read document and persists it when fn returns nil.
type SlotStore interface {
	Load(ctx context.Context) (*slots.Document, error)
	Update(ctx context.Context, fn func(doc *slots.Document) error) error
}
