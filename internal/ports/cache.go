package ports

import (
	"context"
	"time"
)

// Cache stores small orchestrator markers keyed by string, for example the
// issues a project has already seen. found is false for missing or expired
// keys; a zero ttl keeps the entry until Delete.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
