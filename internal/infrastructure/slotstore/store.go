package slotstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/domain/slots"
	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

// FileStore keeps the slot document in one JSON file next to its lock file.
type FileStore struct {
	path    string
	lease   LeaseOptions
	levelOf func(role string) string
	now     func() time.Time

	onForced func()

	// mu serializes writers inside this process; the lease covers the rest.
	mu sync.Mutex
}

var _ ports.SlotStore = (*FileStore)(nil)

type Option func(*FileStore)

// WithLevelResolver names the level used for legacy workers that never stored one.
func WithLevelResolver(fn func(role string) string) Option {
	return func(s *FileStore) { s.levelOf = fn }
}

// WithForcedAcquireHook is called every time the lease is taken by force.
func WithForcedAcquireHook(fn func()) Option {
	return func(s *FileStore) { s.onForced = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

func New(path string, lease LeaseOptions, opts ...Option) *FileStore {
	s := &FileStore{
		path:  path,
		lease: lease.withDefaults(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) Path() string     { return s.path }
func (s *FileStore) LockPath() string { return s.path + ".lock" }

// Load reads the document. A legacy document is migrated and written back
// under the lock so the migration happens once.
func (s *FileStore) Load(ctx context.Context) (*slots.Document, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	doc, migrated, err := s.read()
	if err != nil {
		return nil, err
	}
	if !migrated {
		return doc, nil
	}

	var out *slots.Document
	err = s.Update(ctx, func(current *slots.Document) error {
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Migrate rewrites a legacy document in the current format and reports
// whether anything changed.
func (s *FileStore) Migrate(ctx context.Context) (bool, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	_, migrated, err := s.read()
	if err != nil || !migrated {
		return false, err
	}
	if err := s.Update(ctx, func(*slots.Document) error { return nil }); err != nil {
		return false, err
	}
	return true, nil
}

// Update is read-modify-write under the lease. The document is persisted only
// when fn succeeds.
func (s *FileStore) Update(ctx context.Context, fn func(doc *slots.Document) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if fn == nil {
		return errors.New("update func is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logCtx := logging.WithAttrs(ctx, slog.String("component", "slotstore.file"))

	l, err := acquireLease(ctx, s.LockPath(), s.lease, s.now)
	if err != nil {
		return errs.Wrap(err, "acquire slot lock")
	}
	if l.forced && s.onForced != nil {
		s.onForced()
	}
	defer func() {
		if rerr := l.release(); rerr != nil {
			logging.Warn(logCtx, "release slot lock failed", slog.Any("err", errs.Loggable(rerr)))
		}
	}()

	doc, migrated, err := s.read()
	if err != nil {
		return err
	}
	if migrated {
		logging.Info(logCtx, "migrated legacy slot document", slog.Int("projects", len(doc.Projects)))
	}

	if err := fn(doc); err != nil {
		if migrated {
			if werr := s.write(doc); werr != nil {
				return errs.Wrap(werr, "persist migrated document")
			}
		}
		return err
	}
	return s.write(doc)
}

func (s *FileStore) read() (*slots.Document, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return slots.NewDocument(), false, nil
		}
		return nil, false, errs.Wrapf(err, "read slot document %q", s.path)
	}
	doc, migrated, err := slots.Decode(data, s.levelOf)
	if err != nil {
		return nil, false, errs.Wrapf(err, "decode slot document %q", s.path)
	}
	return doc, migrated, nil
}

// write persists through a temp file and an atomic rename.
func (s *FileStore) write(doc *slots.Document) error {
	doc.Version = slots.DocumentVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errs.Wrap(err, "encode slot document")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrapf(err, "create state directory %q", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errs.Wrap(err, "create temp slot document")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errs.Wrap(err, "write temp slot document")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errs.Wrap(err, "close temp slot document")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return errs.Wrap(err, "rename slot document")
	}
	return nil
}
