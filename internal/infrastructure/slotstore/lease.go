package slotstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
)

// LeaseOptions tune the lock file. A lease older than StaleAfter belongs to a
// crashed holder and may be reclaimed. When Timeout passes the lease is taken
// unconditionally: availability wins over strict exclusion, which is safe
// because every slot mutation writes an absolute state.
type LeaseOptions struct {
	RetryInterval time.Duration
	Timeout       time.Duration
	StaleAfter    time.Duration
}

func DefaultLeaseOptions() LeaseOptions {
	return LeaseOptions{
		RetryInterval: 50 * time.Millisecond,
		Timeout:       10 * time.Second,
		StaleAfter:    30 * time.Second,
	}
}

func (o LeaseOptions) withDefaults() LeaseOptions {
	d := DefaultLeaseOptions()
	if o.RetryInterval <= 0 {
		o.RetryInterval = d.RetryInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = d.StaleAfter
	}
	return o
}

// errLeaseLost means the lock file no longer carries our token: another
// holder reclaimed it as stale or forced it.
var errLeaseLost = errors.New("slot lock taken over by another holder")

type leaseRecord struct {
	PID        int    `json:"pid"`
	Token      string `json:"token,omitempty"`
	AcquiredAt string `json:"acquiredAt"`
}

// lease is a held lock file. token is written into the file so release only
// removes a lock this holder still owns.
type lease struct {
	path   string
	token  string
	forced bool
}

// acquireLease spins on an exclusive create of path.
func acquireLease(ctx context.Context, path string, opts LeaseOptions, now func() time.Time) (*lease, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	opts = opts.withDefaults()
	logCtx := logging.WithAttrs(ctx, slog.String("component", "slotstore.lease"), slog.String("lock_file", path))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrapf(err, "create lock directory %q", filepath.Dir(path))
	}

	token := uuid.NewString()
	deadline := now().Add(opts.Timeout)
	for {
		ok, err := tryCreate(path, now(), token)
		if err != nil {
			return nil, err
		}
		if ok {
			return &lease{path: path, token: token}, nil
		}

		if age, known := leaseAge(path, now()); known && age > opts.StaleAfter {
			logging.Warn(logCtx, "removing stale slot lock", slog.Duration("age", age))
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, errs.Wrap(err, "remove stale lock")
			}
			continue
		}

		if !now().Before(deadline) {
			logging.Warn(logCtx, "slot lock timeout reached, forcing acquisition", slog.Duration("timeout", opts.Timeout))
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, errs.Wrap(err, "force remove lock")
			}
			if err := writeRecord(path, now(), token); err != nil {
				return nil, err
			}
			return &lease{path: path, token: token, forced: true}, nil
		}

		timer := time.NewTimer(opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errs.Wrap(ctx.Err(), "wait for slot lock")
		case <-timer.C:
		}
	}
}

func tryCreate(path string, at time.Time, token string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, errs.Wrap(err, "create lock file")
	}
	defer f.Close()
	data, _ := json.Marshal(newRecord(at, token))
	if _, err := f.Write(data); err != nil {
		return false, errs.Wrap(err, "write lock file")
	}
	return true, nil
}

func newRecord(at time.Time, token string) leaseRecord {
	return leaseRecord{PID: os.Getpid(), Token: token, AcquiredAt: at.UTC().Format(time.RFC3339Nano)}
}

func writeRecord(path string, at time.Time, token string) error {
	data, _ := json.Marshal(newRecord(at, token))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(err, "write lock file")
	}
	return nil
}

// leaseAge reads the holder's timestamp, falling back to the file mtime for
// empty or foreign lock files.
func leaseAge(path string, at time.Time) (time.Duration, bool) {
	data, err := os.ReadFile(path)
	if err == nil {
		var rec leaseRecord
		if json.Unmarshal(data, &rec) == nil && rec.AcquiredAt != "" {
			if ts, perr := time.Parse(time.RFC3339Nano, rec.AcquiredAt); perr == nil {
				return at.Sub(ts), true
			}
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return at.Sub(info.ModTime()), true
}

// release removes the lock file when it still carries this lease's token.
// A lock that was taken over is left to its new holder.
func (l *lease) release() error {
	if l == nil {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock %q: %w", l.path, err)
	}
	var rec leaseRecord
	if json.Unmarshal(data, &rec) != nil || rec.Token != l.token {
		return fmt.Errorf("%w: %q", errLeaseLost, l.path)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock %q: %w", l.path, err)
	}
	return nil
}
