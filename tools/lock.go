package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/mdxdocs/docs-mcp-server/internal/logger"
)

const lockRetryWait = 100 * time.Millisecond

// ErrLockTimeout is returned when another process keeps the index lock
// longer than the configured timeout.
var ErrLockTimeout = errors.New("timeout waiting for index lock")

// indexLock guards the on-disk index against other server and indexer
// processes. The OS drops the lock when the owning process dies, so there is
// no stale lock to clean up.
type indexLock struct {
	fl      *flock.Flock
	timeout time.Duration
}

func newIndexLock(path string, timeout time.Duration) *indexLock {
	return &indexLock{fl: flock.New(path), timeout: timeout}
}

// acquire takes the lock, waiting up to the timeout. Acquiring a lock this
// process already holds is a no-op.
func (l *indexLock) acquire(ctx context.Context) error {
	if l.fl.Locked() {
		logger.Debug("Lock already held by this process", "path", l.fl.Path())
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	start := time.Now()
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	locked, err := l.fl.TryLockContext(ctx, lockRetryWait)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to lock %s: %w", l.fl.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%w after %v", ErrLockTimeout, time.Since(start).Round(time.Millisecond))
	}

	logger.Info("✓ Index lock acquired", "pid", os.Getpid())
	return nil
}

// release drops the lock. Releasing an unheld lock is a no-op.
func (l *indexLock) release() error {
	if !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release index lock: %w", err)
	}
	logger.Info("✓ Index lock released")
	return nil
}
