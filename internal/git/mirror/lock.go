package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// flockRetryInterval is how often a contended lock file is retried.
const flockRetryInterval = 50 * time.Millisecond

type lockEntry struct {
	sync.RWMutex
	refs int
}

// lockTable hands out per-path reader/writer locks. Within the process a
// RWMutex keyed by path is held, across processes an flock(2) on the sibling
// "<path>.lock" file.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{entries: map[string]*lockEntry{}}
}

func (t *lockTable) acquire(path string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[path]
	if !ok {
		entry = &lockEntry{}
		t.entries[path] = entry
	}
	entry.refs++

	return entry
}

func (t *lockTable) release(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.entries[path]
	entry.refs--
	if entry.refs == 0 {
		delete(t.entries, path)
	}
}

// lock locks path exclusively or shared and returns the function undoing it.
func (t *lockTable) lock(ctx context.Context, path string, exclusive bool) (func(), error) {
	entry := t.acquire(path)

	if exclusive {
		entry.Lock()
	} else {
		entry.RLock()
	}

	unlockEntry := func() {
		if exclusive {
			entry.Unlock()
		} else {
			entry.RUnlock()
		}
		t.release(path)
	}

	file, err := flock(ctx, path+".lock", exclusive)
	if err != nil {
		unlockEntry()
		return nil, err
	}

	return func() {
		// closing the descriptor drops the flock
		_ = file.Close()
		unlockEntry()
	}, nil
}

func flock(ctx context.Context, lockPath string, exclusive bool) (*os.File, error) {
	file, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}

	for {
		err := unix.Flock(int(file.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			_ = file.Close()
			return nil, fmt.Errorf("locking %q: %w", lockPath, err)
		}

		select {
		case <-ctx.Done():
			_ = file.Close()
			return nil, fmt.Errorf("waiting for %q: %w", lockPath, ctx.Err())
		case <-time.After(flockRetryInterval):
		}
	}
}
