package tempdir

import (
	"context"
	"fmt"
	"os"
)

// Dir is a temporary directory which is removed when the context it was
// created with is done.
type Dir struct {
	path   string
	doneCh chan struct{}
}

// Path returns the absolute path of the temporary directory.
func (d Dir) Path() string {
	return d.path
}

// WaitForCleanup waits until the directory has been removed. It must only be
// called after the context has been cancelled.
func (d Dir) WaitForCleanup() {
	<-d.doneCh
}

// New creates a new temporary directory below root whose name starts with
// prefix. The directory is removed with os.RemoveAll when ctx is done.
func New(ctx context.Context, root, prefix string) (Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return Dir{}, fmt.Errorf("creating temporary root: %w", err)
	}

	path, err := os.MkdirTemp(root, prefix)
	if err != nil {
		return Dir{}, err
	}

	dir := Dir{
		path:   path,
		doneCh: make(chan struct{}),
	}

	go func() {
		<-ctx.Done()
		_ = os.RemoveAll(path)
		close(dir.doneCh)
	}()

	return dir, nil
}
