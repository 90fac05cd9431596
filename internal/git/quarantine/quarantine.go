package quarantine

import (
	"context"
	"fmt"
	"sync"

	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/tempdir"
)

// Dir is a quarantine directory for Git objects. Instead of writing new objects into the main
// repository, they're written into a temporary quarantine directory which the main repository's
// objects are layered beneath. The quarantine is discarded by Close or when the context gets
// cancelled, so none of its objects ever end up in the main repository.
type Dir struct {
	repo            git.Repository
	quarantinedRepo git.Repository
	dir             tempdir.Dir

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a new quarantine directory for repo below root.
func New(ctx context.Context, repo git.Repository, root string) (*Dir, error) {
	ctx, cancel := context.WithCancel(ctx)

	quarantineDir, err := tempdir.New(ctx, root, "quarantine-")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating quarantine: %w", err)
	}

	objectDir := repo.ObjectDirectory
	if objectDir == "" {
		objectDir = repo.DefaultObjectDirectory()
	}

	alternateObjectDirs := append([]string{objectDir}, repo.AlternateObjectDirectories...)

	return &Dir{
		repo: repo,
		quarantinedRepo: git.Repository{
			Path:                       repo.Path,
			ObjectDirectory:            quarantineDir.Path(),
			AlternateObjectDirectories: alternateObjectDirs,
			ReadOnly:                   true,
		},
		dir:    quarantineDir,
		cancel: cancel,
	}, nil
}

// QuarantinedRepo returns the repository with adjusted main and alternate object directories.
// Commands spawned for it via the git.CommandFactory write all new objects into the quarantine
// directory and are not allowed to update references.
func (d *Dir) QuarantinedRepo() git.Repository {
	return d.quarantinedRepo
}

// Path returns the path of the quarantine directory.
func (d *Dir) Path() string {
	return d.dir.Path()
}

// Close discards the quarantine directory and all objects in it. It is safe
// to call Close multiple times.
func (d *Dir) Close() {
	d.closeOnce.Do(func() {
		d.cancel()
		d.dir.WaitForCleanup()
	})
}
