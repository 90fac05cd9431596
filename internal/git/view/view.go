// Package view provides read-only access to the history of a repository,
// optionally extended by the commits of a bundle which never reach the
// repository itself.
package view

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gitlab.com/packrat/packrat/internal/command"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/git/bundle"
	"gitlab.com/packrat/packrat/internal/git/quarantine"
)

// ErrRevisionNotFound is returned when a revision does not resolve to a
// commit in the view.
var ErrRevisionNotFound = errors.New("revision not found")

// View is a handle onto the history of a repository. It must be closed.
type View struct {
	gitCmdFactory git.CommandFactory
	repo          git.Repository
	quarantine    *quarantine.Dir
	// bundleRefs maps the full and short names of the bundle's references
	// to their targets.
	bundleRefs map[string]git.ObjectID

	closeOnce sync.Once
}

type openConfig struct {
	quarantineRoot string
}

// Option configures Open.
type Option func(*openConfig)

// WithQuarantineRoot sets the directory below which the objects of a bundle
// are unpacked. It defaults to the system's temporary directory.
func WithQuarantineRoot(dir string) Option {
	return func(cfg *openConfig) {
		cfg.quarantineRoot = dir
	}
}

// Open opens a view onto the repository at path. If bundlePath is not empty,
// the commits and references of the bundle become visible in the view. The
// repository at path is never modified.
func Open(ctx context.Context, gitCmdFactory git.CommandFactory, path, bundlePath string, opts ...Option) (*View, error) {
	cfg := openConfig{quarantineRoot: os.TempDir()}
	for _, opt := range opts {
		opt(&cfg)
	}

	repo := git.Repository{Path: path, ReadOnly: true}
	view := &View{
		gitCmdFactory: gitCmdFactory,
		repo:          repo,
		bundleRefs:    map[string]git.ObjectID{},
	}

	if bundlePath == "" {
		return view, nil
	}

	quarantineDir, err := quarantine.New(ctx, repo, cfg.quarantineRoot)
	if err != nil {
		return nil, err
	}
	view.quarantine = quarantineDir
	view.repo = quarantineDir.QuarantinedRepo()

	if err := bundle.Unbundle(ctx, gitCmdFactory, view.repo, bundlePath); err != nil {
		view.Close()
		return nil, err
	}

	heads, err := bundle.ListHeads(ctx, gitCmdFactory, view.repo, bundlePath)
	if err != nil {
		view.Close()
		return nil, err
	}

	for _, head := range heads {
		view.bundleRefs[head.Name.String()] = head.Target
	}
	// Short names must not shadow full names of other references.
	for _, head := range heads {
		short, ok := head.Name.ShortName()
		if !ok {
			continue
		}
		if _, ok := view.bundleRefs[short]; !ok {
			view.bundleRefs[short] = head.Target
		}
	}

	return view, nil
}

// Close releases all resources held by the view. It is safe to call Close
// multiple times.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		if v.quarantine != nil {
			v.quarantine.Close()
		}
	})
}

// BundleRefs returns the references recorded in the bundle, keyed by full
// and short name.
func (v *View) BundleRefs() map[string]git.ObjectID {
	return v.bundleRefs
}

// ResolveRevision resolves rev to a commit. References recorded in the
// bundle take precedence over references of the repository.
func (v *View) ResolveRevision(ctx context.Context, rev git.Revision) (git.ObjectID, error) {
	var stdout, stderr bytes.Buffer
	cmd, err := v.gitCmdFactory.New(ctx, v.repo, git.SubCmd{
		Name:  "rev-parse",
		Flags: []git.Option{git.Flag{Name: "--verify"}, git.Flag{Name: "--quiet"}},
		Args:  []string{v.substituteBundleRefs(rev).Commit().String()},
	}, git.WithStdout(&stdout), git.WithStderr(&stderr))
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", rev, err)
	}

	if err := cmd.Wait(); err != nil {
		if _, ok := command.ExitStatus(err); ok {
			return "", fmt.Errorf("%q: %w", rev, ErrRevisionNotFound)
		}
		return "", fmt.Errorf("resolving %q: %w", rev, err)
	}

	return git.NewObjectIDFromHex(strings.TrimSpace(stdout.String()))
}

// substituteBundleRefs replaces a leading bundle reference name in rev with
// the object it points to, keeping suffixes like "^1" or "~2".
func (v *View) substituteBundleRefs(rev git.Revision) git.Revision {
	name := rev.String()
	suffix := ""
	if i := strings.IndexAny(name, "^~@:"); i >= 0 {
		name, suffix = name[:i], name[i:]
	}

	if oid, ok := v.bundleRefs[name]; ok {
		return git.Revision(oid.String() + suffix)
	}

	return rev
}
