package view

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gitlab.com/packrat/packrat/internal/command"
	"gitlab.com/packrat/packrat/internal/git"
)

// MaxContextLines is the number of context lines put around each change,
// large enough for every hunk to span its whole file.
const MaxContextLines = 1 << 24

// ErrNoCommonAncestor is returned when two revisions do not share history.
var ErrNoCommonAncestor = errors.New("revisions have no common ancestor")

// DiffError is returned when no diff can be computed between two revisions.
type DiffError struct {
	Base git.Revision
	Rev  git.Revision
	Err  error
}

func (e *DiffError) Error() string {
	return fmt.Sprintf("diff %s..%s: %v", e.Base, e.Rev, e.Err)
}

func (e *DiffError) Unwrap() error {
	return e.Err
}

var diffFlags = []git.Option{
	git.Flag{Name: "--no-color"},
	git.Flag{Name: "--no-ext-diff"},
	git.Flag{Name: "--no-textconv"},
	git.Flag{Name: "--binary"},
	git.Flag{Name: "--full-index"},
	git.Flag{Name: "--src-prefix=a/"},
	git.Flag{Name: "--dst-prefix=b/"},
	git.Flag{Name: "--unified=" + strconv.Itoa(MaxContextLines)},
}

// Diff returns the git formatted diff between base and rev with whole-file
// context. Both must resolve to commits sharing a common ancestor, otherwise
// a *DiffError is returned.
func (v *View) Diff(ctx context.Context, base, rev git.Revision) ([]byte, error) {
	baseOID, err := v.ResolveRevision(ctx, base)
	if err != nil {
		return nil, &DiffError{Base: base, Rev: rev, Err: err}
	}

	revOID, err := v.ResolveRevision(ctx, rev)
	if err != nil {
		return nil, &DiffError{Base: base, Rev: rev, Err: err}
	}

	if err := v.checkMergeBase(ctx, baseOID, revOID); err != nil {
		return nil, &DiffError{Base: base, Rev: rev, Err: err}
	}

	var stdout, stderr bytes.Buffer
	cmd, err := v.gitCmdFactory.New(ctx, v.repo, git.SubCmd{
		Name:  "diff",
		Flags: diffFlags,
		Args:  []string{baseOID.String(), revOID.String()},
	}, git.WithStdout(&stdout), git.WithStderr(&stderr))
	if err != nil {
		return nil, fmt.Errorf("spawning diff: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w: %s", baseOID, revOID, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

func (v *View) checkMergeBase(ctx context.Context, base, rev git.ObjectID) error {
	var stderr bytes.Buffer
	cmd, err := v.gitCmdFactory.New(ctx, v.repo, git.SubCmd{
		Name: "merge-base",
		Args: []string{base.String(), rev.String()},
	}, git.WithStdout(&bytes.Buffer{}), git.WithStderr(&stderr))
	if err != nil {
		return fmt.Errorf("spawning merge-base: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		// merge-base exits with 1 and prints nothing when there is none
		if status, ok := command.ExitStatus(err); ok && status == 1 {
			return ErrNoCommonAncestor
		}
		return fmt.Errorf("merge-base: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return nil
}
