package bundle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/git/gittest"
	"gitlab.com/packrat/packrat/internal/git/quarantine"
	"gitlab.com/packrat/packrat/internal/testhelper"
)

func TestListHeads(t *testing.T) {
	ctx := testhelper.Context(t)
	gitCmdFactory := gittest.NewCommandFactory(t)

	repo, repoPath := gittest.InitRepo(t)
	main := gittest.WriteCommit(t, repoPath, gittest.WithBranch("main"))
	feature := gittest.WriteCommit(t, repoPath, gittest.WithParents(main), gittest.WithBranch("feature"))

	bundlePath := gittest.CreateBundle(t, repoPath, "refs/heads/main", "refs/heads/feature")

	refs, err := ListHeads(ctx, gitCmdFactory, repo, bundlePath)
	require.NoError(t, err)
	require.ElementsMatch(t, []git.Reference{
		{Name: "refs/heads/main", Target: main},
		{Name: "refs/heads/feature", Target: feature},
	}, refs)
}

func TestListHeads_invalidBundle(t *testing.T) {
	ctx := testhelper.Context(t)
	repo, _ := gittest.InitRepo(t)

	bundlePath := filepath.Join(testhelper.TempDir(t), "garbage.bundle")
	require.NoError(t, os.WriteFile(bundlePath, []byte("not a bundle"), 0o600))

	_, err := ListHeads(ctx, gittest.NewCommandFactory(t), repo, bundlePath)

	var bundleErr *Error
	require.True(t, errors.As(err, &bundleErr))
	require.Equal(t, "list-heads", bundleErr.Op)
	require.Contains(t, bundleErr.Stderr, "bundle")
}

func TestUnbundle(t *testing.T) {
	ctx := testhelper.Context(t)
	gitCmdFactory := gittest.NewCommandFactory(t)

	_, sourcePath := gittest.InitRepo(t)
	base := gittest.WriteCommit(t, sourcePath, gittest.WithBranch("main"))
	repo := git.Repository{Path: gittest.CloneRepo(t, sourcePath)}

	change := gittest.WriteCommit(t, sourcePath, gittest.WithParents(base), gittest.WithMessage("change"), gittest.WithBranch("feature"))
	bundlePath := gittest.CreateBundle(t, sourcePath, "main..feature")

	t.Run("prerequisites present", func(t *testing.T) {
		refsBefore := gittest.ListRefs(t, repo.Path)

		quarantineDir, err := quarantine.New(ctx, repo, testhelper.TempDir(t))
		require.NoError(t, err)
		defer quarantineDir.Close()

		require.NoError(t, Unbundle(ctx, gitCmdFactory, quarantineDir.QuarantinedRepo(), bundlePath))

		require.Equal(t, refsBefore, gittest.ListRefs(t, repo.Path))
		require.False(t, gittest.ObjectExists(t, repo.Path, change))
	})

	t.Run("prerequisites missing", func(t *testing.T) {
		emptyRepo, _ := gittest.InitRepo(t)

		quarantineDir, err := quarantine.New(ctx, emptyRepo, testhelper.TempDir(t))
		require.NoError(t, err)
		defer quarantineDir.Close()

		err = Unbundle(ctx, gitCmdFactory, quarantineDir.QuarantinedRepo(), bundlePath)

		var bundleErr *Error
		require.True(t, errors.As(err, &bundleErr))
		require.Equal(t, "unbundle", bundleErr.Op)
		require.Contains(t, bundleErr.Stderr, "prerequisite")
	})
}
