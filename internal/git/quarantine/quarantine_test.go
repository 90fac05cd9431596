package quarantine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/git/gittest"
	"gitlab.com/packrat/packrat/internal/testhelper"
)

func TestMain(m *testing.M) {
	testhelper.Run(m)
}

func TestQuarantine_lifecycle(t *testing.T) {
	repo, repoPath := gittest.InitRepo(t)
	root := testhelper.TempDir(t)

	t.Run("quarantine directory gets created", func(t *testing.T) {
		ctx := testhelper.Context(t)

		quarantine, err := New(ctx, repo, root)
		require.NoError(t, err)
		defer quarantine.Close()

		require.DirExists(t, quarantine.Path())
		require.Equal(t, git.Repository{
			Path:                       repoPath,
			ObjectDirectory:            quarantine.Path(),
			AlternateObjectDirectories: []string{repo.DefaultObjectDirectory()},
			ReadOnly:                   true,
		}, quarantine.QuarantinedRepo())
	})

	t.Run("existing object directories are kept as alternates", func(t *testing.T) {
		ctx := testhelper.Context(t)

		layered := repo
		layered.ObjectDirectory = "/objects/main"
		layered.AlternateObjectDirectories = []string{"/objects/alternate"}

		quarantine, err := New(ctx, layered, root)
		require.NoError(t, err)
		defer quarantine.Close()

		require.Equal(t, []string{"/objects/main", "/objects/alternate"},
			quarantine.QuarantinedRepo().AlternateObjectDirectories)
	})

	t.Run("close removes the quarantine directory", func(t *testing.T) {
		ctx := testhelper.Context(t)

		quarantine, err := New(ctx, repo, root)
		require.NoError(t, err)

		quarantine.Close()
		quarantine.Close()
		require.NoDirExists(t, quarantine.Path())
	})

	t.Run("context cancellation cleans up quarantine directory", func(t *testing.T) {
		ctx, cancel := context.WithCancel(testhelper.Context(t))

		quarantine, err := New(ctx, repo, root)
		require.NoError(t, err)

		require.DirExists(t, quarantine.Path())
		cancel()
		quarantine.dir.WaitForCleanup()
		require.NoDirExists(t, quarantine.Path())
	})
}

func TestQuarantine_objectsStayOutOfRepository(t *testing.T) {
	ctx := testhelper.Context(t)
	gitCmdFactory := gittest.NewCommandFactory(t)

	repo, repoPath := gittest.InitRepo(t)
	existing := gittest.WriteCommit(t, repoPath, gittest.WithBranch("main"))

	// A second repository provides objects unknown to the first one.
	_, otherPath := gittest.InitRepo(t)
	foreign := gittest.WriteCommit(t, otherPath, gittest.WithMessage("foreign"), gittest.WithBranch("main"))
	bundlePath := gittest.CreateBundle(t, otherPath, "refs/heads/main")

	quarantine, err := New(ctx, repo, testhelper.TempDir(t))
	require.NoError(t, err)

	cmd, err := gitCmdFactory.New(ctx, quarantine.QuarantinedRepo(), git.SubSubCmd{
		Name:   "bundle",
		Action: "unbundle",
		Args:   []string{bundlePath},
	})
	require.NoError(t, err)
	require.NoError(t, cmd.Wait())

	for _, oid := range []git.ObjectID{existing, foreign} {
		cmd, err := gitCmdFactory.New(ctx, quarantine.QuarantinedRepo(), git.SubCmd{
			Name:  "rev-parse",
			Flags: []git.Option{git.Flag{Name: "--verify"}, git.Flag{Name: "--quiet"}},
			Args:  []string{oid.String() + "^{commit}"},
		})
		require.NoError(t, err)
		require.NoError(t, cmd.Wait(), oid)
	}

	require.False(t, gittest.ObjectExists(t, repoPath, foreign))

	quarantine.Close()
	require.False(t, gittest.ObjectExists(t, repoPath, foreign))
	require.True(t, gittest.ObjectExists(t, repoPath, existing))
}
