package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/git/gittest"
	"gitlab.com/packrat/packrat/internal/testhelper"
)

func TestUpdateAll(t *testing.T) {
	ctx := testhelper.Context(t)
	manager, remotePath := setupManager(t)
	base := gittest.WriteCommit(t, remotePath, gittest.WithBranch("main"))

	_, otherRemotePath := gittest.InitRepo(t)
	gittest.WriteCommit(t, otherRemotePath, gittest.WithBranch("main"))

	require.NoError(t, manager.EnsureUpdatedClone(ctx, manager.Path(remotePath), remotePath))
	require.NoError(t, manager.EnsureUpdatedClone(ctx, manager.Path(otherRemotePath), otherRemotePath))

	newHead := gittest.WriteCommit(t, remotePath, gittest.WithParents(base), gittest.WithBranch("main"))

	// The second remote disappears: its mirror fails to update while the
	// first one still gets the new commit.
	require.NoError(t, os.RemoveAll(otherRemotePath))

	results, err := manager.UpdateAll(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byURL := map[string]UpdateResult{}
	for _, result := range results {
		byURL[result.RemoteURL] = result
	}

	require.NoError(t, byURL[remotePath].Err)
	require.Equal(t, map[string]git.ObjectID{"refs/heads/main": newHead}, gittest.ListRefs(t, manager.Path(remotePath)))

	require.Error(t, byURL[otherRemotePath].Err)
	require.Equal(t, manager.Path(otherRemotePath), byURL[otherRemotePath].Path)
}

func TestUpdateAll_empty(t *testing.T) {
	manager := NewManager(testhelper.TempDir(t), gittest.NewCommandFactory(t))

	results, err := manager.UpdateAll(testhelper.Context(t), 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestUpdateAll_cancelled(t *testing.T) {
	manager, remotePath := setupManager(t)
	gittest.WriteCommit(t, remotePath, gittest.WithBranch("main"))
	require.NoError(t, manager.EnsureUpdatedClone(testhelper.Context(t), manager.Path(remotePath), remotePath))

	ctx, cancel := context.WithCancel(testhelper.Context(t))
	cancel()

	_, err := manager.UpdateAll(ctx, 1)
	require.Error(t, err)
}

func TestUpdateAll_missingRoot(t *testing.T) {
	manager := NewManager(filepath.Join(testhelper.TempDir(t), "missing"), gittest.NewCommandFactory(t))

	_, err := manager.UpdateAll(testhelper.Context(t), 1)
	require.Error(t, err)
}
