package gittest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/packrat/packrat/internal/git"
)

// emptyTreeOID is the object ID of the tree without any entries.
const emptyTreeOID = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// TreeEntry represents a file in the root tree of a commit.
type TreeEntry struct {
	// Mode is the file mode of the tree entry, "100644" when empty.
	Mode string
	// Path is the name of the file. Nested paths are not supported.
	Path string
	// Content is the content of the file.
	Content string
}

type writeCommitConfig struct {
	branch      string
	parents     []git.ObjectID
	message     string
	treeEntries []TreeEntry
}

// WriteCommitOption is an option which can be passed to WriteCommit.
type WriteCommitOption func(*writeCommitConfig)

// WithBranch is an option for WriteCommit which will cause it to update the given branch
// name to the new commit.
func WithBranch(branch string) WriteCommitOption {
	return func(cfg *writeCommitConfig) {
		cfg.branch = branch
	}
}

// WithMessage is an option for WriteCommit which will set the commit message.
func WithMessage(message string) WriteCommitOption {
	return func(cfg *writeCommitConfig) {
		cfg.message = message
	}
}

// WithParents is an option for WriteCommit which will set the parent OIDs of the resulting commit.
func WithParents(parents ...git.ObjectID) WriteCommitOption {
	return func(cfg *writeCommitConfig) {
		cfg.parents = parents
	}
}

// WithTreeEntries is an option for WriteCommit which will cause it to create a new tree and use it
// as root tree of the resulting commit.
func WithTreeEntries(entries ...TreeEntry) WriteCommitOption {
	return func(cfg *writeCommitConfig) {
		cfg.treeEntries = entries
	}
}

// WriteCommit writes a new commit into the target repository. Without
// parents it creates a root commit, without tree entries it reuses the tree of
// its first parent.
func WriteCommit(t testing.TB, repoPath string, opts ...WriteCommitOption) git.ObjectID {
	t.Helper()

	var cfg writeCommitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	message := "message"
	if cfg.message != "" {
		message = cfg.message
	}

	var tree string
	switch {
	case len(cfg.treeEntries) > 0:
		tree = WriteTree(t, repoPath, cfg.treeEntries).String()
	case len(cfg.parents) == 0:
		tree = emptyTreeOID
	default:
		tree = cfg.parents[0].String() + "^{tree}"
	}

	// Use 'commit-tree' instead of 'commit' because we are in a bare
	// repository.
	commitArgs := []string{"-C", repoPath, "commit-tree", "-F", "-", tree}
	for _, parent := range cfg.parents {
		commitArgs = append(commitArgs, "-p", parent.String())
	}

	stdout := ExecStream(t, bytes.NewBufferString(message), commitArgs...)
	oid, err := git.NewObjectIDFromHex(strings.TrimSpace(string(stdout)))
	require.NoError(t, err)

	if cfg.branch != "" {
		Exec(t, "-C", repoPath, "update-ref", "refs/heads/"+cfg.branch, oid.String())
	}

	return oid
}

// WriteBlob writes the content as a blob object and returns its ID.
func WriteBlob(t testing.TB, repoPath string, content string) git.ObjectID {
	t.Helper()

	output := ExecStream(t, strings.NewReader(content), "-C", repoPath, "hash-object", "-w", "--stdin")
	oid, err := git.NewObjectIDFromHex(strings.TrimSpace(string(output)))
	require.NoError(t, err)

	return oid
}

// WriteTree writes a tree object holding the given files.
func WriteTree(t testing.TB, repoPath string, entries []TreeEntry) git.ObjectID {
	t.Helper()

	require.NotEmpty(t, entries)

	var tree bytes.Buffer
	for _, entry := range entries {
		require.NotContains(t, entry.Path, "/", "nested tree entries are not supported")

		mode := entry.Mode
		if mode == "" {
			mode = "100644"
		}

		oid := WriteBlob(t, repoPath, entry.Content)
		fmt.Fprintf(&tree, "%s blob %s\t%s\n", mode, oid, entry.Path)
	}

	output := ExecStream(t, &tree, "-C", repoPath, "mktree")
	oid, err := git.NewObjectIDFromHex(strings.TrimSpace(string(output)))
	require.NoError(t, err)

	return oid
}
