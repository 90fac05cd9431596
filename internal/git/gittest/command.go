package gittest

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"testing"

	"gitlab.com/packrat/packrat/internal/command"
	"gitlab.com/packrat/packrat/internal/config"
	"gitlab.com/packrat/packrat/internal/git"
)

const (
	committerName  = "Scrooge McDuck"
	committerEmail = "scrooge@mcduck.com"
)

// GitBinPath returns the git executable used by tests. It can be overridden
// with PACKRAT_TESTING_GIT_BINARY.
func GitBinPath() string {
	if path, ok := os.LookupEnv("PACKRAT_TESTING_GIT_BINARY"); ok {
		return path
	}
	return "git"
}

// NewCommandFactory returns a command factory using the test git executable.
func NewCommandFactory(tb testing.TB) *git.ExecCommandFactory {
	tb.Helper()
	return git.NewExecCommandFactory(config.Git{BinPath: GitBinPath()})
}

// Exec runs a git command and returns the standard output, or fails.
func Exec(t testing.TB, args ...string) []byte {
	t.Helper()

	return run(t, nil, args...)
}

// ExecStream runs a git command with an input stream and returns the standard output, or fails.
func ExecStream(t testing.TB, stream io.Reader, args ...string) []byte {
	t.Helper()

	return run(t, stream, args...)
}

func run(t testing.TB, stdin io.Reader, args ...string) []byte {
	t.Helper()

	cmd := exec.Command(GitBinPath(), args...)
	cmd.Env = os.Environ()
	cmd.Env = append(command.GitEnv, cmd.Env...)
	cmd.Env = append(cmd.Env,
		"GIT_AUTHOR_NAME="+committerName,
		"GIT_AUTHOR_EMAIL="+committerEmail,
		"GIT_COMMITTER_NAME="+committerName,
		"GIT_COMMITTER_EMAIL="+committerEmail,
		"GIT_AUTHOR_DATE=1572776879 +0100",
		"GIT_COMMITTER_DATE=1572776879 +0100",
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=init.defaultBranch",
		"GIT_CONFIG_VALUE_0=main",
	)

	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		t.Log(GitBinPath(), args)
		t.Logf("%s: %s\n", stderr.String(), output)
		t.Fatal(err)
	}

	return output
}
