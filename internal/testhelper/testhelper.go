package testhelper

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gitlab.com/packrat/packrat/internal/log"
)

// Context returns a cancellable context carrying a discarding request logger.
// The context is cancelled when the test finishes, which terminates any git
// process still bound to it.
func Context(t testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return log.ToContext(ctx, NewDiscardingLogEntry(t))
}

// TempDir returns a temporary directory below the test directory configured
// by Run, or below t.TempDir() when Run was not used.
func TempDir(t testing.TB) string {
	if testDirectory == "" {
		return t.TempDir()
	}

	dir, err := os.MkdirTemp(testDirectory, "tmp-")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, os.RemoveAll(dir)) })

	return dir
}

// MustReadFile returns the content of a file or fails at once.
func MustReadFile(t testing.TB, filename string) []byte {
	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	return content
}

// MustClose calls Close() on the Closer and fails the test in case it returns
// an error.
func MustClose(t testing.TB, closer io.Closer) {
	require.NoError(t, closer.Close())
}

// GetLocalhostListener listens on the next available TCP port and returns
// the listener and the localhost address (host:port) string.
func GetLocalhostListener(t testing.TB) (net.Listener, string) {
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	addr := fmt.Sprintf("localhost:%d", l.Addr().(*net.TCPAddr).Port)

	return l, addr
}

// NewDiscardingLogger creates a logger that discards everything.
func NewDiscardingLogger(tb testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

// NewDiscardingLogEntry creates a logrus entry that discards everything.
func NewDiscardingLogEntry(tb testing.TB) *logrus.Entry {
	return logrus.NewEntry(NewDiscardingLogger(tb))
}
