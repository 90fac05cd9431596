package version

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		info, err := Load(filepath.Join(dir, "missing.json"))
		require.NoError(t, err)
		require.Equal(t, Default(), info)
	})

	t.Run("empty path", func(t *testing.T) {
		info, err := Load("")
		require.NoError(t, err)
		require.Equal(t, SourceURL, info.Source)
	})

	t.Run("build file", func(t *testing.T) {
		path := filepath.Join(dir, "version.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"version":"1.2.3","commit":"abc","build":"ci-42"}`), 0o644))

		info, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, SourceURL, info.Source)
		require.Equal(t, "1.2.3", *info.Version)
		require.Equal(t, "abc", *info.Commit)
		require.Equal(t, "ci-42", info.Build)
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))

		_, err := Load(path)
		require.Error(t, err)
	})
}
