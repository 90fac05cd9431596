package git

import (
	"os"
	"path/filepath"
	"strings"
)

// Repository identifies a bare repository on disk and, optionally, an object
// database layered on top of it.
type Repository struct {
	// Path is the absolute path of the bare repository.
	Path string
	// ObjectDirectory, when set, receives all objects git writes instead of
	// Path/objects.
	ObjectDirectory string
	// AlternateObjectDirectories are additional object databases git reads
	// from.
	AlternateObjectDirectories []string
	// ReadOnly makes the command factory refuse commands which may update
	// references.
	ReadOnly bool
}

// Env returns the environment variables pointing git at the repository's
// object directories.
func (r Repository) Env() []string {
	var env []string
	if r.ObjectDirectory != "" {
		env = append(env, "GIT_OBJECT_DIRECTORY="+r.ObjectDirectory)
	}
	if len(r.AlternateObjectDirectories) > 0 {
		env = append(env, "GIT_ALTERNATE_OBJECT_DIRECTORIES="+strings.Join(r.AlternateObjectDirectories, string(os.PathListSeparator)))
	}
	return env
}

// DefaultObjectDirectory returns the object directory git uses for the
// repository when no override is set.
func (r Repository) DefaultObjectDirectory() string {
	return filepath.Join(r.Path, "objects")
}
