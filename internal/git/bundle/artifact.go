package bundle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gitlab.com/packrat/packrat/internal/safe"
)

// Artifact is an uploaded bundle persisted to disk for the duration of a
// single request.
type Artifact struct {
	path   string
	sha256 string
	size   int64

	removeOnce sync.Once
	removeErr  error
}

// Stage persists r into a uniquely named file below dir. The file only
// appears under its final name once the upload has been read completely.
func Stage(dir string, r io.Reader) (*Artifact, error) {
	path := filepath.Join(dir, fmt.Sprintf("tmp-uploaded-%s.bundle", uuid.New().String()))

	writer, err := safe.NewFileWriter(path, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating bundle file: %w", err)
	}
	defer func() {
		// no-op once committed
		_ = writer.Close()
	}()

	if _, err := io.Copy(writer, r); err != nil {
		return nil, fmt.Errorf("writing bundle file: %w", err)
	}

	if err := writer.Commit(); err != nil {
		return nil, fmt.Errorf("committing bundle file: %w", err)
	}

	return &Artifact{
		path:   path,
		sha256: writer.SHA256(),
		size:   writer.Size(),
	}, nil
}

// Path returns the location of the staged bundle.
func (a *Artifact) Path() string {
	return a.path
}

// SHA256 returns the hex encoded SHA-256 digest of the bundle.
func (a *Artifact) SHA256() string {
	return a.sha256
}

// Size returns the size of the bundle in bytes.
func (a *Artifact) Size() int64 {
	return a.size
}

// Remove deletes the staged bundle. Only the first call touches the
// filesystem; all calls return its result.
func (a *Artifact) Remove() error {
	a.removeOnce.Do(func() {
		if err := os.Remove(a.path); err != nil {
			a.removeErr = fmt.Errorf("removing bundle: %w", err)
		}
	})
	return a.removeErr
}
