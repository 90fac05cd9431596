package safe

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"
)

// ErrAlreadyDone is returned when the safe file has already been closed
// or committed
var ErrAlreadyDone = errors.New("safe file was already committed or closed")

// FileWriter writes a file atomically: data goes to a temporary file next to
// the target which only replaces the target on Commit. It records the
// SHA-256 digest and size of everything written.
type FileWriter struct {
	tmpFile       *os.File
	path          string
	digest        hash.Hash
	size          int64
	commitOrClose sync.Once
}

// NewFileWriter takes path as an absolute path of the target file and
// creates the temporary file backing the writer. The target gets mode perm
// on commit.
func NewFileWriter(path string, perm os.FileMode) (*FileWriter, error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return nil, err
	}

	writer := &FileWriter{
		tmpFile: tmpFile,
		path:    path,
		digest:  sha256.New(),
	}

	if err := tmpFile.Chmod(perm); err != nil {
		_ = writer.Close()
		return nil, err
	}

	return writer, nil
}

// Write wraps the temporary file's Write.
func (fw *FileWriter) Write(p []byte) (int, error) {
	n, err := fw.tmpFile.Write(p)
	fw.digest.Write(p[:n])
	fw.size += int64(n)
	return n, err
}

// SHA256 returns the hex encoded digest of the data written so far.
func (fw *FileWriter) SHA256() string {
	return hex.EncodeToString(fw.digest.Sum(nil))
}

// Size returns the number of bytes written so far.
func (fw *FileWriter) Size() int64 {
	return fw.size
}

// Commit closes the temporary file and renames it to the target file. Only
// the first call to Commit or Close has an effect, later calls return
// ErrAlreadyDone.
func (fw *FileWriter) Commit() error {
	err := ErrAlreadyDone

	fw.commitOrClose.Do(func() {
		if err = fw.tmpFile.Sync(); err != nil {
			err = fmt.Errorf("syncing temp file: %w", err)
			_ = fw.discard()
			return
		}

		if err = fw.tmpFile.Close(); err != nil {
			err = fmt.Errorf("closing temp file: %w", err)
			_ = os.Remove(fw.tmpFile.Name())
			return
		}

		if err = os.Rename(fw.tmpFile.Name(), fw.path); err != nil {
			err = fmt.Errorf("renaming temp file: %w", err)
			_ = os.Remove(fw.tmpFile.Name())
			return
		}

		if err = syncDir(filepath.Dir(fw.path)); err != nil {
			err = fmt.Errorf("syncing dir: %w", err)
			return
		}
	})

	return err
}

// Close removes the temporary file. If the file was already committed,
// ErrAlreadyDone is returned and the target is left alone.
func (fw *FileWriter) Close() error {
	err := ErrAlreadyDone

	fw.commitOrClose.Do(func() {
		err = fw.discard()
	})

	return err
}

func (fw *FileWriter) discard() error {
	if err := fw.tmpFile.Close(); err != nil {
		_ = os.Remove(fw.tmpFile.Name())
		return err
	}
	if err := os.Remove(fw.tmpFile.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()

	return f.Sync()
}
