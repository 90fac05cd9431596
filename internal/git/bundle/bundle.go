package bundle

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"gitlab.com/packrat/packrat/internal/git"
)

// Error is returned when git refuses a bundle, e.g. because it is corrupt or
// because the repository lacks its prerequisite commits.
type Error struct {
	Op     string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("bundle %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("bundle %s: %v: %s", e.Op, e.Err, e.Stderr)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ListHeads returns the references recorded in the bundle at path.
func ListHeads(ctx context.Context, gitCmdFactory git.CommandFactory, repo git.Repository, path string) ([]git.Reference, error) {
	var stdout, stderr bytes.Buffer
	cmd, err := gitCmdFactory.New(ctx, repo, git.SubSubCmd{
		Name:   "bundle",
		Action: "list-heads",
		Args:   []string{path},
	}, git.WithStdout(&stdout), git.WithStderr(&stderr))
	if err != nil {
		return nil, fmt.Errorf("spawning list-heads: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return nil, &Error{Op: "list-heads", Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}

	var refs []git.Reference
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		// Format: <object> SP <refname>
		line := strings.SplitN(scanner.Text(), " ", 2)
		if len(line) != 2 {
			return nil, fmt.Errorf("invalid list-heads line: %q", scanner.Text())
		}

		oid, err := git.NewObjectIDFromHex(line[0])
		if err != nil {
			return nil, fmt.Errorf("parsing list-heads: %w", err)
		}

		refs = append(refs, git.Reference{Name: git.ReferenceName(line[1]), Target: oid})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading list-heads: %w", err)
	}

	return refs, nil
}

// Unbundle writes the objects of the bundle at path into repo's object
// directory. No reference gets updated.
func Unbundle(ctx context.Context, gitCmdFactory git.CommandFactory, repo git.Repository, path string) error {
	var stderr bytes.Buffer
	cmd, err := gitCmdFactory.New(ctx, repo, git.SubSubCmd{
		Name:   "bundle",
		Action: "unbundle",
		Args:   []string{path},
	}, git.WithStdout(&bytes.Buffer{}), git.WithStderr(&stderr))
	if err != nil {
		return fmt.Errorf("spawning unbundle: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return &Error{Op: "unbundle", Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}

	return nil
}
