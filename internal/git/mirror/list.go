package mirror

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gitlab.com/packrat/packrat/internal/command"
	"gitlab.com/packrat/packrat/internal/git"
)

var mirrorNameRegex = regexp.MustCompile(`\A[0-9a-f]{40}\z`)

// Info describes a mirror on disk.
type Info struct {
	Path      string
	RemoteURL string
	// LastFetched is the time of the last successful fetch, zero if unknown.
	LastFetched time.Time
	// Head is the commit HEAD points to, empty for an empty mirror.
	Head git.ObjectID
}

// List returns all mirrors below the manager's root ordered by path.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("reading mirror root: %w", err)
	}

	var mirrors []Info
	for _, entry := range entries {
		if !entry.IsDir() || !mirrorNameRegex.MatchString(entry.Name()) {
			continue
		}

		info, err := m.describe(ctx, filepath.Join(m.root, entry.Name()))
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, info)
	}

	sort.Slice(mirrors, func(i, j int) bool {
		return mirrors[i].Path < mirrors[j].Path
	})

	return mirrors, nil
}

func (m *Manager) describe(ctx context.Context, path string) (Info, error) {
	unlock, err := m.RLock(ctx, path)
	if err != nil {
		return Info{}, err
	}
	defer unlock()

	info := Info{Path: path}
	repo := git.Repository{Path: path, ReadOnly: true}

	remoteURL, err := m.output(ctx, repo, git.SubCmd{
		Name:  "config",
		Flags: []git.Option{git.ValueFlag{Name: "--get", Value: "remote.origin.url"}},
	})
	if err != nil {
		return Info{}, fmt.Errorf("reading remote of %q: %w", path, err)
	}
	info.RemoteURL = remoteURL

	head, err := m.output(ctx, repo, git.SubCmd{
		Name:  "rev-parse",
		Flags: []git.Option{git.Flag{Name: "--verify"}, git.Flag{Name: "--quiet"}},
		Args:  []string{"HEAD^{commit}"},
	})
	if err == nil {
		info.Head = git.ObjectID(head)
	} else if _, ok := command.ExitStatus(err); !ok {
		return Info{}, fmt.Errorf("resolving HEAD of %q: %w", path, err)
	}

	if stat, err := os.Stat(filepath.Join(path, "FETCH_HEAD")); err == nil {
		info.LastFetched = stat.ModTime()
	}

	return info, nil
}

func (m *Manager) output(ctx context.Context, repo git.Repository, sc git.Cmd) (string, error) {
	var stdout bytes.Buffer
	cmd, err := m.gitCmdFactory.New(ctx, repo, sc, git.WithStdout(&stdout))
	if err != nil {
		return "", err
	}

	if err := cmd.Wait(); err != nil {
		if _, ok := command.ExitStatus(err); ok {
			return "", err
		}
		return "", fmt.Errorf("%s: %w", sc.Subcommand(), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}
