package mirror

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// UpdateResult is the outcome of updating one mirror.
type UpdateResult struct {
	Path      string
	RemoteURL string
	Err       error
}

// UpdateAll fetches into every mirror below the root, running at most
// concurrency fetches at a time. A failed mirror does not stop the others;
// its error is reported in the result. Only a failure to list the mirrors
// or a cancelled context is returned as error.
func (m *Manager) UpdateAll(ctx context.Context, concurrency int) ([]UpdateResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	mirrors, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]UpdateResult, len(mirrors))
	sem := semaphore.NewWeighted(int64(concurrency))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, info := range mirrors {
		i, info := i, info
		results[i] = UpdateResult{Path: info.Path, RemoteURL: info.RemoteURL}

		if err := sem.Acquire(groupCtx, 1); err != nil {
			break
		}

		group.Go(func() error {
			defer sem.Release(1)
			results[i].Err = m.EnsureUpdatedClone(groupCtx, info.Path, info.RemoteURL)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
