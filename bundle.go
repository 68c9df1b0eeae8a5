package astra

import (
	"context"
	"time"

	"github.com/ajwheeler/astra/status"
)

// SplitBundle distributes the tasks of a bundle over new bundles of 1+T/n tasks each, in task id
// order. The original bundle is left untouched. Slices that would be empty get no bundle, so fewer
// than n bundles are returned when T is small relative to n.
func SplitBundle(ctx context.Context, store Store, bundleID int64, n int) ([]*BundleRow, error) {
	if n < 2 {
		return nil, NewError(ErrCodeGeneral, "a bundle must be split into at least 2 bundles, got %d", n)
	}
	tasks, err := store.BundleTasks(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	size := 1 + len(tasks)/n
	logger.Debug(ctx, "splitting bundle %d of %d tasks into %d bundles of %d", bundleID, len(tasks), n, size)
	var bundles []*BundleRow
	err = store.Atomic(ctx, func(tx Store) error {
		for i := 0; i < n; i++ {
			start := i * size
			if start >= len(tasks) {
				break
			}
			end := start + size
			if end > len(tasks) {
				end = len(tasks)
			}
			bundle := &BundleRow{}
			if err := tx.CreateBundle(ctx, bundle); err != nil {
				return err
			}
			for _, task := range tasks[start:end] {
				if err := tx.LinkTaskBundle(ctx, task.ID, bundle.ID); err != nil {
					return err
				}
			}
			bundles = append(bundles, bundle)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundles, nil
}

// CountBundleTasks number of tasks in a bundle
func CountBundleTasks(ctx context.Context, store Store, bundleID int64) (int, error) {
	tasks, err := store.BundleTasks(ctx, bundleID)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// CountBundleTasksWithOutputs number of tasks in a bundle having at least one output
func CountBundleTasksWithOutputs(ctx context.Context, store Store, bundleID int64) (int64, error) {
	return store.CountBundleTasksWithOutputs(ctx, bundleID)
}

// CountTaskOutputs number of outputs linked to a task
func CountTaskOutputs(ctx context.Context, store Store, taskID int64) (int64, error) {
	return store.CountTaskOutputs(ctx, taskID)
}

// CountBundleInputs number of input data products linked to the tasks of a bundle, counted once
// per task that uses them
func CountBundleInputs(ctx context.Context, store Store, bundleID int64) (int64, error) {
	return store.CountBundleInputs(ctx, bundleID)
}

// WatchBundle polls the task statuses of a bundle every interval, logging progress whenever it
// changes, until every task is completed or ctx is done.
func WatchBundle(ctx context.Context, store Store, bundleID int64, interval time.Duration) error {
	if interval <= 0 {
		return NewError(ErrCodeGeneral, "watch interval must be positive, got %v", interval)
	}
	completedID, err := store.StatusID(ctx, string(status.COMPLETED))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := -1
	for {
		tasks, err := store.BundleTasks(ctx, bundleID)
		if err != nil {
			return err
		}
		completed := 0
		for _, task := range tasks {
			if task.StatusID == completedID {
				completed++
			}
		}
		if completed != last {
			logger.Info(ctx, "bundle progress, bundle:%d, completed:%d/%d", bundleID, completed, len(tasks))
			last = completed
		}
		if completed == len(tasks) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
