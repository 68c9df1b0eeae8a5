package astra

import (
	"context"
)

// Store persistence of tasks, bundles, data products and pipeline outputs. Lookups of a single
// row return an error wrapping ErrNotFound when the row does not exist, and inserts rejected by a
// unique constraint return an error wrapping ErrDuplicate.
type Store interface {
	// Atomic runs fn against a store bound to one transaction, committing if fn returns nil and
	// rolling back otherwise. Nested calls join the outer transaction.
	Atomic(ctx context.Context, fn func(tx Store) error) error

	CreateTask(ctx context.Context, task *TaskRow) error
	GetTask(ctx context.Context, id int64) (*TaskRow, error)
	UpdateTaskTiming(ctx context.Context, taskID int64, timing *TaskTiming) error
	CreateBundle(ctx context.Context, bundle *BundleRow) error
	GetBundle(ctx context.Context, id int64) (*BundleRow, error)
	LinkTaskBundle(ctx context.Context, taskID, bundleID int64) error
	// BundleTasks tasks of a bundle ordered by id
	BundleTasks(ctx context.Context, bundleID int64) ([]*TaskRow, error)
	LinkTaskInputs(ctx context.Context, taskID int64, productIDs []int64) error
	// TaskInputs data products linked to a task, in link order
	TaskInputs(ctx context.Context, taskID int64) ([]*DataProduct, error)

	StatusID(ctx context.Context, description string) (int64, error)
	// UpdateTaskStatus returns the number of task rows changed
	UpdateTaskStatus(ctx context.Context, statusID int64, taskIDs []int64) (int64, error)
	// UpdateBundleStatus returns the number of bundle rows changed
	UpdateBundleStatus(ctx context.Context, statusID int64, bundleIDs []int64) (int64, error)

	GetDataProduct(ctx context.Context, id int64) (*DataProduct, error)
	FindDataProduct(ctx context.Context, release, filetype, kwargsHash string) (*DataProduct, error)
	CreateDataProduct(ctx context.Context, dp *DataProduct) error

	// ListOutputs rows of model linked to taskID, ascending by output id
	ListOutputs(ctx context.Context, model *OutputModel, taskID int64) ([]*OutputRow, error)
	// UpdateOutputs sets the Fields of every row in place, in one bulk statement
	UpdateOutputs(ctx context.Context, model *OutputModel, rows []*OutputRow) error
	// CreateOutputIdentities allocates n output identities
	CreateOutputIdentities(ctx context.Context, n int) ([]int64, error)
	LinkTaskOutputs(ctx context.Context, taskID int64, outputIDs []int64) error
	InsertOutputs(ctx context.Context, model *OutputModel, rows []*OutputRow) error
	// DeleteOutputs removes the model rows, their task links and the identities themselves,
	// returning the number of identities deleted
	DeleteOutputs(ctx context.Context, model *OutputModel, outputIDs []int64) (int64, error)
	// CountBundleTasksWithOutputs number of distinct tasks of a bundle having at least one output
	CountBundleTasksWithOutputs(ctx context.Context, bundleID int64) (int64, error)
	// CountTaskOutputs number of outputs linked to a task
	CountTaskOutputs(ctx context.Context, taskID int64) (int64, error)
	// CountBundleInputs number of task input links over the tasks of a bundle
	CountBundleInputs(ctx context.Context, bundleID int64) (int64, error)
}
