package astra

import (
	"context"
	"errors"
	"testing"

	"github.com/bmizerany/assert"
)

var fitModel = &OutputModel{
	Table: "fit_output",
	Columns: []Column{
		{Name: "teff", Type: "REAL"},
		{Name: "logg", Type: "REAL"},
	},
}

func results(n int, teff float64) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = map[string]interface{}{"teff": teff + float64(i), "logg": 4.5}
	}
	return rows
}

func outputIDs(t *testing.T, store Store, taskID int64) []int64 {
	rows, err := store.ListOutputs(context.Background(), fitModel, taskID)
	assert.Equal(t, nil, err)
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.OutputID
	}
	return ids
}

func TestCreateOrUpdateOutputs_Grow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	first, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(2, 5000))
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(first.Created))
	assert.Equal(t, 0, len(first.Updated))

	second, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(5, 6000))
	assert.Equal(t, nil, err)
	assert.Equal(t, first.Created, second.Updated)
	assert.Equal(t, 3, len(second.Created))
	assert.Equal(t, 0, len(second.Deleted))

	rows, _ := store.ListOutputs(ctx, fitModel, 1)
	assert.Equal(t, 5, len(rows))
	assert.Equal(t, first.Created[0], rows[0].OutputID)
	assert.Equal(t, 6000.0, rows[0].Fields["teff"])
	assert.Equal(t, 6004.0, rows[4].Fields["teff"])
}

func TestCreateOrUpdateOutputs_Shrink(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	first, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(5, 5000))
	assert.Equal(t, nil, err)

	second, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(2, 7000))
	assert.Equal(t, nil, err)
	assert.Equal(t, first.Created[:2], second.Updated)
	assert.Equal(t, first.Created[2:], second.Deleted)
	assert.Equal(t, first.Created[:2], outputIDs(t, store, 1))

	n, _ := store.CountBundleTasksWithOutputs(ctx, 0)
	assert.Equal(t, int64(0), n)
}

func TestCreateOrUpdateOutputs_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(3, 5000))
	assert.Equal(t, nil, err)
	before, _ := store.ListOutputs(ctx, fitModel, 1)

	summary, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(3, 5000))
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(summary.Created))
	assert.Equal(t, 0, len(summary.Deleted))
	after, _ := store.ListOutputs(ctx, fitModel, 1)
	assert.Equal(t, before, after)
}

func TestCreateOrUpdateOutputs_NilDoesNotOverwrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(1, 5000))
	assert.Equal(t, nil, err)

	update := []map[string]interface{}{{"teff": nil, "logg": 3.9, "chi2": 1.2}}
	_, err = CreateOrUpdateOutputs(ctx, store, 1, fitModel, update)
	assert.Equal(t, nil, err)
	rows, _ := store.ListOutputs(ctx, fitModel, 1)
	assert.Equal(t, 5000.0, rows[0].Fields["teff"])
	assert.Equal(t, 3.9, rows[0].Fields["logg"])
	_, ok := rows[0].Fields["chi2"]
	assert.Equal(t, false, ok)
}

func TestCreateOrUpdateOutputs_TasksIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(2, 5000))
	assert.Equal(t, nil, err)
	_, err = CreateOrUpdateOutputs(ctx, store, 2, fitModel, results(1, 5000))
	assert.Equal(t, nil, err)
	_, err = CreateOrUpdateOutputs(ctx, store, 2, fitModel, nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(outputIDs(t, store, 1)))
	assert.Equal(t, 0, len(outputIDs(t, store, 2)))
}

func TestCreateOrUpdateOutputs_KeepUnused(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(3, 5000))
	assert.Equal(t, nil, err)
	summary, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(1, 5000), KeepUnusedOutputs())
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(summary.Deleted))
	assert.Equal(t, 3, len(outputIDs(t, store, 1)))
}

func TestCreateOrUpdateOutputs_PhasesCommitIndependently(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	first, err := CreateOrUpdateOutputs(ctx, mem, 1, fitModel, results(3, 5000))
	assert.Equal(t, nil, err)

	store := &faultyStore{Store: mem, failOn: "DeleteOutputs", err: errors.New("locked")}
	summary, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(1, 9000))
	assert.NotEqual(t, nil, err)
	assert.Equal(t, ErrCodeReconcile, ErrorCode(err))
	assert.Equal(t, first.Created[:1], summary.Updated)
	assert.Equal(t, 0, len(summary.Deleted))

	rows, _ := mem.ListOutputs(ctx, fitModel, 1)
	assert.Equal(t, 3, len(rows))
	assert.Equal(t, 9000.0, rows[0].Fields["teff"])
}

func TestCreateOrUpdateOutputs_CreatePhaseAtomic(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	store := &faultyStore{Store: mem, failOn: "InsertOutputs", err: errors.New("constraint")}
	summary, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(2, 5000))
	assert.Equal(t, ErrCodeReconcile, ErrorCode(err))
	assert.Equal(t, 0, len(summary.Created))
	assert.Equal(t, 0, len(outputIDs(t, mem, 1)))

	// identities and links were rolled back with the rows
	n, _ := mem.DeleteOutputs(ctx, fitModel, []int64{1, 2})
	assert.Equal(t, int64(0), n)
}

func TestInstance_CreateOrUpdateOutputs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	tt := NewTaskType("Fitter").
		Parameter("x").
		PostExecute(func(ctx context.Context, task *Instance) (interface{}, error) {
			it, err := task.Iterable(ctx)
			if err != nil {
				return nil, err
			}
			for it.Next() {
				unit := it.Unit()
				x := unit.Parameters["x"].(int)
				if _, err := task.CreateOrUpdateOutputs(ctx, unit.Task, fitModel, results(x, 5000)); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}).
		Build()
	inst, _ := tt.New(map[string]interface{}{"x": []int{1, 2, 0}}, WithStore(store))
	_, err := inst.Execute(ctx)
	assert.Equal(t, nil, err)
	c := inst.Context()
	assert.Equal(t, 1, len(outputIDs(t, store, c.Tasks[0].ID)))
	assert.Equal(t, 2, len(outputIDs(t, store, c.Tasks[1].ID)))
	n, err := CountBundleTasksWithOutputs(ctx, store, c.Bundle.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(2), n)
}
