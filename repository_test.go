package astra

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/ajwheeler/astra/status"
	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "astra.db"))
	assert.Equal(t, nil, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	store := NewSQLStore(db, SQLite, nil)
	assert.Equal(t, nil, store.CreateTables(context.Background()))
	return store
}

func TestSQLStore_CreateTables(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()
	assert.Equal(t, nil, store.CreateTables(ctx))

	id, err := store.StatusID(ctx, string(status.CREATED))
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(1), id)
	id, err = store.StatusID(ctx, string(status.FAILED_POST_EXECUTION))
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(8), id)

	var n int64
	assert.Equal(t, nil, store.DB().QueryRow("select count(*) from status").Scan(&n))
	assert.Equal(t, int64(8), n)

	_, err = store.StatusID(ctx, "unknown")
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestSQLStore_Execute(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()
	tt := NewTaskType("SQLSummer").Parameter("x").Parameter("mode", Bundled()).Execute(iterateAll).Build()
	inst, err := tt.New(map[string]interface{}{"x": []int{1, 2, 3}, "mode": "fast"}, WithStore(store))
	assert.Equal(t, nil, err)
	result, err := inst.Execute(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 6, result)

	c := inst.Context()
	tasks, err := store.BundleTasks(ctx, c.Bundle.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(tasks))
	for i, task := range tasks {
		assert.Equal(t, c.Tasks[i].ID, task.ID)
		assert.Equal(t, "SQLSummer", task.Name)
		assert.Equal(t, float64(i+1), task.Parameters["x"])
		assert.Equal(t, "fast", task.Parameters["mode"])
		assert.Equal(t, int64(1), task.StatusID)
	}

	var total, execute sql.NullFloat64
	err = store.DB().QueryRow("select time_total, time_execute from task where id=?", c.Tasks[0].ID).Scan(&total, &execute)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, total.Valid)
	assert.Equal(t, true, execute.Valid)
	assert.Equal(t, true, total.Float64 >= execute.Float64)

	n, err := inst.UpdateStatus(ctx, status.COMPLETED)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(4), n)
	bundle, err := store.GetBundle(ctx, c.Bundle.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(5), bundle.StatusID)
}

func TestSQLStore_AtomicRollback(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	var created int64
	err := store.Atomic(ctx, func(tx Store) error {
		task := &TaskRow{Name: "Rolled", Parameters: map[string]interface{}{}}
		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}
		created = task.ID
		return tx.Atomic(ctx, func(inner Store) error {
			return boom
		})
	})
	assert.Equal(t, boom, err)
	_, err = store.GetTask(ctx, created)
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestSQLStore_DataProducts(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()
	dp, err := GetOrCreateDataProduct(ctx, store, &DataProduct{Release: "dr17", Filetype: "apStar", Kwargs: map[string]interface{}{"obj": "2M0001", "healpix": 7}})
	assert.Equal(t, nil, err)
	same, err := GetOrCreateDataProduct(ctx, store, &DataProduct{Release: "dr17", Filetype: "apStar", Kwargs: map[string]interface{}{"OBJ": "2M0001", "healpix": "7"}})
	assert.Equal(t, nil, err)
	assert.Equal(t, dp.ID, same.ID)

	err = store.CreateDataProduct(ctx, &DataProduct{Release: "dr17", Filetype: "apStar", KwargsHash: dp.KwargsHash})
	assert.Equal(t, true, errors.Is(err, ErrDuplicate))

	loaded, err := store.GetDataProduct(ctx, dp.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 7.0, loaded.Kwargs["healpix"])
	assert.Equal(t, dp.KwargsHash, loaded.KwargsHash)

	tt := NewTaskType("SQLInputs").Build()
	inst, _ := tt.New(nil, WithStore(store), WithInputs([]interface{}{dp.ID}))
	c, err := inst.Bootstrap(ctx)
	assert.Equal(t, nil, err)
	inputs, err := store.TaskInputs(ctx, c.Tasks[0].ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(inputs))
	assert.Equal(t, dp.ID, inputs[0].ID)
}

func TestSQLStore_Reconcile(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()
	assert.Equal(t, nil, store.CreateOutputTable(ctx, fitModel))

	first, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(2, 5000))
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(first.Created))

	grown, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, results(5, 6000))
	assert.Equal(t, nil, err)
	assert.Equal(t, first.Created, grown.Updated)
	rows, err := store.ListOutputs(ctx, fitModel, 1)
	assert.Equal(t, nil, err)
	assert.Equal(t, 5, len(rows))
	assert.Equal(t, 6000.0, rows[0].Fields["teff"])
	assert.Equal(t, 6004.0, rows[4].Fields["teff"])

	update := []map[string]interface{}{{"teff": nil, "logg": 3.9}, {"teff": 1.0}}
	shrunk, err := CreateOrUpdateOutputs(ctx, store, 1, fitModel, update)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(shrunk.Deleted))
	rows, _ = store.ListOutputs(ctx, fitModel, 1)
	assert.Equal(t, 2, len(rows))
	assert.Equal(t, 6000.0, rows[0].Fields["teff"])
	assert.Equal(t, 3.9, rows[0].Fields["logg"])
	assert.Equal(t, 1.0, rows[1].Fields["teff"])
	assert.Equal(t, 4.5, rows[1].Fields["logg"])

	var links, identities int64
	assert.Equal(t, nil, store.DB().QueryRow("select count(*) from task_output where task_id=1").Scan(&links))
	assert.Equal(t, nil, store.DB().QueryRow("select count(*) from output").Scan(&identities))
	assert.Equal(t, int64(2), links)
	assert.Equal(t, int64(2), identities)
}

func TestSQLStore_SplitBundle(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()
	tt := NewTaskType("SQLSplit").Parameter("x").Build()
	inst, _ := tt.New(map[string]interface{}{"x": []string{"a", "b", "c"}}, WithStore(store))
	c, err := inst.Bootstrap(ctx)
	assert.Equal(t, nil, err)

	bundles, err := SplitBundle(ctx, store, c.Bundle.ID, 2)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(bundles))
	n, _ := CountBundleTasks(ctx, store, bundles[0].ID)
	assert.Equal(t, 2, n)

	assert.Equal(t, nil, store.CreateOutputTable(ctx, fitModel))
	_, err = CreateOrUpdateOutputs(ctx, store, c.Tasks[2].ID, fitModel, results(2, 5000))
	assert.Equal(t, nil, err)
	withOutputs, err := CountBundleTasksWithOutputs(ctx, store, c.Bundle.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(1), withOutputs)
	withOutputs, _ = CountBundleTasksWithOutputs(ctx, store, bundles[0].ID)
	assert.Equal(t, int64(0), withOutputs)
	outputs, err := CountTaskOutputs(ctx, store, c.Tasks[2].ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(2), outputs)
	inputs, err := CountBundleInputs(ctx, store, c.Bundle.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(0), inputs)
}
