package astra

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/ajwheeler/astra/status"
	"github.com/ajwheeler/astra/util"
	"github.com/pkg/errors"
)

var (
	registryMu   sync.RWMutex
	taskRegistry = make(map[string]*TaskType)
)

// Register register task type to astra
func Register(tt *TaskType) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := taskRegistry[tt.Name()]; ok {
		return fmt.Errorf("task type with name:%v has already been registered", tt.Name())
	}
	taskRegistry[tt.Name()] = tt
	return nil
}

// Unregister unregister task type from astra
func Unregister(tt *TaskType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(taskRegistry, tt.Name())
}

// Lookup find a registered task type by name
func Lookup(name string) (*TaskType, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	tt, ok := taskRegistry[name]
	return tt, ok
}

// Start creates an instance of the named task type from JSON params and executes it, marking its
// tasks running, then completed or failed at the failing stage. The result of execute is
// available from the instance context.
func Start(ctx context.Context, name string, params string, opts ...InstanceOption) (*Instance, error) {
	inst, future, err := doStart(ctx, name, params, opts)
	if err != nil {
		return inst, err
	}
	_, err = future.Get()
	return inst, err
}

// StartAsync is Start running on the task pool; the Future yields the result of execute
func StartAsync(ctx context.Context, name string, params string, opts ...InstanceOption) (*Instance, Future, error) {
	return doStart(ctx, name, params, opts)
}

func doStart(ctx context.Context, name string, params string, opts []InstanceOption) (*Instance, Future, error) {
	tt, ok := Lookup(name)
	if !ok {
		logger.Error(ctx, "can not find task type with name:%v", name)
		return nil, nil, errors.Errorf("can not find task type with name:%v", name)
	}
	values, err := parseTaskParams(params)
	if err != nil {
		logger.Error(ctx, "parse task params error, name:%v, params:%v, err:%v", name, params, err)
		return nil, nil, err
	}
	inst, err := tt.New(values, opts...)
	if err != nil {
		logger.Error(ctx, "bind task params error, name:%v, params:%v, err:%v", name, params, err)
		return nil, nil, err
	}
	future := taskRunPool.Submit(ctx, func() (interface{}, error) {
		return run(ctx, inst)
	})
	logger.Info(ctx, "task started, task:%v, bundle size:%v", inst, inst.BundleSize())
	return inst, future, nil
}

func run(ctx context.Context, inst *Instance) (interface{}, error) {
	if _, err := inst.Bootstrap(ctx); err != nil {
		return nil, err
	}
	markStatus(ctx, inst, status.RUNNING)
	result, err := inst.Execute(ctx)
	if err != nil {
		if stage := inst.FailedStage(); stage != "" {
			markStatus(ctx, inst, status.FailedAt(string(stage)))
		}
		return result, err
	}
	markStatus(ctx, inst, status.COMPLETED)
	return result, nil
}

func markStatus(ctx context.Context, inst *Instance, st status.TaskStatus) {
	if _, err := inst.UpdateStatus(ctx, st); err != nil {
		logger.Error(ctx, "update status failed, task:%v, status:%v, err:%v", inst, st, err)
	}
}

func parseTaskParams(params string) (map[string]interface{}, error) {
	ret := make(map[string]interface{})
	if len(params) == 0 {
		return ret, nil
	}
	err := util.ParseJson(params, &ret)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Restore rebuilds an instance over existing task rows of one task type, in the given order.
// The context is already bootstrapped, so running a stage creates no rows. Parameters equal across
// the tasks are plain values, the others become indexed with one value per task.
func Restore(ctx context.Context, store Store, taskIDs ...int64) (*Instance, error) {
	tasks := make([]*TaskRow, 0, len(taskIDs))
	for _, id := range taskIDs {
		task, err := store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return restore(ctx, store, tasks, nil)
}

// RestoreOption controls RestoreBundle
type RestoreOption func(opts *restoreOptions)

type restoreOptions struct {
	onlyIncomplete bool
}

// OnlyIncomplete leaves out the tasks of the bundle that are already completed
func OnlyIncomplete() RestoreOption {
	return func(opts *restoreOptions) {
		opts.onlyIncomplete = true
	}
}

// RestoreBundle rebuilds an instance over the tasks of a bundle
func RestoreBundle(ctx context.Context, store Store, bundleID int64, opts ...RestoreOption) (*Instance, error) {
	o := &restoreOptions{}
	for _, opt := range opts {
		opt(o)
	}
	bundle, err := store.GetBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	tasks, err := store.BundleTasks(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if o.onlyIncomplete {
		completedID, err := store.StatusID(ctx, string(status.COMPLETED))
		if err != nil {
			return nil, err
		}
		incomplete := tasks[:0]
		for _, task := range tasks {
			if task.StatusID != completedID {
				incomplete = append(incomplete, task)
			}
		}
		logger.Debug(ctx, "restoring incomplete tasks of bundle %d, %d of %d", bundleID, len(incomplete), len(tasks))
		tasks = incomplete
	}
	return restore(ctx, store, tasks, bundle)
}

func restore(ctx context.Context, store Store, tasks []*TaskRow, bundle *BundleRow) (*Instance, error) {
	if len(tasks) == 0 {
		return nil, NewError(ErrCodeGeneral, "no tasks to restore")
	}
	name := tasks[0].Name
	for _, task := range tasks[1:] {
		if task.Name != name {
			return nil, NewError(ErrCodeGeneral, "cannot restore tasks of different types together: %v and %v", name, task.Name)
		}
	}
	tt, ok := Lookup(name)
	if !ok {
		return nil, errors.Errorf("can not find task type with name:%v", name)
	}
	plan, err := restorePlan(tt, tasks)
	if err != nil {
		return nil, err
	}

	c := NewContext()
	c.Tasks = tasks
	c.Bundle = bundle
	c.Iterable = make([]*Unit, len(tasks))
	for i, task := range tasks {
		products, err := store.TaskInputs(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		inputs := make([]*Input, len(products))
		for j, dp := range products {
			inputs[j] = &Input{Product: dp}
		}
		c.Inputs = append(c.Inputs, inputs...)
		c.Iterable[i] = &Unit{Index: i, Task: task, Inputs: inputs, Parameters: plan.UnitParameters(i)}
	}
	inst := &Instance{
		id:       newInstanceID(),
		taskType: tt,
		values:   map[string]interface{}{},
		plan:     plan,
		store:    store,
		context:  c,
		state:    ContextReady,
	}
	logger.Info(ctx, "task restored, task:%v, tasks:%v", inst, inst.taskIDs())
	return inst, nil
}

func restorePlan(tt *TaskType, tasks []*TaskRow) (*Plan, error) {
	n := len(tasks)
	plan := &Plan{BundleSize: n}
	var missing []string
	for _, p := range tt.schema.Parameters() {
		values := make([]interface{}, n)
		same := true
		for i, task := range tasks {
			v, ok := task.Parameters[p.Name]
			if !ok {
				if !p.HasDefault {
					missing = append(missing, p.Name)
					break
				}
				v = p.Default
			}
			values[i] = v
			if i > 0 && !reflect.DeepEqual(v, values[0]) {
				same = false
			}
		}
		rp := &ResolvedParameter{Parameter: p}
		if same || n == 1 {
			rp.Value, rp.Length = values[0], valueLength(values[0])
		} else {
			rp.Value, rp.Length, rp.Indexed = values, n, true
		}
		plan.Parameters = append(plan.Parameters, rp)
	}
	if len(missing) > 0 {
		return nil, &ParameterBindingError{Kind: BindingMissing, TaskName: tt.name, Names: uniqueSorted(missing)}
	}
	return plan, nil
}
