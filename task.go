package astra

import (
	"context"
	"fmt"

	"github.com/ajwheeler/astra/internal/logs"
	"github.com/ajwheeler/astra/status"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State lifecycle state of an instance. It only moves forward.
type State int

const (
	Unstarted State = iota
	ContextReady
	PreExecuted
	Executed
	PostExecuted
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case ContextReady:
		return "context_ready"
	case PreExecuted:
		return "pre_executed"
	case Executed:
		return "executed"
	case PostExecuted:
		return "post_executed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func stateAfter(stage Stage) State {
	switch stage {
	case PreExecute:
		return PreExecuted
	case Execute:
		return Executed
	case PostExecute:
		return PostExecuted
	}
	return Unstarted
}

// Instance a task type bound to concrete parameter values: one task, or a bundle of tasks when
// some parameters carry one value per task. An instance is not safe for concurrent use.
type Instance struct {
	id          string
	taskType    *TaskType
	values      map[string]interface{}
	plan        *Plan
	inputs      interface{}
	store       Store
	context     *Context
	state       State
	failedStage Stage
}

// InstanceOption configures a new instance
type InstanceOption func(inst *Instance)

// WithInputs sets the input references resolved into data products when the context is created
func WithInputs(inputs interface{}) InstanceOption {
	return func(inst *Instance) {
		inst.inputs = inputs
	}
}

// WithStore sets the store of the instance, overriding the one registered with SetStore
func WithStore(store Store) InstanceOption {
	return func(inst *Instance) {
		inst.store = store
	}
}

// WithContext supplies an existing context: when it is bootstrapped no task rows are created
func WithContext(c *Context) InstanceOption {
	return func(inst *Instance) {
		inst.context = c
	}
}

// New binds values to the parameters of the task type. Binding errors are *ParameterBindingError.
func (tt *TaskType) New(values map[string]interface{}, opts ...InstanceOption) (*Instance, error) {
	if values == nil {
		values = map[string]interface{}{}
	}
	plan, err := tt.schema.Resolve(values)
	if err != nil {
		return nil, err
	}
	inst := &Instance{
		id:       newInstanceID(),
		taskType: tt,
		values:   values,
		plan:     plan,
		store:    defaultStore,
	}
	for _, opt := range opts {
		opt(inst)
	}
	if inst.context == nil {
		inst.context = NewContext()
	} else if inst.context.Bootstrapped() {
		inst.state = ContextReady
	}
	return inst, nil
}

func newInstanceID() string {
	return uuid.New().String()
}

// ID process-unique id of the instance, used in logs
func (inst *Instance) ID() string {
	return inst.id
}

func (inst *Instance) String() string {
	return fmt.Sprintf("<%s (%s)>", inst.taskType.name, inst.id)
}

// Type the task type of the instance
func (inst *Instance) Type() *TaskType {
	return inst.taskType
}

// Plan the resolved parameters
func (inst *Instance) Plan() *Plan {
	return inst.plan
}

// BundleSize number of tasks in the instance
func (inst *Instance) BundleSize() int {
	return inst.plan.BundleSize
}

// Param returns the effective value of a parameter: the supplied value, or its default
func (inst *Instance) Param(name string) interface{} {
	rp, ok := inst.plan.Get(name)
	if !ok {
		return nil
	}
	return rp.Value
}

// Context the working memory of the instance
func (inst *Instance) Context() *Context {
	return inst.context
}

// Store the store the instance persists to
func (inst *Instance) Store() Store {
	return inst.store
}

// State lifecycle state of the instance
func (inst *Instance) State() State {
	return inst.state
}

// FailedStage the stage whose body last returned an error or panicked, empty if none
func (inst *Instance) FailedStage() Stage {
	return inst.failedStage
}

func (inst *Instance) advance(state State) {
	if state > inst.state {
		inst.state = state
	}
}

func (inst *Instance) taskIDs() []int64 {
	ids := make([]int64, 0, len(inst.context.Tasks))
	for _, t := range inst.context.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func (inst *Instance) logContext(ctx context.Context) context.Context {
	return logs.WithField(ctx, "task", inst.String())
}

// PreExecute runs the pre_execute stage
func (inst *Instance) PreExecute(ctx context.Context, opts ...StageOption) (interface{}, error) {
	return inst.runStage(ctx, PreExecute, newStageOptions(opts))
}

// PostExecute runs the post_execute stage
func (inst *Instance) PostExecute(ctx context.Context, opts ...StageOption) (interface{}, error) {
	return inst.runStage(ctx, PostExecute, newStageOptions(opts))
}

// Execute runs pre_execute, execute and post_execute in order, stopping at the first failing
// stage, then persists the per-task timing recorded so far, also when a stage failed. With
// Uninstrumented(Execute) only the raw execute body runs.
func (inst *Instance) Execute(ctx context.Context, opts ...StageOption) (interface{}, error) {
	o := newStageOptions(opts)
	if !o.instrumented(Execute) {
		return inst.taskType.raw[Execute](ctx, inst)
	}
	ctx = inst.logContext(ctx)
	defer inst.saveTiming(ctx)
	if _, err := inst.runStage(ctx, PreExecute, o); err != nil {
		return nil, err
	}
	result, err := inst.runStage(ctx, Execute, o)
	if err != nil {
		return result, err
	}
	if _, err = inst.runStage(ctx, PostExecute, o); err != nil {
		return result, err
	}
	return result, nil
}

func (inst *Instance) runStage(ctx context.Context, stage Stage, o *stageOptions) (interface{}, error) {
	if !o.instrumented(stage) {
		return inst.taskType.raw[stage](ctx, inst)
	}
	return inst.taskType.instrumented[stage](inst.logContext(ctx), inst)
}

// saveTiming writes the per-task timing of a bootstrapped context to the task rows. Failures are
// logged and never reach the caller.
func (inst *Instance) saveTiming(ctx context.Context) {
	c := inst.context
	if !c.Bootstrapped() || inst.store == nil {
		return
	}
	timings := perTaskTiming(c.Timing, len(c.Tasks))
	err := inst.store.Atomic(ctx, func(tx Store) error {
		for i, task := range c.Tasks {
			if err := tx.UpdateTaskTiming(ctx, task.ID, timings[i]); err != nil {
				return err
			}
			task.Timing = timings[i]
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "%v", NewError(ErrCodeTiming, "save timing of %v failed", inst, err))
	}
}

// UpdateStatus sets the status of the given *TaskRow and *BundleRow items, or of every task and
// the bundle of the context when none are given. It returns the number of rows changed.
func (inst *Instance) UpdateStatus(ctx context.Context, description status.TaskStatus, items ...interface{}) (int64, error) {
	if inst.store == nil {
		return 0, NewError(ErrCodeGeneral, "no store configured for %v", inst)
	}
	if len(items) == 0 {
		if !inst.context.Bootstrapped() {
			return 0, errors.WithStack(ErrNotBootstrapped)
		}
		for _, t := range inst.context.Tasks {
			items = append(items, t)
		}
		if inst.context.Bundle != nil {
			items = append(items, inst.context.Bundle)
		}
	}
	return UpdateStatus(ctx, inst.store, description, items...)
}

// UpdateStatus sets the status of *TaskRow and *BundleRow items in one transaction
func UpdateStatus(ctx context.Context, store Store, description status.TaskStatus, items ...interface{}) (int64, error) {
	var taskIDs, bundleIDs []int64
	var tasks []*TaskRow
	var bundles []*BundleRow
	for _, item := range items {
		switch it := item.(type) {
		case *TaskRow:
			taskIDs = append(taskIDs, it.ID)
			tasks = append(tasks, it)
		case *BundleRow:
			bundleIDs = append(bundleIDs, it.ID)
			bundles = append(bundles, it)
		default:
			return 0, NewError(ErrCodeGeneral, "cannot update status of %T", item)
		}
	}
	var n int64
	err := store.Atomic(ctx, func(tx Store) error {
		statusID, err := tx.StatusID(ctx, string(description))
		if err != nil {
			return err
		}
		updated, err := tx.UpdateTaskStatus(ctx, statusID, taskIDs)
		if err != nil {
			return err
		}
		n += updated
		if updated, err = tx.UpdateBundleStatus(ctx, statusID, bundleIDs); err != nil {
			return err
		}
		n += updated
		for _, t := range tasks {
			t.StatusID = statusID
		}
		for _, b := range bundles {
			b.StatusID = statusID
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Debug(ctx, "status updated, status:%v, tasks:%v, bundles:%v", description, taskIDs, bundleIDs)
	return n, nil
}
