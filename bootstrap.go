package astra

import (
	"context"
)

// bootstrap creates the context on first use: resolves inputs, then creates one task row per
// unit, links inputs and, for bundles of more than one task, creates the bundle, all in a single
// transaction. A failure leaves the context unbootstrapped.
func (inst *Instance) bootstrap(ctx context.Context) (*Context, error) {
	c := inst.context
	if c.Bootstrapped() {
		inst.advance(ContextReady)
		return c, nil
	}
	if inst.store == nil {
		return nil, NewError(ErrCodeGeneral, "no store configured for %v, call SetStore or SetDB", inst)
	}
	inputs, err := ResolveInputs(ctx, inst.store, inst.inputs)
	if err != nil {
		return nil, err
	}

	n := inst.plan.BundleSize
	units := make([]*Unit, n)
	tasks := make([]*TaskRow, n)
	var bundle *BundleRow
	err = inst.store.Atomic(ctx, func(tx Store) error {
		for i := 0; i < n; i++ {
			params := inst.plan.UnitParameters(i)
			in := unitInputs(inputs, i, n)
			task := &TaskRow{
				Name:       inst.taskType.name,
				Parameters: params,
				Version:    Version(),
			}
			if err := tx.CreateTask(ctx, task); err != nil {
				return err
			}
			if ids := productIDs(in); len(ids) > 0 {
				if err := tx.LinkTaskInputs(ctx, task.ID, ids); err != nil {
					return err
				}
			}
			tasks[i] = task
			units[i] = &Unit{Index: i, Task: task, Inputs: in, Parameters: params}
		}
		if n > 1 {
			bundle = &BundleRow{}
			if err := tx.CreateBundle(ctx, bundle); err != nil {
				return err
			}
			for _, task := range tasks {
				if err := tx.LinkTaskBundle(ctx, task.ID, bundle.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.Tasks = tasks
	c.Bundle = bundle
	c.Inputs = inputs
	c.Iterable = units
	inst.advance(ContextReady)
	logger.Info(ctx, "context created, task:%v, tasks:%v, bundle size:%v", inst, inst.taskIDs(), n)
	return c, nil
}

// Bootstrap creates the context if it does not exist yet and returns it
func (inst *Instance) Bootstrap(ctx context.Context) (*Context, error) {
	return inst.bootstrap(inst.logContext(ctx))
}
