package astra

import (
	"context"
)

// Reconciliation output ids touched by each phase of CreateOrUpdateOutputs
type Reconciliation struct {
	Updated []int64
	Created []int64
	Deleted []int64
}

// ReconcileOption controls CreateOrUpdateOutputs
type ReconcileOption func(opts *reconcileOptions)

type reconcileOptions struct {
	keepUnused bool
}

// KeepUnusedOutputs leaves existing rows beyond the new results in place
func KeepUnusedOutputs() ReconcileOption {
	return func(opts *reconcileOptions) {
		opts.keepUnused = true
	}
}

// CreateOrUpdateOutputs makes the rows of model linked to taskID match results, position by
// position in ascending output id order. Overlapping rows are updated in place, extra results get
// new output identities, surplus rows are deleted. Nil values and unknown columns in results are
// ignored when updating. Each phase commits on its own: when a later phase fails the earlier ones
// stay applied, and the returned Reconciliation reports what was applied.
func CreateOrUpdateOutputs(ctx context.Context, store Store, taskID int64, model *OutputModel, results []map[string]interface{}, opts ...ReconcileOption) (*Reconciliation, error) {
	o := &reconcileOptions{}
	for _, opt := range opts {
		opt(o)
	}
	summary := &Reconciliation{}
	existing, err := store.ListOutputs(ctx, model, taskID)
	if err != nil {
		return summary, NewError(ErrCodeReconcile, "list %v outputs of task %d failed", model.Table, taskID, err)
	}

	n := len(existing)
	if len(results) < n {
		n = len(results)
	}
	if n > 0 {
		updates := make([]*OutputRow, 0, n)
		ids := make([]int64, n)
		for i := 0; i < n; i++ {
			ids[i] = existing[i].OutputID
			if fields := recognizedFields(model, results[i], true); len(fields) > 0 {
				updates = append(updates, &OutputRow{OutputID: existing[i].OutputID, TaskID: taskID, Fields: fields})
			}
		}
		if len(updates) > 0 {
			err = store.Atomic(ctx, func(tx Store) error {
				return tx.UpdateOutputs(ctx, model, updates)
			})
			if err != nil {
				return summary, NewError(ErrCodeReconcile, "update %d %v outputs of task %d failed", len(updates), model.Table, taskID, err)
			}
		}
		summary.Updated = ids
		logger.Debug(ctx, "outputs updated, table:%v, task:%v, outputs:%v", model.Table, taskID, ids)
	}

	if extra := results[n:]; len(extra) > 0 {
		var created []int64
		err = store.Atomic(ctx, func(tx Store) error {
			ids, err := tx.CreateOutputIdentities(ctx, len(extra))
			if err != nil {
				return err
			}
			if err = tx.LinkTaskOutputs(ctx, taskID, ids); err != nil {
				return err
			}
			rows := make([]*OutputRow, len(extra))
			for i, result := range extra {
				rows[i] = &OutputRow{OutputID: ids[i], TaskID: taskID, Fields: recognizedFields(model, result, false)}
			}
			if err = tx.InsertOutputs(ctx, model, rows); err != nil {
				return err
			}
			created = ids
			return nil
		})
		if err != nil {
			return summary, NewError(ErrCodeReconcile, "create %d %v outputs of task %d failed", len(extra), model.Table, taskID, err)
		}
		summary.Created = created
		logger.Debug(ctx, "outputs created, table:%v, task:%v, outputs:%v", model.Table, taskID, created)
	}

	if surplus := existing[n:]; len(surplus) > 0 && !o.keepUnused {
		ids := make([]int64, len(surplus))
		for i, row := range surplus {
			ids[i] = row.OutputID
		}
		err = store.Atomic(ctx, func(tx Store) error {
			_, err := tx.DeleteOutputs(ctx, model, ids)
			return err
		})
		if err != nil {
			return summary, NewError(ErrCodeReconcile, "delete %d %v outputs of task %d failed", len(ids), model.Table, taskID, err)
		}
		summary.Deleted = ids
		logger.Debug(ctx, "outputs deleted, table:%v, task:%v, outputs:%v", model.Table, taskID, ids)
	}

	logger.Info(ctx, "outputs reconciled, table:%v, task:%v, updated:%d, created:%d, deleted:%d",
		model.Table, taskID, len(summary.Updated), len(summary.Created), len(summary.Deleted))
	return summary, nil
}

// CreateOrUpdateOutputs reconciles the outputs of one task of the instance against results
func (inst *Instance) CreateOrUpdateOutputs(ctx context.Context, task *TaskRow, model *OutputModel, results []map[string]interface{}, opts ...ReconcileOption) (*Reconciliation, error) {
	if inst.store == nil {
		return nil, NewError(ErrCodeGeneral, "no store configured for %v", inst)
	}
	return CreateOrUpdateOutputs(inst.logContext(ctx), inst.store, task.ID, model, results, opts...)
}

// recognizedFields keeps the payload columns of model, dropping nil values when skipNil is set
func recognizedFields(model *OutputModel, result map[string]interface{}, skipNil bool) map[string]interface{} {
	fields := make(map[string]interface{}, len(result))
	for k, v := range result {
		if !model.HasColumn(k) {
			continue
		}
		if v == nil && skipNil {
			continue
		}
		fields[k] = v
	}
	return fields
}
