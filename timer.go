package astra

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"
)

// stageTimer measures one run of an instrumented stage
type stageTimer struct {
	ctx   context.Context
	task  *Instance
	stage Stage
	start time.Time
}

func startStageTimer(ctx context.Context, task *Instance, stage Stage) *stageTimer {
	t := &stageTimer{ctx: ctx, task: task, stage: stage}
	for _, listener := range task.taskType.listeners {
		t.guard("before stage listener "+reflect.TypeOf(listener).String(), func() {
			listener.BeforeStage(ctx, task, stage)
		})
	}
	t.start = time.Now()
	return t
}

// stop records the elapsed time and logs the outcome of the stage body
func (t *stageTimer) stop(stageErr error, recovered interface{}) {
	elapsed := time.Since(t.start)
	t.guard("update timing", func() {
		t.task.context.Timing.record(t.stage, elapsed)
	})
	if recovered != nil {
		logger.Error(t.ctx, "panic in %v for %v, tasks:%v, err:%v, stack:%v", t.stage, t.task, t.task.taskIDs(), recovered, string(debug.Stack()))
	} else if stageErr != nil {
		logger.Error(t.ctx, "exception in %v for %v, tasks:%v, err:%v", t.stage, t.task, t.task.taskIDs(), stageErr)
	} else {
		logger.Debug(t.ctx, "stage finish, task:%v, stage:%v, elapsed:%v", t.task, t.stage, elapsed)
	}
	timing := t.task.context.Timing.Stage(t.stage)
	err := stageErr
	if recovered != nil && err == nil {
		err = NewError(ErrCodeGeneral, "panic in %v: %v", t.stage, fmt.Sprint(recovered))
	}
	for _, listener := range t.task.taskType.listeners {
		t.guard("after stage listener "+reflect.TypeOf(listener).String(), func() {
			listener.AfterStage(t.ctx, t.task, t.stage, timing, err)
		})
	}
}

// guard runs fn and logs, but never propagates, a failure of it
func (t *stageTimer) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := NewError(ErrCodeTiming, "%v failed for %v during %v: %v", what, t.task, t.stage, fmt.Sprint(r))
			logger.Error(t.ctx, "%v", err)
		}
	}()
	fn()
}
