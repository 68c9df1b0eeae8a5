package astra

import (
	"context"
)

// Stage one of the three phases of a task: pre_execute, execute, post_execute
type Stage string

const (
	PreExecute  Stage = "pre_execute"
	Execute     Stage = "execute"
	PostExecute Stage = "post_execute"
)

// Stages in execution order
var Stages = []Stage{PreExecute, Execute, PostExecute}

// StageFunc body of a stage. ctx carries the active stage when the body runs instrumented.
type StageFunc func(ctx context.Context, task *Instance) (interface{}, error)

func noopStage(ctx context.Context, task *Instance) (interface{}, error) {
	return nil, nil
}

type stageKey struct{}

func withStage(ctx context.Context, stage Stage) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFromContext returns the stage whose instrumented body is running under ctx
func StageFromContext(ctx context.Context) (Stage, bool) {
	stage, ok := ctx.Value(stageKey{}).(Stage)
	return stage, ok
}

// StageOption controls a single stage call
type StageOption func(opts *stageOptions)

type stageOptions struct {
	raw map[Stage]bool
}

// Uninstrumented runs the given stages as their raw bodies: no context bootstrap, timing or
// logging. Uninstrumented(Execute) also skips pre_execute and post_execute.
func Uninstrumented(stages ...Stage) StageOption {
	return func(opts *stageOptions) {
		for _, stage := range stages {
			opts.raw[stage] = true
		}
	}
}

func newStageOptions(opts []StageOption) *stageOptions {
	o := &stageOptions{raw: make(map[Stage]bool)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *stageOptions) instrumented(stage Stage) bool {
	return !o.raw[stage]
}

// instrument wraps a stage body with context bootstrap, timing and exception logging. Errors and
// panics of the body reach the caller unchanged.
func instrument(stage Stage, body StageFunc) StageFunc {
	return func(ctx context.Context, task *Instance) (result interface{}, err error) {
		if _, err = task.bootstrap(ctx); err != nil {
			logger.Error(ctx, "create context failed, task:%v, stage:%v, err:%v", task, stage, err)
			return nil, err
		}
		logger.Debug(ctx, "stage start, task:%v, stage:%v", task, stage)
		timer := startStageTimer(ctx, task, stage)
		defer func() {
			r := recover()
			timer.stop(err, r)
			if r != nil {
				task.failedStage = stage
				panic(r)
			}
		}()
		result, err = body(withStage(ctx, stage), task)
		task.context.setResult(stage, result)
		if err != nil {
			task.failedStage = stage
			return result, err
		}
		task.advance(stateAfter(stage))
		return result, nil
	}
}
