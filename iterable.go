package astra

import (
	"context"
	"time"
)

// Iterator yields the units of a task lazily, attributing the wall-clock time between yields to
// the unit that was being worked on
type Iterator struct {
	ctx      context.Context
	task     *Instance
	stage    Stage
	timed    bool
	units    []*Unit
	pos      int
	last     time.Time
	finished bool
}

// Iterable returns an iterator over the units of the task, creating the context if needed.
// Time is recorded against stage when given, otherwise against the stage running under ctx.
// Without either the units are yielded untimed.
func (inst *Instance) Iterable(ctx context.Context, stage ...Stage) (*Iterator, error) {
	c, err := inst.bootstrap(inst.logContext(ctx))
	if err != nil {
		return nil, err
	}
	it := &Iterator{ctx: ctx, task: inst, units: c.Iterable}
	if len(stage) > 0 {
		it.stage, it.timed = stage[0], true
	} else {
		it.stage, it.timed = StageFromContext(ctx)
	}
	if !it.timed {
		logger.Warn(ctx, "unknown stage for %v, per-task times will not be recorded", inst)
	}
	it.last = time.Now()
	return it, nil
}

// Next advances to the next unit. The time from the previous call to this one is recorded
// against the unit yielded by the previous call; the call returning false records the last unit.
func (it *Iterator) Next() bool {
	if it.finished {
		return false
	}
	if it.pos > 0 && it.timed {
		now := time.Now()
		it.task.context.Timing.addPerTask(it.stage, it.pos-1, now.Sub(it.last))
		it.last = now
	}
	if it.pos >= len(it.units) {
		it.finished = true
		return false
	}
	it.pos++
	it.last = time.Now()
	return true
}

// Unit the unit yielded by the last successful Next
func (it *Iterator) Unit() *Unit {
	if it.pos == 0 || it.finished {
		return nil
	}
	return it.units[it.pos-1]
}

// Len number of units
func (it *Iterator) Len() int {
	return len(it.units)
}
