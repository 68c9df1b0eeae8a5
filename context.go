package astra

import (
	"time"
)

// Unit one task of a bundle as handed to stage bodies: the persisted task row, its resolved
// inputs and its own parameter values
type Unit struct {
	Index      int
	Task       *TaskRow
	Inputs     []*Input
	Parameters map[string]interface{}
}

// Context working memory of a task instance. It is created once, on first stage entry or first
// iteration, and is not safe for concurrent use.
type Context struct {
	Timing *Timing
	// Iterable is nil until the context has been bootstrapped
	Iterable []*Unit
	Tasks    []*TaskRow
	Bundle   *BundleRow
	Inputs   []*Input

	results map[Stage]interface{}
}

// NewContext creates an empty context
func NewContext() *Context {
	return &Context{
		Timing:  NewTiming(),
		results: make(map[Stage]interface{}),
	}
}

// Bootstrapped reports whether the task rows of the context exist
func (c *Context) Bootstrapped() bool {
	return c.Iterable != nil
}

// Result returns the value returned by the last instrumented run of stage
func (c *Context) Result(stage Stage) interface{} {
	return c.results[stage]
}

func (c *Context) setResult(stage Stage, result interface{}) {
	c.results[stage] = result
}

// StageTiming timing of one stage. Total is the wall-clock time of the stage, PerTask the time
// attributed to each task by the iterator, Bundle the remainder.
type StageTiming struct {
	Total    time.Duration
	Bundle   time.Duration
	PerTask  []time.Duration
	Recorded bool
}

// Timing per-stage timing of a task instance
type Timing struct {
	Stages map[Stage]*StageTiming
	Total  time.Duration
}

// NewTiming creates empty timing
func NewTiming() *Timing {
	return &Timing{Stages: make(map[Stage]*StageTiming)}
}

// Stage returns the timing of stage, creating it if necessary
func (t *Timing) Stage(stage Stage) *StageTiming {
	st, ok := t.Stages[stage]
	if !ok {
		st = &StageTiming{}
		t.Stages[stage] = st
	}
	return st
}

// addPerTask accumulates elapsed into the per-task time of task i
func (t *Timing) addPerTask(stage Stage, i int, elapsed time.Duration) {
	st := t.Stage(stage)
	for len(st.PerTask) <= i {
		st.PerTask = append(st.PerTask, 0)
	}
	st.PerTask[i] += elapsed
}

// record stores the wall-clock time of a stage and splits it into bundle overhead and per-task work
func (t *Timing) record(stage Stage, elapsed time.Duration) {
	st := t.Stage(stage)
	var perTask time.Duration
	for _, d := range st.PerTask {
		perTask += d
	}
	st.Total = elapsed
	st.Bundle = elapsed - perTask
	st.Recorded = true

	t.Total = 0
	for _, s := range Stages {
		if recorded, ok := t.Stages[s]; ok && recorded.Recorded {
			t.Total += recorded.Total
		}
	}
}

// Metrics flattens the timing into seconds keyed time_<stage>, time_<stage>_bundle,
// time_<stage>_per_task and time_total
func (t *Timing) Metrics() map[string]interface{} {
	metrics := make(map[string]interface{})
	for stage, st := range t.Stages {
		if st.Recorded {
			metrics["time_"+string(stage)] = st.Total.Seconds()
			metrics["time_"+string(stage)+"_bundle"] = st.Bundle.Seconds()
		}
		if len(st.PerTask) > 0 {
			perTask := make([]float64, len(st.PerTask))
			for i, d := range st.PerTask {
				perTask[i] = d.Seconds()
			}
			metrics["time_"+string(stage)+"_per_task"] = perTask
		}
	}
	metrics["time_total"] = t.Total.Seconds()
	return metrics
}
