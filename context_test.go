package astra

import (
	"testing"
	"time"

	"github.com/bmizerany/assert"
)

func TestTiming_RecordBundle(t *testing.T) {
	timing := NewTiming()
	timing.addPerTask(Execute, 0, 1*time.Second)
	timing.addPerTask(Execute, 1, 2*time.Second)
	timing.addPerTask(Execute, 2, 3*time.Second)
	timing.record(Execute, 10*time.Second)

	st := timing.Stage(Execute)
	assert.Equal(t, 10*time.Second, st.Total)
	assert.Equal(t, 4*time.Second, st.Bundle)
	assert.Equal(t, 10*time.Second, timing.Total)
}

func TestTiming_RecordWithoutPerTask(t *testing.T) {
	timing := NewTiming()
	timing.record(PreExecute, 10*time.Second)
	assert.Equal(t, 10*time.Second, timing.Stage(PreExecute).Bundle)
	assert.Equal(t, 0, len(timing.Stage(PreExecute).PerTask))
}

func TestTiming_TotalSumsRecordedStages(t *testing.T) {
	timing := NewTiming()
	timing.record(PreExecute, 1*time.Second)
	assert.Equal(t, 1*time.Second, timing.Total)
	timing.record(Execute, 2*time.Second)
	assert.Equal(t, 3*time.Second, timing.Total)
	// an untimed entry created by Stage does not count
	timing.Stage(PostExecute)
	timing.record(Execute, 4*time.Second)
	assert.Equal(t, 5*time.Second, timing.Total)
}

func TestTiming_AddPerTaskAccumulates(t *testing.T) {
	timing := NewTiming()
	timing.addPerTask(Execute, 1, time.Second)
	assert.Equal(t, []time.Duration{0, time.Second}, timing.Stage(Execute).PerTask)
	timing.addPerTask(Execute, 1, 2*time.Second)
	timing.addPerTask(Execute, 0, time.Second)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, timing.Stage(Execute).PerTask)
}

func TestTiming_Metrics(t *testing.T) {
	timing := NewTiming()
	timing.addPerTask(Execute, 0, 500*time.Millisecond)
	timing.addPerTask(Execute, 1, 500*time.Millisecond)
	timing.record(Execute, 2*time.Second)

	metrics := timing.Metrics()
	assert.Equal(t, 2.0, metrics["time_execute"])
	assert.Equal(t, 1.0, metrics["time_execute_bundle"])
	assert.Equal(t, []float64{0.5, 0.5}, metrics["time_execute_per_task"])
	assert.Equal(t, 2.0, metrics["time_total"])
	_, ok := metrics["time_pre_execute"]
	assert.Equal(t, false, ok)
}

func TestPerTaskTiming(t *testing.T) {
	timing := NewTiming()
	timing.addPerTask(Execute, 0, 1*time.Second)
	timing.addPerTask(Execute, 1, 3*time.Second)
	timing.record(Execute, 6*time.Second)
	timing.record(PreExecute, 2*time.Second)

	rows := perTaskTiming(timing, 2)
	assert.Equal(t, 2, len(rows))
	assert.Equal(t, 2.0, rows[0].ExecuteBundle)
	assert.Equal(t, 1.0, rows[0].ExecuteTask)
	assert.Equal(t, 2.0, rows[0].Execute)
	assert.Equal(t, 4.0, rows[1].Execute)
	assert.Equal(t, 1.0, rows[1].PreExecute)
	assert.Equal(t, 0.0, rows[1].PostExecute)
	assert.Equal(t, 5.0, rows[1].Total)
}

func TestContext_Bootstrapped(t *testing.T) {
	c := NewContext()
	assert.Equal(t, false, c.Bootstrapped())
	c.Iterable = []*Unit{}
	assert.Equal(t, true, c.Bootstrapped())
	c.setResult(Execute, "ok")
	assert.Equal(t, "ok", c.Result(Execute))
	assert.Equal(t, nil, c.Result(PreExecute))
}
