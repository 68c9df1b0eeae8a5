// Package metrics exports stage timing of astra tasks to prometheus.
package metrics

import (
	"context"

	"github.com/ajwheeler/astra"
	"github.com/prometheus/client_golang/prometheus"
)

// StageMetrics an astra.StageListener recording stage durations, bundle overhead, per-task time
// and stage failures, labelled by task type and stage
type StageMetrics struct {
	duration *prometheus.HistogramVec
	bundle   *prometheus.HistogramVec
	perTask  *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewStageMetrics creates the collectors and registers them with reg
func NewStageMetrics(reg prometheus.Registerer) *StageMetrics {
	m := &StageMetrics{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "astra_stage_duration_seconds",
				Help:    "Wall-clock time of an instrumented task stage",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"task", "stage"},
		),
		bundle: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "astra_stage_bundle_seconds",
				Help:    "Part of a stage not attributed to any single task of the bundle",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"task", "stage"},
		),
		perTask: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "astra_stage_task_seconds",
				Help:    "Time a stage spent on one task of the bundle",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"task", "stage"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "astra_stage_failures_total",
				Help: "Task stages that returned an error or panicked",
			},
			[]string{"task", "stage"},
		),
	}
	reg.MustRegister(m.duration, m.bundle, m.perTask, m.failures)
	return m
}

func (m *StageMetrics) BeforeStage(ctx context.Context, task *astra.Instance, stage astra.Stage) {
}

func (m *StageMetrics) AfterStage(ctx context.Context, task *astra.Instance, stage astra.Stage, timing *astra.StageTiming, err error) {
	name := task.Type().Name()
	if err != nil {
		m.failures.WithLabelValues(name, string(stage)).Inc()
	}
	if timing == nil || !timing.Recorded {
		return
	}
	m.duration.WithLabelValues(name, string(stage)).Observe(timing.Total.Seconds())
	m.bundle.WithLabelValues(name, string(stage)).Observe(timing.Bundle.Seconds())
	for _, d := range timing.PerTask {
		m.perTask.WithLabelValues(name, string(stage)).Observe(d.Seconds())
	}
}
