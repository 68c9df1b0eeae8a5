package astra

import (
	"time"
)

// TaskRow persisted record of one task: a unit of work bound to concrete parameter values
type TaskRow struct {
	ID         int64
	Name       string
	Parameters map[string]interface{}
	Version    string
	StatusID   int64
	Timing     *TaskTiming
}

// BundleRow persisted record of a group of tasks created together
type BundleRow struct {
	ID       int64
	StatusID int64
}

// TaskTiming per-task timing columns of a TaskRow, in seconds
type TaskTiming struct {
	Total       float64
	PreExecute  float64
	Execute     float64
	PostExecute float64

	PreExecuteTask  float64
	ExecuteTask     float64
	PostExecuteTask float64

	PreExecuteBundle  float64
	ExecuteBundle     float64
	PostExecuteBundle float64
}

// DataProduct canonical record of an input, matched by the hash of its normalized keywords
type DataProduct struct {
	ID         int64
	Release    string
	Filetype   string
	Kwargs     map[string]interface{}
	KwargsHash string
}

// Column payload column of a pipeline output table
type Column struct {
	Name string
	// SQL type used when creating the table, e.g. REAL, INTEGER, TEXT
	Type string
}

// OutputModel describes a pipeline-specific output table. Every table has the identity columns
// output_id and task_id in addition to Columns.
type OutputModel struct {
	Table   string
	Columns []Column
}

const (
	outputIDColumn = "output_id"
	taskIDColumn   = "task_id"
)

// HasColumn reports whether name is a payload column of the model
func (m *OutputModel) HasColumn(name string) bool {
	for _, c := range m.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// OutputRow one persisted row of a pipeline output table
type OutputRow struct {
	OutputID int64
	TaskID   int64
	Fields   map[string]interface{}
}

// perTaskTiming spreads the bundle overhead of each stage evenly over the n tasks of a bundle
func perTaskTiming(timing *Timing, n int) []*TaskTiming {
	result := make([]*TaskTiming, n)
	for i := 0; i < n; i++ {
		tt := &TaskTiming{}
		for _, stage := range Stages {
			st := timing.Stage(stage)
			var task time.Duration
			if i < len(st.PerTask) {
				task = st.PerTask[i]
			}
			bundle := st.Bundle.Seconds()
			total := bundle/float64(n) + task.Seconds()
			switch stage {
			case PreExecute:
				tt.PreExecute, tt.PreExecuteTask, tt.PreExecuteBundle = total, task.Seconds(), bundle
			case Execute:
				tt.Execute, tt.ExecuteTask, tt.ExecuteBundle = total, task.Seconds(), bundle
			case PostExecute:
				tt.PostExecute, tt.PostExecuteTask, tt.PostExecuteBundle = total, task.Seconds(), bundle
			}
			tt.Total += total
		}
		result[i] = tt
	}
	return result
}
