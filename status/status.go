package status

import "strings"

//TaskStatus status of a task or bundle, persisted in the status table by description
type TaskStatus string

const (
	//CREATED task rows exist but nothing has run
	CREATED TaskStatus = "created"
	//LOCKED task claimed by a worker
	LOCKED TaskStatus = "locked"
	//SUBMITTED task handed to a scheduler
	SUBMITTED TaskStatus = "submitted"
	//RUNNING task is executing
	RUNNING TaskStatus = "running"
	//COMPLETED task finished successfully
	COMPLETED TaskStatus = "completed"
	FAILED_PRE_EXECUTION  TaskStatus = "failed-pre-execution"
	FAILED_EXECUTION      TaskStatus = "failed-execution"
	FAILED_POST_EXECUTION TaskStatus = "failed-post-execution"
)

//All statuses in the order they are seeded; the first one is the default of new rows
var All = []TaskStatus{
	CREATED,
	LOCKED,
	SUBMITTED,
	RUNNING,
	COMPLETED,
	FAILED_PRE_EXECUTION,
	FAILED_EXECUTION,
	FAILED_POST_EXECUTION,
}

//FailedAt returns the failure status of a stage such as "pre_execute"
func FailedAt(stage string) TaskStatus {
	return TaskStatus("failed-" + strings.ReplaceAll(strings.TrimSuffix(stage, "execute")+"execution", "_", "-"))
}

//Failed reports whether s is one of the failure statuses
func (s TaskStatus) Failed() bool {
	return strings.HasPrefix(string(s), "failed-")
}
