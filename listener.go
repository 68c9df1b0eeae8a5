package astra

import "context"

//StageListener observes instrumented stages. A listener cannot fail a stage: panics raised by it
//are logged and dropped.
type StageListener interface {
	//BeforeStage execute before the stage body starts
	BeforeStage(ctx context.Context, task *Instance, stage Stage)
	//AfterStage execute after the stage body returned or panicked, with the stage timing recorded so far
	AfterStage(ctx context.Context, task *Instance, stage Stage, timing *StageTiming, err error)
}
