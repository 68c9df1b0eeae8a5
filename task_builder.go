package astra

// TaskType a task definition: a named parameter schema plus the bodies of its three stages.
// Instances of a type are created with New.
type TaskType struct {
	name         string
	schema       *Schema
	raw          map[Stage]StageFunc
	instrumented map[Stage]StageFunc
	listeners    []StageListener
}

// Name name of the task type, recorded on every task row
func (tt *TaskType) Name() string {
	return tt.name
}

// Schema declared parameters of the task type
func (tt *TaskType) Schema() *Schema {
	return tt.schema
}

// TaskTypeBuilder builder of TaskType
type TaskTypeBuilder struct {
	name      string
	params    []*Parameter
	stages    map[Stage]StageFunc
	listeners []StageListener
}

// NewTaskType create a TaskTypeBuilder with the specified name
func NewTaskType(name string) *TaskTypeBuilder {
	if name == "" {
		panic("task type name must not be empty")
	}
	return &TaskTypeBuilder{
		name:   name,
		stages: make(map[Stage]StageFunc),
	}
}

// Parameter declare a parameter of the task type
func (builder *TaskTypeBuilder) Parameter(name string, opts ...ParameterOption) *TaskTypeBuilder {
	builder.params = append(builder.params, NewParameter(name, opts...))
	return builder
}

// PreExecute set the pre_execute body
func (builder *TaskTypeBuilder) PreExecute(fn StageFunc) *TaskTypeBuilder {
	builder.stages[PreExecute] = fn
	return builder
}

// Execute set the execute body
func (builder *TaskTypeBuilder) Execute(fn StageFunc) *TaskTypeBuilder {
	builder.stages[Execute] = fn
	return builder
}

// PostExecute set the post_execute body
func (builder *TaskTypeBuilder) PostExecute(fn StageFunc) *TaskTypeBuilder {
	builder.stages[PostExecute] = fn
	return builder
}

// Listener add listeners notified around every instrumented stage
func (builder *TaskTypeBuilder) Listener(listener ...StageListener) *TaskTypeBuilder {
	for _, l := range listener {
		if l == nil {
			panic("listener must not be nil")
		}
		builder.listeners = append(builder.listeners, l)
	}
	return builder
}

// Build build TaskType instance. Stages without a body do nothing.
func (builder *TaskTypeBuilder) Build() *TaskType {
	schema := newSchema(builder.name)
	for _, p := range builder.params {
		schema.add(p)
	}
	tt := &TaskType{
		name:         builder.name,
		schema:       schema,
		raw:          make(map[Stage]StageFunc, len(Stages)),
		instrumented: make(map[Stage]StageFunc, len(Stages)),
		listeners:    builder.listeners,
	}
	for _, stage := range Stages {
		body, ok := builder.stages[stage]
		if !ok || body == nil {
			body = noopStage
		}
		tt.raw[stage] = body
		tt.instrumented[stage] = instrument(stage, body)
	}
	return tt
}
