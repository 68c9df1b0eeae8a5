package astra

import (
	"fmt"
	"reflect"
	"sort"
)

// Parameter declares one named parameter of a task type
type Parameter struct {
	Name string
	// Bundled parameters are shared unchanged by every task of a bundle
	Bundled bool
	// Container parameters hold sequence or mapping values that must never be sliced
	Container  bool
	Default    interface{}
	HasDefault bool
}

// ParameterOption configures a Parameter
type ParameterOption func(p *Parameter)

// Default sets the value used when the parameter is not supplied
func Default(value interface{}) ParameterOption {
	return func(p *Parameter) {
		p.Default = value
		p.HasDefault = true
	}
}

// Bundled marks the parameter as shared across all tasks of a bundle
func Bundled() ParameterOption {
	return func(p *Parameter) {
		p.Bundled = true
	}
}

// Container marks the parameter as sequence or mapping typed; its value is passed to every
// task as-is
func Container() ParameterOption {
	return func(p *Parameter) {
		p.Container = true
	}
}

// NewParameter creates a parameter descriptor
func NewParameter(name string, opts ...ParameterOption) *Parameter {
	p := &Parameter{Name: name}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Schema ordered table of the parameters declared by a task type
type Schema struct {
	taskName string
	params   []*Parameter
	index    map[string]*Parameter
}

func newSchema(taskName string) *Schema {
	return &Schema{
		taskName: taskName,
		index:    make(map[string]*Parameter),
	}
}

func (s *Schema) add(p *Parameter) {
	if p.Name == "" {
		panic("parameter name must not be empty")
	}
	if _, ok := s.index[p.Name]; ok {
		panic(fmt.Sprintf("parameter:%v declared twice for task:%v", p.Name, s.taskName))
	}
	s.params = append(s.params, p)
	s.index[p.Name] = p
}

// Parameters returns the declared parameters in declaration order
func (s *Schema) Parameters() []*Parameter {
	return s.params
}

// Lookup returns the parameter with the given name
func (s *Schema) Lookup(name string) (*Parameter, bool) {
	p, ok := s.index[name]
	return p, ok
}

// ResolvedParameter a parameter bound to its effective value
type ResolvedParameter struct {
	*Parameter
	Value     interface{}
	Defaulted bool
	Length    int
	Indexed   bool
}

// At returns the value given to the i-th task of the bundle
func (rp *ResolvedParameter) At(i int) interface{} {
	if !rp.Indexed {
		return rp.Value
	}
	return reflect.ValueOf(rp.Value).Index(i).Interface()
}

// Plan the outcome of parameter resolution: how many tasks make up the bundle and how each
// parameter is handed to them
type Plan struct {
	BundleSize int
	Parameters []*ResolvedParameter
}

// Get returns the resolved parameter with the given name
func (p *Plan) Get(name string) (*ResolvedParameter, bool) {
	for _, rp := range p.Parameters {
		if rp.Name == name {
			return rp, true
		}
	}
	return nil, false
}

// UnitParameters returns the parameter values of the i-th task: indexed parameters sliced at i,
// the others unchanged
func (p *Plan) UnitParameters(i int) map[string]interface{} {
	params := make(map[string]interface{}, len(p.Parameters))
	for _, rp := range p.Parameters {
		params[rp.Name] = rp.At(i)
	}
	return params
}

// Resolve binds supplied values to the schema and infers the bundle size
func (s *Schema) Resolve(values map[string]interface{}) (*Plan, error) {
	missing := make([]string, 0)
	resolved := make([]*ResolvedParameter, 0, len(s.params))
	for _, p := range s.params {
		value, ok := values[p.Name]
		defaulted := false
		if !ok {
			if !p.HasDefault {
				missing = append(missing, p.Name)
				continue
			}
			value = p.Default
			defaulted = true
		}
		resolved = append(resolved, &ResolvedParameter{
			Parameter: p,
			Value:     value,
			Defaulted: defaulted,
			Length:    valueLength(value),
		})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ParameterBindingError{Kind: BindingMissing, TaskName: s.taskName, Names: missing}
	}

	unexpected := make([]string, 0)
	for name := range values {
		if _, ok := s.index[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, &ParameterBindingError{Kind: BindingUnexpected, TaskName: s.taskName, Names: unexpected}
	}

	relevant := make(map[string]int)
	for _, rp := range resolved {
		if rp.Bundled && !rp.Container && isCollection(rp.Value) && rp.Length > 1 {
			return nil, &ParameterBindingError{
				Kind:     BindingBundledLength,
				TaskName: s.taskName,
				Names:    []string{rp.Name},
				Lengths:  map[string]int{rp.Name: rp.Length},
			}
		}
		if !rp.Bundled && !rp.Defaulted && !rp.Container {
			relevant[rp.Name] = rp.Length
		}
	}

	distinct := make(map[int]bool)
	for _, length := range relevant {
		if length != 1 {
			distinct[length] = true
		}
	}
	bundleSize := 1
	switch len(distinct) {
	case 0:
	case 1:
		for length := range distinct {
			bundleSize = length
		}
	default:
		return nil, &ParameterBindingError{Kind: BindingAmbiguous, TaskName: s.taskName, Names: sortedKeys(relevant), Lengths: relevant}
	}

	for _, rp := range resolved {
		rp.Indexed = bundleSize > 1 && rp.Length == bundleSize && !rp.Defaulted && !rp.Bundled && !rp.Container
		if rp.Indexed && !isSequence(rp.Value) {
			return nil, &ParameterBindingError{
				Kind:     BindingUnsliceable,
				TaskName: s.taskName,
				Names:    []string{rp.Name},
				Lengths:  map[string]int{rp.Name: rp.Length},
			}
		}
	}
	return &Plan{BundleSize: bundleSize, Parameters: resolved}, nil
}

// valueLength element count of slices, arrays and maps; strings and scalars count as one
func valueLength(value interface{}) int {
	if value == nil {
		return 1
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return v.Len()
	}
	return 1
}

func isCollection(value interface{}) bool {
	if value == nil {
		return false
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}

func isSequence(value interface{}) bool {
	if value == nil {
		return false
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	}
	return false
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			unique = append(unique, name)
		}
	}
	sort.Strings(unique)
	return unique
}
