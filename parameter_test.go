package astra

import (
	"testing"

	"github.com/bmizerany/assert"
)

func testSchema(params ...*Parameter) *Schema {
	s := newSchema("TestTask")
	for _, p := range params {
		s.add(p)
	}
	return s
}

func bindingErr(t *testing.T, err error) *ParameterBindingError {
	be, ok := err.(*ParameterBindingError)
	if !ok {
		t.Fatalf("expected *ParameterBindingError, got %T: %v", err, err)
	}
	return be
}

func TestSchema_ResolveBundleSize(t *testing.T) {
	s := testSchema(NewParameter("a"), NewParameter("b"), NewParameter("c", Default(10)))
	plan, err := s.Resolve(map[string]interface{}{"a": []int{1, 2, 3}, "b": 5})
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, plan.BundleSize)

	a, _ := plan.Get("a")
	assert.Equal(t, true, a.Indexed)
	assert.Equal(t, 3, a.Length)
	b, _ := plan.Get("b")
	assert.Equal(t, false, b.Indexed)
	c, _ := plan.Get("c")
	assert.Equal(t, true, c.Defaulted)
	assert.Equal(t, false, c.Indexed)

	assert.Equal(t, map[string]interface{}{"a": 2, "b": 5, "c": 10}, plan.UnitParameters(1))
}

func TestSchema_ResolveSingle(t *testing.T) {
	s := testSchema(NewParameter("a"), NewParameter("name"))
	plan, err := s.Resolve(map[string]interface{}{"a": []int{7}, "name": "spectrum"})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, plan.BundleSize)
	a, _ := plan.Get("a")
	assert.Equal(t, false, a.Indexed)
	assert.Equal(t, []int{7}, plan.UnitParameters(0)["a"])
	// strings are scalars
	name, _ := plan.Get("name")
	assert.Equal(t, 1, name.Length)
}

func TestSchema_ResolveDefaultIgnoredForBundling(t *testing.T) {
	s := testSchema(NewParameter("a"), NewParameter("d", Default([]int{1, 2, 3, 4})))
	plan, err := s.Resolve(map[string]interface{}{"a": []string{"x", "y"}})
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, plan.BundleSize)
	d, _ := plan.Get("d")
	assert.Equal(t, false, d.Indexed)
	assert.Equal(t, []int{1, 2, 3, 4}, plan.UnitParameters(0)["d"])
}

func TestSchema_ResolveContainerAndBundled(t *testing.T) {
	s := testSchema(
		NewParameter("a"),
		NewParameter("wavelengths", Container()),
		NewParameter("grid", Bundled(), Container()),
		NewParameter("mode", Bundled()),
	)
	plan, err := s.Resolve(map[string]interface{}{
		"a":           []int{1, 2},
		"wavelengths": []float64{1.1, 2.2, 3.3},
		"grid":        []string{"g1", "g2"},
		"mode":        "fast",
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, plan.BundleSize)
	w, _ := plan.Get("wavelengths")
	assert.Equal(t, false, w.Indexed)
	g, _ := plan.Get("grid")
	assert.Equal(t, false, g.Indexed)
	assert.Equal(t, []string{"g1", "g2"}, plan.UnitParameters(1)["grid"])
}

func TestSchema_ResolveMissing(t *testing.T) {
	s := testSchema(NewParameter("b"), NewParameter("a"), NewParameter("c", Default(1)))
	_, err := s.Resolve(map[string]interface{}{})
	be := bindingErr(t, err)
	assert.Equal(t, BindingMissing, be.Kind)
	assert.Equal(t, []string{"a", "b"}, be.Names)
}

func TestSchema_ResolveUnexpected(t *testing.T) {
	s := testSchema(NewParameter("a"))
	_, err := s.Resolve(map[string]interface{}{"a": 1, "z": 2, "y": 3})
	be := bindingErr(t, err)
	assert.Equal(t, BindingUnexpected, be.Kind)
	assert.Equal(t, []string{"y", "z"}, be.Names)
}

func TestSchema_ResolveAmbiguous(t *testing.T) {
	s := testSchema(NewParameter("a"), NewParameter("b"), NewParameter("c"))
	_, err := s.Resolve(map[string]interface{}{"a": []int{1, 2, 3}, "b": []int{1, 2, 3, 4, 5}, "c": 1})
	be := bindingErr(t, err)
	assert.Equal(t, BindingAmbiguous, be.Kind)
	assert.Equal(t, 3, be.Lengths["a"])
	assert.Equal(t, 5, be.Lengths["b"])
	assert.Equal(t, 1, be.Lengths["c"])
	assert.Equal(t, []string{"a", "b", "c"}, be.Names)
}

func TestSchema_ResolveBundledLength(t *testing.T) {
	s := testSchema(NewParameter("a"), NewParameter("grid", Bundled()))
	_, err := s.Resolve(map[string]interface{}{"a": 1, "grid": []string{"g1", "g2"}})
	be := bindingErr(t, err)
	assert.Equal(t, BindingBundledLength, be.Kind)
	assert.Equal(t, []string{"grid"}, be.Names)
	assert.Equal(t, 2, be.Lengths["grid"])
}

func TestSchema_ResolveUnsliceable(t *testing.T) {
	s := testSchema(NewParameter("a"), NewParameter("m"))
	_, err := s.Resolve(map[string]interface{}{"a": []int{1, 2}, "m": map[string]int{"x": 1, "y": 2}})
	be := bindingErr(t, err)
	assert.Equal(t, BindingUnsliceable, be.Kind)
	assert.Equal(t, []string{"m"}, be.Names)
}

func TestSchema_AddDuplicate(t *testing.T) {
	defer func() {
		assert.NotEqual(t, nil, recover())
	}()
	testSchema(NewParameter("a"), NewParameter("a"))
}
