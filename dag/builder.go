package dag

import (
	stderrors "errors"
	"fmt"

	"github.com/kbukum/batchpredict/errors"
)

// ParamKind is the declared type of a pipeline parameter.
type ParamKind string

const (
	KindString ParamKind = "string"
	KindInt    ParamKind = "int"
	KindFloat  ParamKind = "float"
	KindBool   ParamKind = "bool"
)

// Param is a named, typed, defaulted graph input.
type Param struct {
	Name    string    `json:"name" yaml:"name"`
	Kind    ParamKind `json:"kind" yaml:"kind"`
	Default any       `json:"default" yaml:"default"`
}

// BindingKind tells where a step input comes from.
type BindingKind string

const (
	BindParam  BindingKind = "param"
	BindConst  BindingKind = "const"
	BindOutput BindingKind = "output"
)

// Binding is the resolved description of a step input.
type Binding struct {
	Kind   BindingKind `json:"kind" yaml:"kind"`
	Param  string      `json:"param,omitempty" yaml:"param,omitempty"`
	Value  any         `json:"value,omitempty" yaml:"value,omitempty"`
	Step   string      `json:"step,omitempty" yaml:"step,omitempty"`
	Output string      `json:"output,omitempty" yaml:"output,omitempty"`
}

// Input is anything that can feed a step input: a ParamRef, an OutputRef or a constant.
type Input interface {
	binding() (Binding, *Builder)
}

// Inputs maps input names to their sources.
type Inputs map[string]Input

// ParamRef refers to a parameter declared on a Builder.
type ParamRef struct {
	b    *Builder
	name string
}

// Name returns the parameter name.
func (p ParamRef) Name() string { return p.name }

func (p ParamRef) binding() (Binding, *Builder) {
	return Binding{Kind: BindParam, Param: p.name}, p.b
}

// OutputRef refers to a named output of a step. It is produced exactly once.
type OutputRef struct {
	b      *Builder
	step   string
	output string
}

// Step returns the producing step name.
func (o OutputRef) Step() string { return o.step }

// Name returns the output name.
func (o OutputRef) Name() string { return o.output }

func (o OutputRef) binding() (Binding, *Builder) {
	return Binding{Kind: BindOutput, Step: o.step, Output: o.output}, o.b
}

type constInput struct {
	value any
}

func (c constInput) binding() (Binding, *Builder) {
	return Binding{Kind: BindConst, Value: c.value}, nil
}

// StepRef is the handle returned by AddStep.
type StepRef struct {
	b    *Builder
	name string
}

// Name returns the step name.
func (s *StepRef) Name() string { return s.name }

// Output returns a reference to one of the step's declared outputs.
// Referencing an undeclared output is reported by Build.
func (s *StepRef) Output(name string) OutputRef {
	if st := s.b.steps[s.name]; st != nil && !contains(st.Outputs, name) {
		s.b.fail("step %q has no output %q", s.name, name)
	}
	return OutputRef{b: s.b, step: s.name, output: name}
}

// After adds order-only dependencies: the step runs only once every ref completed.
func (s *StepRef) After(refs ...*StepRef) *StepRef {
	st := s.b.steps[s.name]
	for _, ref := range refs {
		switch {
		case ref == nil:
			s.b.fail("step %q: nil step in After", s.name)
		case ref.b != s.b:
			s.b.fail("step %q: After references step %q of another builder", s.name, ref.name)
		case st != nil && !contains(st.After, ref.name):
			st.After = append(st.After, ref.name)
		}
	}
	return s
}

// DisplayName sets a human-readable name used in compiled specs and graphs.
func (s *StepRef) DisplayName(name string) *StepRef {
	if st := s.b.steps[s.name]; st != nil {
		st.DisplayName = name
	}
	return s
}

// MaskFailure lets the run continue when this step fails.
func (s *StepRef) MaskFailure() *StepRef {
	if st := s.b.steps[s.name]; st != nil {
		st.MaskFailure = true
	}
	return s
}

// Builder assembles a Graph. It is not safe for concurrent use.
type Builder struct {
	name   string
	params []Param
	pindex map[string]bool
	order  []string
	steps  map[string]*Step
	errs   []error
	built  bool
}

// NewBuilder creates a builder for a pipeline called name.
func NewBuilder(name string) *Builder {
	b := &Builder{
		name:   name,
		pindex: make(map[string]bool),
		steps:  make(map[string]*Step),
	}
	if name == "" {
		b.fail("pipeline name is empty")
	}
	return b
}

// Param declares a pipeline parameter with its default value.
func (b *Builder) Param(name string, kind ParamKind, value any) ParamRef {
	switch {
	case name == "":
		b.fail("parameter name is empty")
	case b.pindex[name]:
		b.fail("parameter %q declared twice", name)
	default:
		if err := checkKind(kind, value); err != nil {
			b.fail("parameter %q: %v", name, err)
		}
		b.pindex[name] = true
		b.params = append(b.params, Param{Name: name, Kind: kind, Default: value})
	}
	return ParamRef{b: b, name: name}
}

// Const wraps a literal value as a step input.
func (b *Builder) Const(v any) Input {
	return constInput{value: v}
}

// AddStep declares a step. component names the implementation for Registry
// lookups; outputs lists every output the step function must produce.
func (b *Builder) AddStep(name, component string, inputs Inputs, fn StepFunc, outputs ...string) *StepRef {
	ref := &StepRef{b: b, name: name}
	switch {
	case name == "":
		b.fail("step name is empty")
		return ref
	case b.steps[name] != nil:
		b.fail("step %q declared twice", name)
		return ref
	case fn == nil:
		b.fail("step %q has no function", name)
	}

	st := &Step{
		Name:      name,
		Component: component,
		Inputs:    make(map[string]Binding, len(inputs)),
		Outputs:   dedupe(outputs),
		fn:        fn,
	}
	if len(st.Outputs) != len(outputs) {
		b.fail("step %q declares an output twice", name)
	}
	for _, key := range sortedKeys(inputs) {
		in := inputs[key]
		if in == nil {
			b.fail("step %q: input %q is nil", name, key)
			continue
		}
		bind, owner := in.binding()
		if owner != nil && owner != b {
			b.fail("step %q: input %q refers to another builder", name, key)
			continue
		}
		if bind.Kind == BindParam && !b.pindex[bind.Param] {
			b.fail("step %q: input %q refers to unknown parameter %q", name, key, bind.Param)
		}
		if bind.Kind == BindOutput && bind.Step == name {
			b.fail("step %q: input %q refers to its own output", name, key)
		}
		st.Inputs[key] = bind
	}

	b.steps[name] = st
	b.order = append(b.order, name)
	return ref
}

// Build validates the declarations and returns the immutable Graph.
// All wiring errors are reported together.
func (b *Builder) Build() (*Graph, error) {
	if b.built {
		return nil, errors.InvalidGraph(fmt.Sprintf("pipeline %q already built", b.name))
	}
	for _, name := range b.order {
		st := b.steps[name]
		for _, key := range sortedKeys(st.Inputs) {
			bind := st.Inputs[key]
			if bind.Kind != BindOutput {
				continue
			}
			producer := b.steps[bind.Step]
			if producer == nil {
				b.fail("step %q: input %q refers to unknown step %q", name, key, bind.Step)
				continue
			}
			if !contains(producer.Outputs, bind.Output) {
				b.fail("step %q: input %q refers to undeclared output %s.%s", name, key, bind.Step, bind.Output)
			}
		}
		for _, dep := range st.After {
			if b.steps[dep] == nil {
				b.fail("step %q runs after unknown step %q", name, dep)
			}
		}
	}
	if len(b.errs) > 0 {
		return nil, stderrors.Join(b.errs...)
	}

	g, err := newGraph(b.name, b.params, b.order, b.steps)
	if err != nil {
		return nil, err
	}
	b.built = true
	return g, nil
}

func (b *Builder) fail(format string, args ...any) {
	b.errs = append(b.errs, errors.InvalidGraph(fmt.Sprintf(format, args...)))
}

func checkKind(kind ParamKind, v any) error {
	ok := false
	switch kind {
	case KindString:
		_, ok = v.(string)
	case KindInt:
		_, ok = v.(int)
	case KindFloat:
		_, ok = v.(float64)
	case KindBool:
		_, ok = v.(bool)
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	if !ok {
		return fmt.Errorf("default %v (%T) is not a %s", v, v, kind)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
