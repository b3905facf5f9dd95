// Package compiler turns a built pipeline graph into a portable definition
// and rebuilds runnable graphs from such definitions.
package compiler

import (
	"fmt"
	"math"

	"github.com/kbukum/batchpredict/dag"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/version"
)

// SchemaVersion identifies the layout of Spec.
const SchemaVersion = "batchpredict/v1"

// Spec is the serialised form of a graph.
type Spec struct {
	SchemaVersion string      `json:"schema_version" yaml:"schema_version"`
	Pipeline      string      `json:"pipeline" yaml:"pipeline"`
	Builder       string      `json:"builder" yaml:"builder"`
	Params        []dag.Param `json:"params" yaml:"params"`
	Steps         []StepSpec  `json:"steps" yaml:"steps"`
	Order         []string    `json:"order" yaml:"order"`
	Levels        [][]string  `json:"levels" yaml:"levels"`
}

// StepSpec describes one step and the edges that lead into it.
type StepSpec struct {
	Name         string                 `json:"name" yaml:"name"`
	Component    string                 `json:"component" yaml:"component"`
	DisplayName  string                 `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Inputs       map[string]dag.Binding `json:"inputs" yaml:"inputs"`
	Outputs      []string               `json:"outputs" yaml:"outputs"`
	After        []string               `json:"after,omitempty" yaml:"after,omitempty"`
	MaskFailure  bool                   `json:"mask_failure,omitempty" yaml:"mask_failure,omitempty"`
	Dependencies []dag.Edge             `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// FromGraph describes g. Steps are listed in topological order.
func FromGraph(g *dag.Graph) *Spec {
	s := &Spec{
		SchemaVersion: SchemaVersion,
		Pipeline:      g.Name(),
		Builder:       version.Builder(),
		Params:        g.Params(),
		Order:         g.TopologicalOrder(),
		Levels:        g.Levels(),
	}
	for _, name := range s.Order {
		st, _ := g.Step(name)
		s.Steps = append(s.Steps, StepSpec{
			Name:         st.Name,
			Component:    st.Component,
			DisplayName:  st.DisplayName,
			Inputs:       st.Inputs,
			Outputs:      st.Outputs,
			After:        st.After,
			MaskFailure:  st.MaskFailure,
			Dependencies: g.Dependencies(name),
		})
	}
	return s
}

// Graph rebuilds a runnable graph, taking step functions from reg.
// The definition goes through the Builder, so it is validated the same way
// as a graph declared in code.
func (s *Spec) Graph(reg *dag.Registry) (*dag.Graph, error) {
	if s.SchemaVersion != SchemaVersion {
		return nil, errors.InvalidFormat("schema_version", SchemaVersion).WithDetail("value", s.SchemaVersion)
	}
	b := dag.NewBuilder(s.Pipeline)

	params := make(map[string]dag.ParamRef, len(s.Params))
	for _, p := range s.Params {
		v, err := coerce(p.Kind, p.Default)
		if err != nil {
			return nil, errors.InvalidInput(p.Name, err.Error())
		}
		params[p.Name] = b.Param(p.Name, p.Kind, v)
	}

	refs := make(map[string]*dag.StepRef, len(s.Steps))
	for _, st := range s.Steps {
		fn, ok := reg.Get(st.Component)
		if !ok {
			return nil, errors.InvalidGraph(fmt.Sprintf("step %q: component %q is not registered", st.Name, st.Component))
		}
		inputs := make(dag.Inputs, len(st.Inputs))
		for key, bind := range st.Inputs {
			in, err := input(b, params, refs, bind)
			if err != nil {
				return nil, errors.InvalidGraph(fmt.Sprintf("step %q: input %q: %v", st.Name, key, err))
			}
			inputs[key] = in
		}

		ref := b.AddStep(st.Name, st.Component, inputs, fn, st.Outputs...)
		for _, after := range st.After {
			dep, ok := refs[after]
			if !ok {
				return nil, errors.InvalidGraph(fmt.Sprintf("step %q runs after unknown or later step %q", st.Name, after))
			}
			ref.After(dep)
		}
		if st.DisplayName != "" {
			ref.DisplayName(st.DisplayName)
		}
		if st.MaskFailure {
			ref.MaskFailure()
		}
		refs[st.Name] = ref
	}
	return b.Build()
}

func input(b *dag.Builder, params map[string]dag.ParamRef, refs map[string]*dag.StepRef, bind dag.Binding) (dag.Input, error) {
	switch bind.Kind {
	case dag.BindParam:
		p, ok := params[bind.Param]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", bind.Param)
		}
		return p, nil
	case dag.BindConst:
		return b.Const(bind.Value), nil
	case dag.BindOutput:
		ref, ok := refs[bind.Step]
		if !ok {
			return nil, fmt.Errorf("unknown or later step %q", bind.Step)
		}
		return ref.Output(bind.Output), nil
	default:
		return nil, fmt.Errorf("unknown binding kind %q", bind.Kind)
	}
}

// coerce restores the Go type of a decoded parameter default. JSON decodes
// every number as float64 and YAML picks int or float by literal.
func coerce(kind dag.ParamKind, v any) (any, error) {
	switch kind {
	case dag.KindInt:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case uint64:
			return int(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("%v is not an integer", x)
			}
			return int(x), nil
		}
	case dag.KindFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		}
	case dag.KindString:
		if x, ok := v.(string); ok {
			return x, nil
		}
	case dag.KindBool:
		if x, ok := v.(bool); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("default %v (%T) does not fit kind %s", v, v, kind)
}
