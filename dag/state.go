package dag

import (
	"fmt"
	"sync"
)

// Values carries named step inputs or outputs.
type Values map[string]any

// Arg retrieves a typed value by key.
// Returns an error if the key is missing or the type doesn't match.
func Arg[T any](v Values, key string) (T, error) {
	var zero T
	raw, ok := v[key]
	if !ok {
		return zero, fmt.Errorf("dag: value %q not found", key)
	}
	val, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("dag: value %q: expected %T, got %T", key, zero, raw)
	}
	return val, nil
}

// State is a thread-safe store of parameters and step outputs for one run.
type State struct {
	mu      sync.RWMutex
	params  map[string]any
	outputs map[string]Values
}

// NewState creates a State seeded with parameter values.
func NewState(params map[string]any) *State {
	s := &State{
		params:  make(map[string]any, len(params)),
		outputs: make(map[string]Values),
	}
	for k, v := range params {
		s.params[k] = v
	}
	return s
}

// Param returns a parameter value.
func (s *State) Param(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.params[name]
	return v, ok
}

// Output returns a value produced by a completed step.
func (s *State) Output(step, name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.outputs[step][name]
	return v, ok
}

// Outputs returns a copy of everything a step produced.
func (s *State) Outputs(step string) Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Values, len(s.outputs[step]))
	for k, v := range s.outputs[step] {
		out[k] = v
	}
	return out
}

func (s *State) setOutputs(step string, v Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[step] = v
}

// resolve builds the input Values for a step from its bindings.
func (s *State) resolve(st *Step) (Values, error) {
	in := make(Values, len(st.Inputs))
	for key, bind := range st.Inputs {
		switch bind.Kind {
		case BindParam:
			v, ok := s.Param(bind.Param)
			if !ok {
				return nil, fmt.Errorf("input %q: parameter %q has no value", key, bind.Param)
			}
			in[key] = v
		case BindConst:
			in[key] = bind.Value
		case BindOutput:
			v, ok := s.Output(bind.Step, bind.Output)
			if !ok {
				return nil, fmt.Errorf("input %q: output %s.%s not produced", key, bind.Step, bind.Output)
			}
			in[key] = v
		default:
			return nil, fmt.Errorf("input %q: unknown binding kind %q", key, bind.Kind)
		}
	}
	return in, nil
}
