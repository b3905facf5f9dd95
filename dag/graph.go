package dag

import (
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"

	"github.com/kbukum/batchpredict/errors"
)

// EdgeKind distinguishes data flow from pure ordering.
type EdgeKind string

const (
	// EdgeData means To consumes an output of From.
	EdgeData EdgeKind = "data"
	// EdgeOrder means To must wait for From but reads nothing from it.
	EdgeOrder EdgeKind = "order"
)

// Edge represents a dependency: To depends on From.
type Edge struct {
	From string   `json:"from" yaml:"from"`
	To   string   `json:"to" yaml:"to"`
	Kind EdgeKind `json:"kind" yaml:"kind"`
}

// Step is a declared unit of work.
type Step struct {
	Name        string             `json:"name" yaml:"name"`
	Component   string             `json:"component" yaml:"component"`
	DisplayName string             `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Inputs      map[string]Binding `json:"inputs" yaml:"inputs"`
	Outputs     []string           `json:"outputs" yaml:"outputs"`
	After       []string           `json:"after,omitempty" yaml:"after,omitempty"`
	MaskFailure bool               `json:"mask_failure,omitempty" yaml:"mask_failure,omitempty"`

	fn StepFunc
}

// Label returns the display name, falling back to the step name.
func (s Step) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}

func (s Step) clone() Step {
	c := s
	c.Inputs = make(map[string]Binding, len(s.Inputs))
	for k, v := range s.Inputs {
		c.Inputs[k] = v
	}
	c.Outputs = append([]string(nil), s.Outputs...)
	c.After = append([]string(nil), s.After...)
	return c
}

// Graph is the validated, immutable result of Builder.Build.
type Graph struct {
	name   string
	params []Param
	order  []string
	steps  map[string]*Step
	edges  []Edge
	deps   map[string][]Edge
	levels [][]string
	topo   []string
	g      graph.Graph[string, string]
}

func newGraph(name string, params []Param, order []string, steps map[string]*Step) (*Graph, error) {
	dg := graph.New(graph.StringHash, graph.Directed(), graph.Acyclic(), graph.PreventCycles())
	index := make(map[string]int, len(order))
	for i, n := range order {
		index[n] = i
		if err := dg.AddVertex(n, graph.VertexAttribute("label", steps[n].Label())); err != nil {
			return nil, errors.InvalidGraph(fmt.Sprintf("step %q: %v", n, err))
		}
	}

	edges := collectEdges(order, steps)
	var errs []error
	for _, e := range edges {
		var opts []func(*graph.EdgeProperties)
		if e.Kind == EdgeOrder {
			opts = append(opts, graph.EdgeAttribute("style", "dashed"))
		}
		if err := dg.AddEdge(e.From, e.To, opts...); err != nil {
			if stderrors.Is(err, graph.ErrEdgeCreatesCycle) {
				errs = append(errs, errors.InvalidGraph(fmt.Sprintf("dependency %s -> %s creates a cycle", e.From, e.To)))
				continue
			}
			errs = append(errs, errors.InvalidGraph(fmt.Sprintf("dependency %s -> %s: %v", e.From, e.To, err)))
		}
	}
	if len(errs) > 0 {
		return nil, stderrors.Join(errs...)
	}

	topo, err := graph.StableTopologicalSort(dg, func(a, b string) bool { return index[a] < index[b] })
	if err != nil {
		return nil, errors.InvalidGraph(fmt.Sprintf("topological sort: %v", err))
	}

	deps := make(map[string][]Edge, len(order))
	for _, e := range edges {
		deps[e.To] = append(deps[e.To], e)
	}

	levels, err := buildLevels(order, edges)
	if err != nil {
		return nil, err
	}

	return &Graph{
		name:   name,
		params: params,
		order:  order,
		steps:  steps,
		edges:  edges,
		deps:   deps,
		levels: levels,
		topo:   topo,
		g:      dg,
	}, nil
}

// collectEdges derives one edge per ordered pair. A data binding wins over an After.
func collectEdges(order []string, steps map[string]*Step) []Edge {
	kinds := make(map[[2]string]EdgeKind)
	var pairs [][2]string
	add := func(from, to string, kind EdgeKind) {
		key := [2]string{from, to}
		prev, seen := kinds[key]
		if !seen {
			pairs = append(pairs, key)
		}
		if !seen || prev == EdgeOrder {
			kinds[key] = kind
		}
	}
	for _, name := range order {
		st := steps[name]
		for _, key := range sortedKeys(st.Inputs) {
			if bind := st.Inputs[key]; bind.Kind == BindOutput {
				add(bind.Step, name, EdgeData)
			}
		}
		for _, dep := range st.After {
			add(dep, name, EdgeOrder)
		}
	}
	edges := make([]Edge, 0, len(pairs))
	for _, p := range pairs {
		edges = append(edges, Edge{From: p[0], To: p[1], Kind: kinds[p]})
	}
	return edges
}

// buildLevels uses Kahn's algorithm to group steps by dependency level.
// Steps within the same level can execute in parallel.
func buildLevels(order []string, edges []Edge) ([][]string, error) {
	inDegree := make(map[string]int, len(order))
	dependents := make(map[string][]string)
	for _, name := range order {
		inDegree[name] = 0
	}
	for _, e := range edges {
		inDegree[e.To]++
		dependents[e.From] = append(dependents[e.From], e.To)
	}

	var queue []string
	for _, name := range order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var levels [][]string
	visited := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		levels = append(levels, queue)
		visited += len(queue)

		var next []string
		for _, name := range queue {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if visited != len(order) {
		return nil, errors.InvalidGraph(fmt.Sprintf("cycle detected, ordered %d of %d steps", visited, len(order)))
	}
	return levels, nil
}

// Name returns the pipeline name.
func (g *Graph) Name() string { return g.name }

// Params returns the declared parameters in declaration order.
func (g *Graph) Params() []Param {
	return append([]Param(nil), g.params...)
}

// Steps returns every step in declaration order.
func (g *Graph) Steps() []Step {
	out := make([]Step, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.steps[name].clone())
	}
	return out
}

// Step returns a step by name.
func (g *Graph) Step(name string) (Step, bool) {
	st, ok := g.steps[name]
	if !ok {
		return Step{}, false
	}
	return st.clone(), true
}

// Edges returns every dependency edge.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Dependencies returns the edges that point into the named step.
func (g *Graph) Dependencies(name string) []Edge {
	return append([]Edge(nil), g.deps[name]...)
}

// Levels returns the steps grouped by dependency depth.
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, l := range g.levels {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// TopologicalOrder returns a deterministic order in which every step follows its dependencies.
func (g *Graph) TopologicalOrder() []string {
	return append([]string(nil), g.topo...)
}

func (g *Graph) fn(name string) StepFunc {
	return g.steps[name].fn
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
