package dag

import (
	"io"

	"github.com/dominikbraun/graph/draw"
)

// WriteDOT renders the graph in Graphviz DOT format. Data edges are solid and
// order-only edges are dashed.
func WriteDOT(g *Graph, w io.Writer) error {
	return draw.DOT(g.g, w)
}
