// Package dag builds and executes pipelines of interdependent steps.
//
// A Builder declares typed parameters and steps. Each step names its inputs
// (a parameter, a constant, or another step's output) and the outputs it
// produces. Build validates the wiring and returns an immutable Graph whose
// edges are tagged EdgeData (an output flows into an input) or EdgeOrder (an
// explicit After constraint with no data).
//
// An Engine runs a Graph level by level. Steps in the same level have no
// dependency on each other and run concurrently. The first unmasked failure
// fails the run and nothing in a later level is scheduled.
//
//	b := dag.NewBuilder("prediction")
//	table := b.Param("table", dag.KindString, "taxi_trips")
//	ingest := b.AddStep("ingest", "warehouse.query", dag.Inputs{"table": table}, ingestFn, "table")
//	b.AddStep("extract", "warehouse.extract", dag.Inputs{"table": table}, extractFn, "uri").After(ingest)
//	g, err := b.Build()
//	res := (&dag.Engine{}).Run(ctx, g)
package dag
