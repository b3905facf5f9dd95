// Package provider wraps the collaborators a pipeline calls (warehouse,
// storage, statistics, model registry, inference) behind one generic
// interaction shape:
//
//	RequestResponse[I, O]: one input → one output
//
// Func adapts a plain function. Adapt changes the input/output types of an
// existing provider.
//
// # Middleware
//
// Middleware[I, O] is a function that wraps a RequestResponse provider.
// Use Chain to compose multiple middlewares:
//
//	wrapped := provider.Chain(
//	    provider.WithLogging[In, Out](log),
//	    provider.WithMetrics[In, Out](metrics),
//	    provider.WithTracing[In, Out]("warehouse"),
//	    provider.Resilient[In, Out](cfg.WithoutRetry()),
//	)(rawProvider)
package provider
