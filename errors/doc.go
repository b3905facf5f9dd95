// Package errors defines AppError, the error type returned across the
// pipeline, and its codes.
//
// Graph construction fails with INVALID_GRAPH or TEMPLATE_ERROR. A run
// fails with STEP_FAILED wrapping the cause raised by the step, such as
// ANOMALIES_DETECTED from the anomaly gate or NOT_FOUND for a missing model.
// HasCode and StepOf look through the whole chain.
package errors
