// Package resilience guards calls to pipeline collaborators.
//
// A CircuitBreaker fails fast once a collaborator keeps failing, a Bulkhead
// caps concurrent calls, and Retry repeats a call with exponential backoff.
// Steps of a run are never retried; Retry serves work outside a run, such as
// publishing a compiled definition:
//
//	err := resilience.RetryFunc(ctx, cfg.Publish, func() error {
//	    return store.WriteBytes(ctx, uri, data)
//	})
package resilience
