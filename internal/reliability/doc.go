// Package reliability provides retry policies used by the pipeline when a
// transport delivery attempt fails. The pipeline defaults to LinearBackoff
// with the queue's configured retry delay; exponential backoff is available
// for callers that want it.
package reliability
