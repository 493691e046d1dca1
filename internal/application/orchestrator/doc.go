// Package orchestrator implements the external surface of the worker pool.
//
// The manager coordinates the core components:
//   - Validating submissions before they consume queue capacity
//   - Exposing submit/await/stats/recycle to the API layer
//   - Owning startup and shutdown ordering across pool, monitor and dispatcher
//
// The validator ensures submissions are well-formed; validation failures are
// terminal and never retried.
package orchestrator
