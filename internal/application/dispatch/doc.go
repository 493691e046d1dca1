// Package dispatch drives submitted jobs to a terminal state.
//
// The dispatcher enforces per-caller rate limits on submission, runs a
// fixed number of processing workers over a priority-aware FIFO queue, and
// retries failed attempts with exponential backoff. Retried jobs rejoin
// the queue at the tail so failure storms cannot starve fresh submissions.
package dispatch
