// Package ratelimit provides per-caller sliding-window rate limiters.
//
// Implementations:
//   - redis: sorted-set window shared across processes
//   - memory: in-process window for testing and single-node use
package ratelimit
