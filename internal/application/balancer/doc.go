// Package balancer selects one instance from the pool's eligible set.
//
// Four strategies are supported: round-robin, least-connections,
// weighted-random and response-time. Selection runs inside the pool's
// critical section, paired atomically with busy-marking.
package balancer
