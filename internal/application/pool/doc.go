// Package pool implements the worker instance pool.
//
// The manager is the sole owner of the instance set and waiter queue:
//   - Creates instances up to the configured maximum, one capability each
//   - Hands instances to acquirers, parking them FIFO when everything is busy
//   - Recycles instances that are over-used, too old, stale or unhealthy
//   - Replenishes the pool back to its minimum after a recycle
//
// The health monitor probes idle instances on its own cadence and publishes
// a pool snapshot after every pass.
package pool
