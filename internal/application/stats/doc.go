// Package stats derives utilization and throughput figures from the pool
// and dispatcher. Read-only; stats are recomputed on demand so they can
// never drift from the source of truth.
package stats
