// Package ports defines the interfaces between the orchestrator core and the
// outside world: the execution capability each worker instance holds, the
// event bus, result/session storage, rate limiting and metrics.
//
// Adapters under pkg/adapters implement these; the core never imports an
// adapter package.
package ports
