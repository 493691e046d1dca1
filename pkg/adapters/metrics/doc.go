// Package metrics groups the metrics collector adapters.
package metrics
