// Package domain holds the value types and error taxonomy shared between the
// orchestrator core and its adapters. Nothing here has behavior beyond
// error wrapping; all state transitions live in internal/application.
package domain
