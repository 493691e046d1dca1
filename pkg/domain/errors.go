package domain

import "errors"

// Error taxonomy for the orchestrator core. Callers match these with
// errors.Is; downstream failures are wrapped, never surfaced raw.
var (
	// ErrCapacity means the pool is at maxInstances and nothing can be created.
	ErrCapacity = errors.New("pool at maximum capacity")

	// ErrProvisioning means materializing a new worker instance failed.
	ErrProvisioning = errors.New("instance provisioning failed")

	// ErrNoInstanceAvailable means Acquire timed out with every instance busy.
	ErrNoInstanceAvailable = errors.New("no instance available")

	// ErrRateLimitExceeded means the caller exhausted its request window.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrExecutionTimeout means the capability call exceeded its deadline.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrShuttingDown is returned to every queued job and parked waiter on shutdown.
	ErrShuttingDown = errors.New("orchestrator shutting down")

	// ErrNotFound means the referenced job or instance does not exist.
	ErrNotFound = errors.New("not found")
)

// ExecutionError wraps a downstream capability failure. Retryable by default;
// a terminal error signals the dispatcher to stop retrying.
type ExecutionError struct {
	Err      error
	Terminal bool
}

func (e *ExecutionError) Error() string {
	return "execution failed: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError wraps a retryable downstream failure.
func NewExecutionError(err error) *ExecutionError {
	return &ExecutionError{Err: err}
}

// NewTerminalError wraps a downstream failure that must not be retried.
func NewTerminalError(err error) *ExecutionError {
	return &ExecutionError{Err: err, Terminal: true}
}

// IsTerminal reports whether err carries an explicit non-retry signal.
func IsTerminal(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Terminal
	}
	return false
}
