package orchestrator

import (
	"fmt"

	"github.com/icarrero/agentpool/internal/application/dispatch"
)

// maxPayloadBytes caps a single job payload; anything larger should go
// through external storage and be referenced by id.
const maxPayloadBytes = 1 << 20

// Validator validates job submissions before they reach the dispatcher.
type Validator struct{}

// NewValidator creates a new submission validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateSubmission checks a submission's shape. Validation failures are
// terminal: the dispatcher never sees the job, so there is nothing to retry.
func (v *Validator) ValidateSubmission(payload, callerID string, opts dispatch.SubmitOptions) error {
	if payload == "" {
		return fmt.Errorf("payload is required")
	}
	if len(payload) > maxPayloadBytes {
		return fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes)
	}
	if callerID == "" {
		return fmt.Errorf("caller id is required")
	}
	if opts.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative")
	}
	if opts.Priority < 0 {
		return fmt.Errorf("priority must not be negative")
	}
	return nil
}
