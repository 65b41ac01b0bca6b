package courier

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("courier: no store configured")
	ErrStoreClosed     = errors.New("courier: store closed")
	ErrMigrationFailed = errors.New("courier: migration failed")

	// Not found errors.
	ErrJobNotFound         = errors.New("courier: job not found")
	ErrTransactionNotFound = errors.New("courier: transaction not found")
	ErrTemplateNotFound    = errors.New("courier: template not found")
	ErrMessageNotFound     = errors.New("courier: message not found")

	// Conflict errors.
	ErrJobAlreadyExists     = errors.New("courier: job already exists")
	ErrMessageAlreadyExists = errors.New("courier: message already exists")

	// State errors.
	ErrConcurrency = errors.New("courier: status changed concurrently")
	ErrInvalidJob  = errors.New("courier: invalid job")

	// Class errors matched by the typed errors below.
	ErrValidation = errors.New("courier: validation failed")
	ErrExecution  = errors.New("courier: execution failed")
)

// ValidationError reports a malformed trigger or template. It is returned
// before any job is written.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "courier: invalid input: " + e.Reason
	}
	return fmt.Sprintf("courier: invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Execution stages reported by ExecutionError.
const (
	StageDispatch = "dispatch"
	StageRender   = "render"
	StageDeliver  = "deliver"
	StagePersist  = "persist"
)

// ExecutionError reports that a job's step failed. The job has been marked
// failed and its chain halted.
type ExecutionError struct {
	JobID ID
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("courier: job %s failed at %s", e.JobID, e.Stage)
	}
	return fmt.Sprintf("courier: job %s failed at %s: %v", e.JobID, e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExecution) match.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }
