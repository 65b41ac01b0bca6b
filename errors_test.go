package courier_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

func TestValidationError(t *testing.T) {
	err := courier.NewValidationError("to[1]", "subscriber %q appears more than once", "alice")
	if got, want := err.Error(), `courier: invalid to[1]: subscriber "alice" appears more than once`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	wrapped := fmt.Errorf("trigger: %w", err)
	if !errors.Is(wrapped, courier.ErrValidation) {
		t.Error("wrapped ValidationError should match ErrValidation")
	}
	if errors.Is(wrapped, courier.ErrExecution) {
		t.Error("ValidationError should not match ErrExecution")
	}
	var verr *courier.ValidationError
	if !errors.As(wrapped, &verr) || verr.Field != "to[1]" {
		t.Errorf("errors.As = %+v", verr)
	}

	noField := &courier.ValidationError{Reason: "empty request"}
	if got := noField.Error(); got != "courier: invalid input: empty request" {
		t.Errorf("Error() = %q", got)
	}
}

func TestExecutionError(t *testing.T) {
	cause := errors.New("gateway down")
	jobID := id.NewJobID()
	err := &courier.ExecutionError{JobID: jobID, Stage: courier.StageDeliver, Err: cause}

	if !errors.Is(err, courier.ErrExecution) {
		t.Error("ExecutionError should match ErrExecution")
	}
	if !errors.Is(err, cause) {
		t.Error("ExecutionError should unwrap to its cause")
	}
	if errors.Is(err, courier.ErrValidation) {
		t.Error("ExecutionError should not match ErrValidation")
	}
	want := "courier: job " + jobID.String() + " failed at deliver: gateway down"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var execErr *courier.ExecutionError
	if !errors.As(fmt.Errorf("pool: %w", err), &execErr) || execErr.Stage != courier.StageDeliver {
		t.Errorf("errors.As = %+v", execErr)
	}
}

func TestExecutionError_NilCause(t *testing.T) {
	jobID := id.NewJobID()
	err := &courier.ExecutionError{JobID: jobID, Stage: courier.StageDispatch}
	if got, want := err.Error(), "courier: job "+jobID.String()+" failed at dispatch"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if err.Unwrap() != nil {
		t.Error("Unwrap() should be nil")
	}
}
