package provision

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrPoolFull   = errors.New("worker pool is at capacity")
	ErrPoolClosed = errors.New("worker pool is shut down")
)

// StepError reports which step of a job failed.
type StepError struct {
	Step   string
	Number int
	Err    error
}

func NewStepError(number int, step string, err error) *StepError {
	return &StepError{Step: step, Number: number, Err: err}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %s", e.Number, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Cause returns the innermost error, as reported by github.com/pkg/errors.
func (e *StepError) Cause() error {
	return errors.Cause(e.Err)
}
