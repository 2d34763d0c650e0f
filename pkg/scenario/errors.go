package scenario

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when Run is called while another run of the
// same runner is still executing.
var ErrRunInProgress = errors.New("scenario run already in progress")

// StepError wraps the failure that halted a run, identifying the step.
type StepError struct {
	ScenarioName string
	StepID       string
	StepName     string
	Index        int
	Err          error
}

func (e *StepError) Error() string {
	label := e.StepName
	if label == "" {
		label = e.StepID
	}
	return fmt.Sprintf("scenario %q: step %d (%s): %v", e.ScenarioName, e.Index+1, label, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// AssertionError reports a step assertion that evaluated to false.
type AssertionError struct {
	Expression string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s", e.Expression)
}

// StatusError reports a completed request whose status was outside 2xx.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}
