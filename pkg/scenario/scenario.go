// Package scenario defines ordered multi-step request flows and a runner
// that executes them sequentially, extracting variables between steps and
// halting on the first failure.
package scenario

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/apiprobe/apiprobe/pkg/request"
	"github.com/apiprobe/apiprobe/pkg/variables"
)

// StepStatus tracks where a step is in a run.
type StepStatus string

const (
	// StepPending means the step has not run yet in the current run.
	StepPending StepStatus = "pending"

	// StepActive means the step's request is in flight.
	StepActive StepStatus = "active"

	// StepSuccess means the step completed with a 2xx response and its
	// assertion, if any, held.
	StepSuccess StepStatus = "success"

	// StepStatusError means the step failed and halted the run.
	StepStatusError StepStatus = "error"
)

// Step is one request in a scenario.
type Step struct {
	// ID identifies the step within its scenario.
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable label.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Request is the HTTP call to make. Its fields may reference
	// {{variables}} set by earlier steps.
	Request request.Request `json:"request" yaml:"request"`

	// DelayMs pauses after this step before the next one starts.
	DelayMs int `json:"delayMs,omitempty" yaml:"delayMs,omitempty"`

	// Extract pulls variables out of the response for later steps.
	Extract []variables.ExtractionRule `json:"extract,omitempty" yaml:"extract,omitempty"`

	// Assert is an optional boolean expression evaluated against the
	// response, e.g. `status == 201 && data.id != nil`.
	Assert string `json:"assert,omitempty" yaml:"assert,omitempty"`

	// Status is the outcome of the step in the most recent run.
	Status StepStatus `json:"status,omitempty" yaml:"status,omitempty"`

	// Error holds the failure message when Status is StepStatusError.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Result is the response of the most recent execution. It is not
	// persisted with the scenario.
	Result *request.Result `json:"-" yaml:"-"`
}

// Scenario is an ordered list of steps run against one base URL.
type Scenario struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	BaseURL     string    `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Steps       []*Step   `json:"steps" yaml:"steps"`
	CreatedAt   time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Parse decodes a scenario from YAML or JSON and validates it. Steps
// without an id are assigned one.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	for _, step := range sc.Steps {
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
	}
	return &sc, nil
}

// LoadFile reads and parses a scenario file.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return Parse(data)
}

// Validate checks the scenario for structural problems.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}
	for i, step := range s.Steps {
		if step == nil {
			return fmt.Errorf("scenario %q: step %d is empty", s.Name, i)
		}
		if step.Request.Method == "" {
			return fmt.Errorf("scenario %q: step %d has no method", s.Name, i)
		}
		if step.Request.Path == "" {
			return fmt.Errorf("scenario %q: step %d has no path", s.Name, i)
		}
		for _, rule := range step.Extract {
			if rule.Name == "" || rule.Path == "" {
				return fmt.Errorf("scenario %q: step %d has an extraction rule missing name or path", s.Name, i)
			}
		}
	}
	return nil
}

// ResetStatuses marks every step pending and clears previous run state.
func (s *Scenario) ResetStatuses() {
	for _, step := range s.Steps {
		step.Status = StepPending
		step.Error = ""
		step.Result = nil
	}
}

// MoveStepUp swaps the step at index i with its predecessor. It reports
// whether a move happened.
func (s *Scenario) MoveStepUp(i int) bool {
	if i <= 0 || i >= len(s.Steps) {
		return false
	}
	s.Steps[i-1], s.Steps[i] = s.Steps[i], s.Steps[i-1]
	return true
}

// MoveStepDown swaps the step at index i with its successor. It reports
// whether a move happened.
func (s *Scenario) MoveStepDown(i int) bool {
	if i < 0 || i >= len(s.Steps)-1 {
		return false
	}
	s.Steps[i], s.Steps[i+1] = s.Steps[i+1], s.Steps[i]
	return true
}

// StepIndex returns the index of the step with the given id, or -1.
func (s *Scenario) StepIndex(stepID string) int {
	for i, step := range s.Steps {
		if step.ID == stepID {
			return i
		}
	}
	return -1
}
