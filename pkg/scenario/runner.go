package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/apiprobe/apiprobe/pkg/history"
	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/pkg/request"
	"github.com/apiprobe/apiprobe/pkg/variables"
)

// Observer receives step lifecycle events during a run. Implementations
// must be fast; they run inline between steps.
type Observer interface {
	// StepStarted fires before the step's request is sent.
	StepStarted(sc *Scenario, step *Step, index int)

	// StepFinished fires after the step settles, with the response when
	// one was received and the error that halted the run, if any.
	StepFinished(sc *Scenario, step *Step, index int, result *request.Result, err error)
}

type nopObserver struct{}

func (nopObserver) StepStarted(*Scenario, *Step, int) {}

func (nopObserver) StepFinished(*Scenario, *Step, int, *request.Result, error) {}

// Runner executes scenarios one step at a time. A runner executes at most
// one scenario at a time; concurrent Run calls fail with ErrRunInProgress.
type Runner struct {
	exec *request.Executor
	vars *variables.Store
	hist *history.Store
	obs  Observer
	log  *slog.Logger

	running sync.Mutex

	programMu    sync.RWMutex
	programCache map[string]*vm.Program
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHistory records every executed step into the given history store.
func WithHistory(h *history.Store) RunnerOption {
	return func(r *Runner) {
		r.hist = h
	}
}

// WithObserver sets the step lifecycle observer.
func WithObserver(obs Observer) RunnerOption {
	return func(r *Runner) {
		if obs != nil {
			r.obs = obs
		}
	}
}

// WithLogger sets the runner's logger.
func WithLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner creates a runner that sends requests through exec and reads
// and writes variables in vars.
func NewRunner(exec *request.Executor, vars *variables.Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		exec:         exec,
		vars:         vars,
		obs:          nopObserver{},
		log:          logging.Nop(),
		programCache: make(map[string]*vm.Program),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the scenario's steps in order. All statuses are reset to
// pending first. A step fails when its request errors at the transport
// level, returns a non-2xx status, or its assertion evaluates false; the
// first failure marks that step error, leaves later steps pending, and
// halts the run. Steps after the failed one are never sent.
func (r *Runner) Run(ctx context.Context, sc *Scenario) error {
	if !r.running.TryLock() {
		return ErrRunInProgress
	}
	defer r.running.Unlock()

	sc.ResetStatuses()
	r.log.Info("scenario run started", "scenario", sc.Name, "steps", len(sc.Steps))

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			step.Status = StepStatusError
			step.Error = err.Error()
			return &StepError{ScenarioName: sc.Name, StepID: step.ID, StepName: step.Name, Index: i, Err: err}
		}

		step.Status = StepActive
		r.obs.StepStarted(sc, step, i)
		result, err := r.runStep(ctx, step)
		r.record(step, result, err)
		r.obs.StepFinished(sc, step, i, result, err)

		if err != nil {
			step.Status = StepStatusError
			step.Error = err.Error()
			r.log.Warn("scenario step failed", "scenario", sc.Name, "step", i+1, "error", err)
			return &StepError{ScenarioName: sc.Name, StepID: step.ID, StepName: step.Name, Index: i, Err: err}
		}

		step.Status = StepSuccess
		r.log.Debug("scenario step succeeded", "scenario", sc.Name, "step", i+1, "status", result.Status)

		if step.DelayMs > 0 && i < len(sc.Steps)-1 {
			if err := sleep(ctx, time.Duration(step.DelayMs)*time.Millisecond); err != nil {
				return err
			}
		}
	}

	r.log.Info("scenario run finished", "scenario", sc.Name)
	return nil
}

// runStep sends one step's request and applies its assertion and variable
// extraction.
func (r *Runner) runStep(ctx context.Context, step *Step) (*request.Result, error) {
	result, err := r.exec.Do(ctx, &step.Request, r.vars)
	if err != nil {
		return nil, err
	}
	step.Result = result

	// Extraction runs before the status branch so error-response bodies
	// still feed the variable store.
	if len(step.Extract) > 0 {
		changed := r.vars.ExtractFromResponse(result.Data, step.Extract)
		for name := range changed {
			r.log.Debug("extracted variable", "name", name)
		}
	}

	if !result.OK {
		return result, &StatusError{Status: result.Status, Message: request.ErrorMessage(result)}
	}

	if step.Assert != "" {
		if err := r.evalAssertion(step.Assert, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// evalAssertion compiles and runs a boolean expression against the
// response. Programs are cached per expression.
func (r *Runner) evalAssertion(expression string, result *request.Result) error {
	program, err := r.compile(expression)
	if err != nil {
		return fmt.Errorf("compile assertion %q: %w", expression, err)
	}

	env := map[string]any{
		"status":     result.Status,
		"ok":         result.OK,
		"data":       result.Data,
		"durationMs": result.DurationMs,
		"vars":       r.vars.All(),
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("eval assertion %q: %w", expression, err)
	}
	pass, ok := out.(bool)
	if !ok {
		return fmt.Errorf("assertion %q did not produce a boolean", expression)
	}
	if !pass {
		return &AssertionError{Expression: expression}
	}
	return nil
}

func (r *Runner) compile(expression string) (*vm.Program, error) {
	r.programMu.RLock()
	program, ok := r.programCache[expression]
	r.programMu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	r.programMu.Lock()
	if existing, ok := r.programCache[expression]; ok {
		r.programMu.Unlock()
		return existing, nil
	}
	r.programCache[expression] = program
	r.programMu.Unlock()
	return program, nil
}

// record writes the step outcome into the history store, when configured.
func (r *Runner) record(step *Step, result *request.Result, err error) {
	if r.hist == nil {
		return
	}

	req := history.RequestInfo{
		Method:  step.Request.Method,
		Path:    step.Request.Path,
		Headers: step.Request.Headers,
		Body:    step.Request.Body,
	}
	resp := history.ResponseInfo{}

	switch {
	case result != nil:
		req.URL = result.URL
		resp.Status = result.Status
		resp.StatusText = result.StatusText
		resp.Data = result.Data
		resp.DurationMs = result.DurationMs
		resp.Success = result.OK
	case err != nil:
		req.URL = failedURL(err)
		resp.Error = err.Error()
	}
	if err != nil {
		resp.Success = false
		if resp.Error == "" {
			resp.Error = err.Error()
		}
	}
	r.hist.AddEntry(req, resp)
}

// failedURL recovers the target URL from a transport-level error.
func failedURL(err error) string {
	var te *request.TimeoutError
	if errors.As(err, &te) {
		return te.URL
	}
	var tre *request.TransportError
	if errors.As(err, &tre) {
		return tre.URL
	}
	return ""
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
