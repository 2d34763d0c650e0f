package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/apiprobe/apiprobe/pkg/request"
	"github.com/apiprobe/apiprobe/pkg/scenario"
)

var runFlags struct {
	save    bool
	timeout time.Duration
	retries int
	quiet   bool
}

var runCmd = &cobra.Command{
	Use:   "run SCENARIO",
	Short: "Run a scenario",
	Long: `Run a scenario's steps in order. SCENARIO is either a YAML/JSON file or
the id of a stored scenario.

Each step's response can set variables via extraction rules, and later
steps may reference them with {{name}} tokens. The run halts at the first
failing step; steps after it are left pending and never sent.`,
	Example: `  # Run a scenario file
  apiprobe run login-flow.yaml

  # Run and store it for later
  apiprobe run login-flow.yaml --save

  # Run a stored scenario by id
  apiprobe run 4f7c9a12-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()

		sc, fromFile, err := resolveScenario(app, args[0])
		if err != nil {
			return err
		}
		if runFlags.save && fromFile {
			if err := app.Scenarios.Save(sc); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "saved scenario %s\n", sc.ID)
		}

		target := sc.BaseURL
		if target == "" {
			target = baseURL
		}
		if target == "" {
			return fmt.Errorf("no base URL configured (set baseUrl in the scenario, --base-url, or APIPROBE_BASE_URL)")
		}

		var execOpts []request.ExecutorOption
		if runFlags.timeout > 0 {
			execOpts = append(execOpts, request.WithTimeout(runFlags.timeout))
		}
		if runFlags.retries > 0 {
			execOpts = append(execOpts, request.WithRetries(runFlags.retries, time.Second))
		}
		exec := request.NewExecutor(target,
			append([]request.ExecutorOption{
				request.WithTokenSource(app.Tokens),
				request.WithLogger(app.Log),
			}, execOpts...)...)

		runnerOpts := []scenario.RunnerOption{
			scenario.WithHistory(app.History),
			scenario.WithLogger(app.Log),
		}
		if !jsonOutput && !runFlags.quiet {
			runnerOpts = append(runnerOpts, scenario.WithObserver(&progressObserver{total: len(sc.Steps)}))
		}

		runner := scenario.NewRunner(exec, app.Vars, runnerOpts...)
		runErr := runner.Run(cmd.Context(), sc)

		if jsonOutput {
			if err := jsonOut(runSummary(sc, runErr)); err != nil {
				return err
			}
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.save, "save", false, "Store the scenario after loading it from a file")
	runCmd.Flags().DurationVar(&runFlags.timeout, "timeout", 0, "Per-request timeout (default: 30s)")
	runCmd.Flags().IntVar(&runFlags.retries, "retries", 0, "Retries after transport failures")
	runCmd.Flags().BoolVarP(&runFlags.quiet, "quiet", "s", false, "Suppress step progress output")
	rootCmd.AddCommand(runCmd)
}

// resolveScenario loads the argument as a file when one exists at that
// path, otherwise as a stored scenario id.
func resolveScenario(app *App, arg string) (*scenario.Scenario, bool, error) {
	if _, err := os.Stat(arg); err == nil {
		sc, err := scenario.LoadFile(arg)
		return sc, true, err
	}
	sc, err := app.Scenarios.Get(arg)
	return sc, false, err
}

// progressObserver prints one line per step to stderr.
type progressObserver struct {
	total int
}

func (o *progressObserver) StepStarted(_ *scenario.Scenario, step *scenario.Step, index int) {
	fmt.Fprintf(os.Stderr, "[%d/%d] %s %s ... ", index+1, o.total, step.Request.Method, step.Request.Path)
}

func (o *progressObserver) StepFinished(_ *scenario.Scenario, step *scenario.Step, _ int, result *request.Result, err error) {
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "failed: %v\n", err)
	case result != nil:
		fmt.Fprintf(os.Stderr, "ok (%d, %dms)\n", result.Status, result.DurationMs)
	}
}

type stepSummary struct {
	Name   string              `json:"name,omitempty"`
	Method string              `json:"method"`
	Path   string              `json:"path"`
	Status scenario.StepStatus `json:"status"`
	Error  string              `json:"error,omitempty"`
}

func runSummary(sc *scenario.Scenario, runErr error) map[string]any {
	steps := make([]stepSummary, len(sc.Steps))
	for i, step := range sc.Steps {
		steps[i] = stepSummary{
			Name:   step.Name,
			Method: step.Request.Method,
			Path:   step.Request.Path,
			Status: step.Status,
			Error:  step.Error,
		}
	}
	out := map[string]any{
		"scenario": sc.Name,
		"success":  runErr == nil,
		"steps":    steps,
	}
	if runErr != nil {
		out["error"] = runErr.Error()
	}
	return out
}
