package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/apiprobe/apiprobe/pkg/cli/internal/output"
	"github.com/apiprobe/apiprobe/pkg/scenario"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Manage stored scenarios",
}

var scenariosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		all, err := app.Scenarios.List()
		if err != nil {
			return err
		}
		return printResult(all, func() {
			if len(all) == 0 {
				fmt.Println("No stored scenarios. Save one with 'apiprobe run FILE --save'.")
				return
			}
			w := output.Table()
			fmt.Fprintln(w, "ID\tNAME\tSTEPS\tUPDATED")
			for _, sc := range all {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", sc.ID, sc.Name, len(sc.Steps), sc.UpdatedAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
		})
	},
}

var scenariosShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a stored scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		sc, err := app.Scenarios.Get(args[0])
		if err != nil {
			return err
		}
		return printResult(sc, func() {
			fmt.Printf("%s  (%s)\n", sc.Name, sc.ID)
			if sc.Description != "" {
				fmt.Println(sc.Description)
			}
			if sc.BaseURL != "" {
				fmt.Println("base URL:", sc.BaseURL)
			}
			w := output.Table()
			fmt.Fprintln(w, "#\tMETHOD\tPATH\tNAME\tSTATUS")
			for i, step := range sc.Steps {
				status := step.Status
				if status == "" {
					status = scenario.StepPending
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, step.Request.Method, step.Request.Path, step.Name, status)
			}
			w.Flush()
		})
	},
}

var scenariosSaveCmd = &cobra.Command{
	Use:   "save FILE",
	Short: "Store a scenario from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		sc, err := scenario.LoadFile(args[0])
		if err != nil {
			return err
		}
		if err := app.Scenarios.Save(sc); err != nil {
			return err
		}
		return printResult(sc, func() {
			fmt.Printf("saved scenario %q as %s\n", sc.Name, sc.ID)
		})
	},
}

var scenariosDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a stored scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		if err := app.Scenarios.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "deleted", args[0])
		return nil
	},
}

var scenariosMoveCmd = &cobra.Command{
	Use:   "move ID STEP up|down",
	Short: "Reorder a step within a stored scenario",
	Long:  `Move the step at 1-based position STEP one place up or down and save the scenario.`,
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		sc, err := app.Scenarios.Get(args[0])
		if err != nil {
			return err
		}

		pos, err := strconv.Atoi(args[1])
		if err != nil || pos < 1 || pos > len(sc.Steps) {
			return fmt.Errorf("step position must be between 1 and %d", len(sc.Steps))
		}
		index := pos - 1

		var moved bool
		switch args[2] {
		case "up":
			moved = sc.MoveStepUp(index)
		case "down":
			moved = sc.MoveStepDown(index)
		default:
			return fmt.Errorf("direction must be 'up' or 'down', got %q", args[2])
		}
		if !moved {
			return fmt.Errorf("cannot move step %d %s", pos, args[2])
		}

		if err := app.Scenarios.Save(sc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "moved step %d %s\n", pos, args[2])
		return nil
	},
}

func init() {
	scenariosCmd.AddCommand(scenariosListCmd, scenariosShowCmd, scenariosSaveCmd, scenariosDeleteCmd, scenariosMoveCmd)
	rootCmd.AddCommand(scenariosCmd)
}
