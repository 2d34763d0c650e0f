package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/apiprobe/apiprobe/pkg/cli/internal/output"
)

var varsCmd = &cobra.Command{
	Use:   "vars",
	Short: "Manage stored variables",
	Long: `Variables are {{name}} tokens substituted into request paths, headers,
parameters, and bodies. They are set manually or extracted from responses,
and persist across sessions.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		all := app.Vars.All()
		return printResult(all, func() {
			if len(all) == 0 {
				fmt.Println("No variables set.")
				return
			}
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)
			w := output.Table()
			fmt.Fprintln(w, "NAME\tVALUE")
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%s\n", name, compactJSON(all[name]))
			}
			w.Flush()
		})
	},
}

var varsGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Print one variable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		value, ok := app.Vars.Get(args[0])
		if !ok {
			return fmt.Errorf("variable %q is not set", args[0])
		}
		return printResult(map[string]any{args[0]: value}, func() {
			fmt.Println(compactJSON(value))
		})
	},
}

var varsSetCmd = &cobra.Command{
	Use:   "set NAME VALUE",
	Short: "Set a variable",
	Long: `Set a variable. VALUE is parsed as JSON when possible, so numbers,
booleans, arrays, and objects keep their types; anything else is stored as
a string.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()

		var value any
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			value = args[1]
		}
		app.Vars.Set(args[0], value)
		fmt.Fprintf(cmd.ErrOrStderr(), "set %s = %s\n", args[0], compactJSON(value))
		return nil
	},
}

var varsDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a variable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		app.Vars.Delete(args[0])
		fmt.Fprintln(cmd.ErrOrStderr(), "deleted", args[0])
		return nil
	},
}

var varsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all variables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		n := app.Vars.Len()
		app.Vars.Clear()
		fmt.Fprintf(cmd.ErrOrStderr(), "cleared %d variables\n", n)
		return nil
	},
}

func init() {
	varsCmd.AddCommand(varsGetCmd, varsSetCmd, varsDeleteCmd, varsClearCmd)
	rootCmd.AddCommand(varsCmd)
}

func compactJSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
