package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apiprobe/apiprobe/pkg/cli/internal/output"
)

var historyFlags struct {
	method  string
	status  int
	failed  bool
	success bool
	search  string
	limit   int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse request history",
	Long: `List recorded requests, most recent first. Credential headers are
redacted and oversized bodies truncated before anything reaches disk.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()

		entries := app.History.Entries()
		switch {
		case historyFlags.search != "":
			entries = app.History.Search(historyFlags.search)
		case historyFlags.method != "":
			entries = app.History.FilterByMethod(historyFlags.method)
		case historyFlags.status != 0:
			entries = app.History.FilterByStatus(historyFlags.status)
		case historyFlags.failed:
			entries = app.History.FilterBySuccess(false)
		case historyFlags.success:
			entries = app.History.FilterBySuccess(true)
		}
		if historyFlags.limit > 0 && len(entries) > historyFlags.limit {
			entries = entries[:historyFlags.limit]
		}

		return printResult(entries, func() {
			if len(entries) == 0 {
				fmt.Println("No matching history entries.")
				return
			}
			w := output.Table()
			fmt.Fprintln(w, "ID\tTIME\tMETHOD\tURL\tSTATUS\tMS")
			for _, e := range entries {
				status := fmt.Sprintf("%d", e.Status)
				if e.Error != "" {
					status = "ERR"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					e.ID, e.Timestamp.Local().Format("15:04:05"), e.Method, e.URL, status, e.DurationMs)
			}
			w.Flush()
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one history entry in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		entry, ok := app.History.Get(args[0])
		if !ok {
			return fmt.Errorf("history entry %s not found", args[0])
		}
		return jsonOut(entry)
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all history entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		n := app.History.Len()
		app.History.Clear()
		fmt.Fprintf(cmd.ErrOrStderr(), "cleared %d entries\n", n)
		return nil
	},
}

var historyExportFile string

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export history as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		data, err := app.History.Export()
		if err != nil {
			return err
		}
		if historyExportFile == "" {
			fmt.Println(string(data))
			return nil
		}
		if err := os.WriteFile(historyExportFile, data, 0o600); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "exported %d entries to %s\n", app.History.Len(), historyExportFile)
		return nil
	},
}

var historyImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import history from an export file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		added, skipped, err := app.History.Import(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "imported %d entries (%d skipped)\n", added, skipped)
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historyFlags.method, "method", "m", "", "Filter by HTTP method")
	historyCmd.Flags().IntVar(&historyFlags.status, "status", 0, "Filter by status code")
	historyCmd.Flags().BoolVar(&historyFlags.failed, "failed", false, "Show only failed requests")
	historyCmd.Flags().BoolVar(&historyFlags.success, "success", false, "Show only successful requests")
	historyCmd.Flags().StringVar(&historyFlags.search, "search", "", "Filter by substring match on URL, method, or body")
	historyCmd.Flags().IntVarP(&historyFlags.limit, "limit", "n", 20, "Number of entries to show")
	historyExportCmd.Flags().StringVarP(&historyExportFile, "out", "o", "", "Write export to a file instead of stdout")

	historyCmd.AddCommand(historyShowCmd, historyClearCmd, historyExportCmd, historyImportCmd)
	rootCmd.AddCommand(historyCmd)
}
