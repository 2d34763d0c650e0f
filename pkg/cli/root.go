// Package cli implements the apiprobe command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Persistent flags available to all subcommands
	baseURL    string
	dataDir    string
	logLevel   string
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apiprobe",
	Short: "apiprobe is a scenario-driven API testing tool",
	Long: `apiprobe sends HTTP requests against an API, chains them into scenarios,
and carries extracted variables from one response into the next request.

Requests, variables, and history are persisted under the data directory
(default: ~/.apiprobe) so sessions survive restarts.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", os.Getenv("APIPROBE_BASE_URL"), "API base URL (or APIPROBE_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: ~/.apiprobe)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}

// printResult outputs a single operation result.
//
// Contract: when --json is active, ONLY the JSON encoding of data is written
// to stdout. Human-readable prose must go to stderr or be omitted entirely.
// textFn is called only in text mode.
func printResult(data any, textFn func()) error {
	if jsonOutput {
		return jsonOut(data)
	}
	textFn()
	return nil
}
