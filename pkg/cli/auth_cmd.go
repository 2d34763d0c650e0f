package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apiprobe/apiprobe/pkg/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the bearer token",
	Long: `Requests carry an Authorization: Bearer header when a token is
available. The token is resolved from the APIPROBE_TOKEN environment
variable first, then from the stored token.`,
}

var authSetCmd = &cobra.Command{
	Use:   "set-token TOKEN",
	Short: "Store the bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		if err := app.KV.Set(auth.DefaultStorageKey, []byte(args[0])); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "token stored")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a token is configured",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		token := app.Tokens.Token()
		configured := token != ""
		return printResult(map[string]any{"configured": configured}, func() {
			if configured {
				fmt.Println("a bearer token is configured")
			} else {
				fmt.Println("no bearer token configured")
			}
		})
	},
}

var authClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()
		if err := app.KV.Delete(auth.DefaultStorageKey); err != nil {
			return fmt.Errorf("remove token: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "token removed")
		return nil
	},
}

func init() {
	authCmd.AddCommand(authSetCmd, authStatusCmd, authClearCmd)
	rootCmd.AddCommand(authCmd)
}
