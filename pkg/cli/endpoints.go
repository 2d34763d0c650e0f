package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/apiprobe/apiprobe/pkg/catalog"
	"github.com/apiprobe/apiprobe/pkg/cli/internal/output"
	"github.com/apiprobe/apiprobe/pkg/scenario"
)

var endpointsFlags struct {
	spec string
	tag  string
}

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Browse an API's endpoint catalog",
	Long: `Load an OpenAPI document and list its operations. The document may be a
local file or a URL.`,
	Example: `  # List endpoints from a local document
  apiprobe endpoints --spec openapi.yaml

  # List endpoints from a served document
  apiprobe endpoints --spec https://api.test/openapi.json --tag orders`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCatalog()
		if err != nil {
			return err
		}

		ops := c.Operations()
		if endpointsFlags.tag != "" {
			ops = c.FilterByTag(endpointsFlags.tag)
		}

		return printResult(ops, func() {
			if title := c.Title(); title != "" {
				fmt.Fprintln(os.Stderr, title)
			}
			w := output.Table()
			fmt.Fprintln(w, "METHOD\tPATH\tSUMMARY")
			for _, op := range ops {
				summary := op.Summary
				if op.Deprecated {
					summary = strings.TrimSpace(summary + " (deprecated)")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", op.Method, op.Path, summary)
			}
			w.Flush()
		})
	},
}

var scaffoldOut string

var endpointsScaffoldCmd = &cobra.Command{
	Use:   "scaffold METHOD PATH",
	Short: "Generate a scenario step skeleton for an operation",
	Long: `Build a one-step scenario for the given operation. Path parameters are
pre-filled with {{variable}} tokens so the step drops into an existing
variable flow.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCatalog()
		if err != nil {
			return err
		}

		op, ok := c.Find(args[0], args[1])
		if !ok {
			return fmt.Errorf("no operation %s %s in the document", strings.ToUpper(args[0]), args[1])
		}

		step := catalog.ScaffoldStep(op)
		sc := &scenario.Scenario{
			Name:    step.Name,
			BaseURL: c.BaseURL(),
			Steps:   []*scenario.Step{step},
		}

		data, err := yaml.Marshal(sc)
		if err != nil {
			return err
		}
		if scaffoldOut == "" {
			fmt.Print(string(data))
			return nil
		}
		if err := os.WriteFile(scaffoldOut, data, 0o600); err != nil {
			return fmt.Errorf("write scaffold: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", scaffoldOut)
		return nil
	},
}

func loadCatalog() (*catalog.Catalog, error) {
	spec := endpointsFlags.spec
	if spec == "" {
		return nil, fmt.Errorf("an OpenAPI document is required (--spec FILE|URL)")
	}
	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		return catalog.LoadURL(spec)
	}
	return catalog.LoadFile(spec)
}

func init() {
	endpointsCmd.PersistentFlags().StringVar(&endpointsFlags.spec, "spec", "", "OpenAPI document file or URL")
	endpointsCmd.Flags().StringVar(&endpointsFlags.tag, "tag", "", "Filter operations by tag")
	endpointsScaffoldCmd.Flags().StringVarP(&scaffoldOut, "out", "o", "", "Write the scenario to a file instead of stdout")

	endpointsCmd.AddCommand(endpointsScaffoldCmd)
	rootCmd.AddCommand(endpointsCmd)
}
