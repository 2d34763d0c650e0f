package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/apiprobe/apiprobe/pkg/cli/internal/output"
	"github.com/apiprobe/apiprobe/pkg/history"
	"github.com/apiprobe/apiprobe/pkg/request"
	"github.com/apiprobe/apiprobe/pkg/variables"
)

var sendFlags struct {
	queries    []string
	headers    []string
	pathParams []string
	extracts   []string
	body       string
	noAuth     bool
	noHistory  bool
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send METHOD PATH",
	Short: "Send a single request",
	Long: `Send one HTTP request against the base URL. The path, parameters,
headers, and body may reference {{variables}} from the variable store.

Responses with non-2xx statuses are printed like any other; only transport
failures (timeouts, connection errors) fail the command.`,
	Example: `  # Fetch with a query parameter
  apiprobe send GET /users -q limit=10

  # Create and capture the new id as a variable
  apiprobe send POST /users -d '{"name":"Ada"}' -e userId=$.id

  # Use a captured variable in the path
  apiprobe send GET /users/{{userId}}`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp()

		req := &request.Request{
			Method: strings.ToUpper(args[0]),
			Path:   args[1],
			NoAuth: sendFlags.noAuth,
		}

		var err error
		if req.QueryParams, err = parseParams(sendFlags.queries); err != nil {
			return err
		}
		if req.PathParams, err = parseParams(sendFlags.pathParams); err != nil {
			return err
		}
		if req.Headers, err = parseHeaders(sendFlags.headers); err != nil {
			return err
		}
		if req.Body, err = parseBody(sendFlags.body); err != nil {
			return err
		}
		rules, err := parseExtracts(sendFlags.extracts)
		if err != nil {
			return err
		}

		var execOpts []request.ExecutorOption
		if sendFlags.timeout > 0 {
			execOpts = append(execOpts, request.WithTimeout(sendFlags.timeout))
		}
		if sendFlags.retries > 0 {
			execOpts = append(execOpts, request.WithRetries(sendFlags.retries, sendFlags.retryDelay))
		}
		exec, err := app.executor(execOpts...)
		if err != nil {
			return err
		}

		result, err := exec.Do(cmd.Context(), req, app.Vars)
		if !sendFlags.noHistory {
			recordSend(app.History, req, result, err)
		}
		if err != nil {
			return err
		}

		if len(rules) > 0 {
			changed := app.Vars.ExtractFromResponse(result.Data, rules)
			for name, value := range changed {
				fmt.Fprintf(os.Stderr, "set %s = %v\n", name, value)
			}
		}

		return printResult(result, func() {
			printResponse(result)
		})
	},
}

func init() {
	sendCmd.Flags().StringArrayVarP(&sendFlags.queries, "query", "q", nil, "Query parameter name=value (repeatable)")
	sendCmd.Flags().StringArrayVarP(&sendFlags.headers, "header", "H", nil, "Header 'Name: value' (repeatable)")
	sendCmd.Flags().StringArrayVarP(&sendFlags.pathParams, "path-param", "P", nil, "Path parameter name=value (repeatable)")
	sendCmd.Flags().StringArrayVarP(&sendFlags.extracts, "extract", "e", nil, "Extract variable name=path from the response (repeatable)")
	sendCmd.Flags().StringVarP(&sendFlags.body, "body", "d", "", "JSON request body, or @file to read from a file")
	sendCmd.Flags().BoolVar(&sendFlags.noAuth, "no-auth", false, "Skip the Authorization header")
	sendCmd.Flags().BoolVar(&sendFlags.noHistory, "no-history", false, "Do not record this request in history")
	sendCmd.Flags().DurationVar(&sendFlags.timeout, "timeout", 0, "Request timeout (default: 30s)")
	sendCmd.Flags().IntVar(&sendFlags.retries, "retries", 0, "Retries after transport failures")
	sendCmd.Flags().DurationVar(&sendFlags.retryDelay, "retry-delay", time.Second, "Delay between retries")
	rootCmd.AddCommand(sendCmd)
}

func parseParams(pairs []string) ([]request.Param, error) {
	var out []request.Param
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", pair)
		}
		out = append(out, request.Param{Name: name, Value: value})
	}
	return out, nil
}

func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", pair)
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out, nil
}

func parseBody(body string) (any, error) {
	if body == "" {
		return nil, nil
	}
	if strings.HasPrefix(body, "@") {
		data, err := os.ReadFile(body[1:])
		if err != nil {
			return nil, fmt.Errorf("read body file: %w", err)
		}
		body = string(data)
	}
	var parsed any
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, fmt.Errorf("body is not valid JSON: %w", err)
	}
	return parsed, nil
}

func parseExtracts(pairs []string) ([]variables.ExtractionRule, error) {
	var out []variables.ExtractionRule
	for _, pair := range pairs {
		name, path, ok := strings.Cut(pair, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid extraction %q, expected name=path", pair)
		}
		out = append(out, variables.ExtractionRule{Name: name, Path: path})
	}
	return out, nil
}

func recordSend(hist *history.Store, req *request.Request, result *request.Result, err error) {
	info := history.RequestInfo{
		Method:  req.Method,
		Path:    req.Path,
		Headers: req.Headers,
		Body:    req.Body,
	}
	resp := history.ResponseInfo{}
	if result != nil {
		info.URL = result.URL
		resp.Status = result.Status
		resp.StatusText = result.StatusText
		resp.Data = result.Data
		resp.DurationMs = result.DurationMs
		resp.Success = result.OK
	}
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
	}
	hist.AddEntry(info, resp)
}

func printResponse(result *request.Result) {
	fmt.Printf("%d %s  %s  (%dms)\n", result.Status, result.StatusText, result.URL, result.DurationMs)
	if result.ParseError {
		output.Warn("response declared JSON but did not parse; showing raw text")
	}
	if result.Data == nil {
		return
	}
	switch data := result.Data.(type) {
	case string:
		fmt.Println(data)
	default:
		_ = jsonOut(data)
	}
}
