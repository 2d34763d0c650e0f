// Package request builds and sends one configured HTTP request: variable
// interpolation, {param} path templating, query assembly, auth header
// injection, timeout enforcement, bounded retry, and content-type-aware
// response decoding.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apiprobe/apiprobe/pkg/auth"
	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/pkg/variables"
)

// Defaults for the executor.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultRetryDelay = time.Second
)

// Param is a named request parameter whose value may contain {{tokens}}.
type Param struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Request describes one HTTP call before interpolation.
type Request struct {
	// Method is the HTTP method, upper-cased by the executor.
	Method string `json:"method" yaml:"method"`

	// Path is the URL path template. It may contain {param} placeholders
	// filled from PathParams and {{variable}} tokens.
	Path string `json:"path" yaml:"path"`

	// PathParams fill {name} placeholders in Path.
	PathParams []Param `json:"pathParams,omitempty" yaml:"pathParams,omitempty"`

	// QueryParams are appended to the URL; params whose interpolated value
	// is empty are dropped.
	QueryParams []Param `json:"queryParams,omitempty" yaml:"queryParams,omitempty"`

	// Headers are extra request headers set after the defaults.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the JSON request body; only sent for POST, PUT and PATCH.
	Body any `json:"body,omitempty" yaml:"body,omitempty"`

	// NoAuth suppresses the Authorization header for this request.
	NoAuth bool `json:"noAuth,omitempty" yaml:"noAuth,omitempty"`
}

// BinarySummary stands in for a non-text response body. Raw binary payloads
// are never kept in results or history.
type BinarySummary struct {
	Binary      bool   `json:"binary"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// Result is the outcome of a completed HTTP exchange. Non-2xx statuses are
// results, not errors: callers branch on OK.
type Result struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	OK          bool        `json:"ok"`
	URL         string      `json:"url"`
	Headers     http.Header `json:"headers,omitempty"`
	ContentType string      `json:"contentType,omitempty"`

	// Data is the decoded body: parsed JSON, raw text, or a BinarySummary.
	Data any `json:"data,omitempty"`

	// ParseError is set when a JSON content type failed to parse; Data then
	// holds the raw text.
	ParseError bool `json:"parseError,omitempty"`

	DurationMs int64 `json:"durationMs"`
}

// Executor sends requests against a base URL.
type Executor struct {
	baseURL    string
	client     *http.Client
	tokens     *auth.TokenSource
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	log        *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithTokenSource attaches a bearer token source.
func WithTokenSource(ts *auth.TokenSource) ExecutorOption {
	return func(e *Executor) { e.tokens = ts }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithRetries enables up to n retries with a fixed delay between attempts.
// Retries apply only to transport-level failures, never to HTTP statuses.
func WithRetries(n int, delay time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.retries = n
		if delay > 0 {
			e.retryDelay = delay
		}
	}
}

// WithLogger sets the executor's logger.
func WithLogger(log *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

// NewExecutor creates an executor targeting baseURL.
func NewExecutor(baseURL string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{},
		timeout:    DefaultTimeout,
		retryDelay: DefaultRetryDelay,
		log:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BaseURL returns the base URL requests are sent against.
func (e *Executor) BaseURL() string { return e.baseURL }

// Do interpolates req against vars, sends it, and decodes the response.
// vars may be nil, in which case no interpolation happens. Transport-level
// failures are returned as *TimeoutError or *TransportError after the retry
// budget is spent; HTTP error statuses come back as a Result with OK=false.
func (e *Executor) Do(ctx context.Context, req *Request, vars *variables.Store) (*Result, error) {
	fullURL, err := e.buildURL(req, vars)
	if err != nil {
		return nil, err
	}

	body, err := e.buildBody(req, vars)
	if err != nil {
		return nil, err
	}

	headers := req.Headers
	if vars != nil && len(headers) > 0 {
		interpolated := make(map[string]string, len(headers))
		for k, v := range headers {
			interpolated[k] = vars.InterpolateString(v)
		}
		headers = interpolated
	}

	var lastErr error
	attempts := e.retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := e.send(ctx, req, fullURL, body, headers)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Context cancellation from the caller is not retryable.
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, lastErr
		}
		if attempt < attempts {
			e.log.Warn("request attempt failed, retrying",
				"url", fullURL, "attempt", attempt, "of", attempts, "error", err)
			select {
			case <-time.After(e.retryDelay):
			case <-ctx.Done():
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

// buildURL interpolates the path, fills {param} placeholders, and appends
// non-empty query parameters.
func (e *Executor) buildURL(req *Request, vars *variables.Store) (string, error) {
	path := req.Path
	if vars != nil {
		path = vars.InterpolateString(path)
	}

	for _, p := range req.PathParams {
		value := p.Value
		if vars != nil {
			value = vars.InterpolateString(value)
		}
		path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(value))
	}

	if !strings.HasPrefix(path, "/") && path != "" {
		path = "/" + path
	}
	full := e.baseURL + path

	query := url.Values{}
	for _, p := range req.QueryParams {
		value := p.Value
		if vars != nil {
			value = vars.InterpolateString(value)
		}
		if value == "" {
			continue
		}
		query.Add(p.Name, value)
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(full, "?") {
			sep = "&"
		}
		full += sep + query.Encode()
	}
	return full, nil
}

// bodyMethods are the methods a request body is attached for.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

func (e *Executor) buildBody(req *Request, vars *variables.Store) ([]byte, error) {
	if req.Body == nil || !bodyMethods[strings.ToUpper(req.Method)] {
		return nil, nil
	}
	body := req.Body
	if vars != nil {
		body = vars.Interpolate(body)
	}
	return json.Marshal(body)
}

// send performs a single attempt.
func (e *Executor) send(ctx context.Context, req *Request, fullURL string, body []byte, headers map[string]string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), fullURL, reader)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if !req.NoAuth && e.tokens != nil {
		if token := e.tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(fullURL, e.timeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(fullURL, e.timeout, err)
	}
	duration := time.Since(start)

	result := &Result{
		Status:      resp.StatusCode,
		StatusText:  http.StatusText(resp.StatusCode),
		OK:          resp.StatusCode >= 200 && resp.StatusCode < 300,
		URL:         fullURL,
		Headers:     resp.Header,
		ContentType: resp.Header.Get("Content-Type"),
		DurationMs:  duration.Milliseconds(),
	}
	decodeBody(result, raw)
	return result, nil
}

// decodeBody fills result.Data based on the response content type: JSON is
// parsed (raw text plus a parse-error marker on failure), text comes back
// verbatim, and anything else is summarized rather than stored.
func decodeBody(result *Result, raw []byte) {
	if len(raw) == 0 {
		return
	}

	mediaType := result.ContentType
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var data any
		if err := json.Unmarshal(raw, &data); err != nil {
			result.Data = string(raw)
			result.ParseError = true
			return
		}
		result.Data = data
	case strings.HasPrefix(mediaType, "text/"):
		result.Data = string(raw)
	case mediaType == "":
		// No content type: try JSON, fall back to text.
		var data any
		if err := json.Unmarshal(raw, &data); err != nil {
			result.Data = string(raw)
			return
		}
		result.Data = data
	default:
		result.Data = &BinarySummary{Binary: true, ContentType: mediaType, Size: len(raw)}
	}
}

// ErrorMessage digs a human-readable message out of a failed result's body.
// It checks the common message/error/detail fields and falls back to the
// status text.
func ErrorMessage(result *Result) string {
	if result == nil {
		return ""
	}
	if body, ok := result.Data.(map[string]any); ok {
		for _, field := range []string{"message", "error", "detail", "errorMessage"} {
			if v, ok := body[field].(string); ok && v != "" {
				return v
			}
		}
		// Nested {"error": {"message": ...}} shape.
		if errObj, ok := body["error"].(map[string]any); ok {
			if v, ok := errObj["message"].(string); ok && v != "" {
				return v
			}
		}
	}
	return result.StatusText
}
