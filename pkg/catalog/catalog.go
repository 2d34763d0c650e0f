// Package catalog loads an OpenAPI document and exposes its operations as
// an endpoint catalog for browsing and for scaffolding scenario steps.
package catalog

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/apiprobe/apiprobe/pkg/request"
	"github.com/apiprobe/apiprobe/pkg/scenario"
)

// Operation is one method+path pair from the document.
type Operation struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	OperationID string   `json:"operationId,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	PathParams  []string `json:"pathParams,omitempty"`
	QueryParams []string `json:"queryParams,omitempty"`
	HasBody     bool     `json:"hasBody,omitempty"`
	Deprecated  bool     `json:"deprecated,omitempty"`

	// BodyExample is the JSON request body example declared in the
	// document, when one exists.
	BodyExample any `json:"bodyExample,omitempty"`
}

// Catalog is a loaded, validated OpenAPI document.
type Catalog struct {
	doc *openapi3.T
}

// LoadFile loads an OpenAPI document from a JSON or YAML file.
func LoadFile(path string) (*Catalog, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI document from %s: %w", path, err)
	}
	return newCatalog(doc)
}

// LoadURL loads an OpenAPI document over HTTP.
func LoadURL(specURL string) (*Catalog, error) {
	parsed, err := url.Parse(specURL)
	if err != nil {
		return nil, fmt.Errorf("invalid document URL: %w", err)
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromURI(parsed)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI document from %s: %w", specURL, err)
	}
	return newCatalog(doc)
}

// Load parses an OpenAPI document from raw bytes.
func Load(data []byte) (*Catalog, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("parse OpenAPI document: %w", err)
	}
	return newCatalog(doc)
}

func newCatalog(doc *openapi3.T) (*Catalog, error) {
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}
	return &Catalog{doc: doc}, nil
}

// Title returns the document's API title.
func (c *Catalog) Title() string {
	if c.doc.Info == nil {
		return ""
	}
	return c.doc.Info.Title
}

// BaseURL returns the first server URL declared in the document.
func (c *Catalog) BaseURL() string {
	if len(c.doc.Servers) == 0 {
		return ""
	}
	return c.doc.Servers[0].URL
}

// methodOrder ranks HTTP methods for stable listing within a path.
var methodOrder = map[string]int{
	"GET": 0, "POST": 1, "PUT": 2, "PATCH": 3, "DELETE": 4, "HEAD": 5, "OPTIONS": 6, "TRACE": 7,
}

// Operations lists every operation, sorted by path then method.
func (c *Catalog) Operations() []Operation {
	var out []Operation
	if c.doc.Paths == nil {
		return out
	}
	for path, item := range c.doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op == nil {
				continue
			}
			out = append(out, buildOperation(method, path, item, op))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return methodOrder[out[i].Method] < methodOrder[out[j].Method]
	})
	return out
}

// Find returns the operation with the given method and path.
func (c *Catalog) Find(method, path string) (Operation, bool) {
	method = strings.ToUpper(method)
	for _, op := range c.Operations() {
		if op.Method == method && op.Path == path {
			return op, true
		}
	}
	return Operation{}, false
}

// FilterByTag lists operations carrying the given tag.
func (c *Catalog) FilterByTag(tag string) []Operation {
	var out []Operation
	for _, op := range c.Operations() {
		for _, t := range op.Tags {
			if strings.EqualFold(t, tag) {
				out = append(out, op)
				break
			}
		}
	}
	return out
}

func buildOperation(method, path string, item *openapi3.PathItem, op *openapi3.Operation) Operation {
	built := Operation{
		Method:      strings.ToUpper(method),
		Path:        path,
		OperationID: op.OperationID,
		Summary:     op.Summary,
		Tags:        op.Tags,
		HasBody:     op.RequestBody != nil,
		Deprecated:  op.Deprecated,
	}
	if op.RequestBody != nil && op.RequestBody.Value != nil {
		if mt := op.RequestBody.Value.Content.Get("application/json"); mt != nil {
			switch {
			case mt.Example != nil:
				built.BodyExample = mt.Example
			case mt.Schema != nil && mt.Schema.Value != nil && mt.Schema.Value.Example != nil:
				built.BodyExample = mt.Schema.Value.Example
			}
		}
	}

	seen := map[string]bool{}
	collect := func(params openapi3.Parameters) {
		for _, ref := range params {
			if ref == nil || ref.Value == nil || seen[ref.Value.In+":"+ref.Value.Name] {
				continue
			}
			seen[ref.Value.In+":"+ref.Value.Name] = true
			switch ref.Value.In {
			case openapi3.ParameterInPath:
				built.PathParams = append(built.PathParams, ref.Value.Name)
			case openapi3.ParameterInQuery:
				built.QueryParams = append(built.QueryParams, ref.Value.Name)
			}
		}
	}
	collect(item.Parameters)
	collect(op.Parameters)
	return built
}

// ScaffoldStep builds a scenario step skeleton for an operation. Path
// parameters are pre-filled with {{variable}} tokens named after the
// parameter so the step slots into a scenario's variable flow.
func ScaffoldStep(op Operation) *scenario.Step {
	req := request.Request{
		Method: op.Method,
		Path:   op.Path,
	}
	for _, name := range op.PathParams {
		req.PathParams = append(req.PathParams, request.Param{
			Name:  name,
			Value: "{{" + name + "}}",
		})
	}
	for _, name := range op.QueryParams {
		req.QueryParams = append(req.QueryParams, request.Param{Name: name})
	}
	if op.HasBody {
		if op.BodyExample != nil {
			req.Body = op.BodyExample
		} else {
			req.Body = map[string]any{}
		}
	}

	name := op.Summary
	if name == "" {
		name = op.OperationID
	}
	if name == "" {
		name = op.Method + " " + op.Path
	}
	return &scenario.Step{Name: name, Request: req}
}
