// Package variables implements the named-variable layer of the request
// pipeline: a store of name → JSON value pairs with optional durable
// persistence, {{name}} token substitution over strings and whole JSON
// structures, and rule-driven extraction of variables from responses.
package variables

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Default token delimiters.
const (
	DefaultPrefix = "{{"
	DefaultSuffix = "}}"
)

// LookupFunc resolves a variable name to its value. The second return
// reports whether the variable exists.
type LookupFunc func(name string) (any, bool)

// Substitutor replaces {{name}} tokens with variable values. Unknown names
// are left untouched (fail-open), so a template can be re-interpolated once
// the missing variable appears. The zero configuration uses {{ and }}.
type Substitutor struct {
	prefix  string
	suffix  string
	pattern *regexp.Regexp
}

// NewSubstitutor creates a substitutor with the default {{ }} delimiters.
func NewSubstitutor() *Substitutor {
	return NewSubstitutorWithDelimiters(DefaultPrefix, DefaultSuffix)
}

// NewSubstitutorWithDelimiters creates a substitutor with custom delimiters.
// Empty delimiters fall back to the defaults.
func NewSubstitutorWithDelimiters(prefix, suffix string) *Substitutor {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	// Token body is any non-empty run of characters up to the suffix,
	// with surrounding whitespace trimmed.
	pattern := regexp.MustCompile(
		regexp.QuoteMeta(prefix) + `\s*(.+?)\s*` + regexp.QuoteMeta(suffix))
	return &Substitutor{prefix: prefix, suffix: suffix, pattern: pattern}
}

// InterpolateString replaces every token in s whose name lookup resolves.
// String values substitute verbatim; anything else is JSON-stringified.
func (s *Substitutor) InterpolateString(str string, lookup LookupFunc) string {
	if !strings.Contains(str, s.prefix) {
		return str
	}
	return s.pattern.ReplaceAllStringFunc(str, func(match string) string {
		m := s.pattern.FindStringSubmatch(match)
		if len(m) < 2 {
			return match
		}
		value, ok := lookup(strings.TrimSpace(m[1]))
		if !ok {
			return match
		}
		return Stringify(value)
	})
}

// Interpolate walks input and returns a structure of the same shape with
// every string interpolated. Maps and slices are copied, never mutated;
// non-string scalars pass through unchanged.
func (s *Substitutor) Interpolate(input any, lookup LookupFunc) any {
	switch v := input.(type) {
	case string:
		return s.InterpolateString(v, lookup)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = s.Interpolate(val, lookup)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = s.Interpolate(val, lookup)
		}
		return out
	default:
		return input
	}
}

// ContainsVariables reports whether s contains at least one token.
func (s *Substitutor) ContainsVariables(str string) bool {
	return s.pattern.MatchString(str)
}

// ExtractVariableNames returns the variable names referenced in str, in
// first-occurrence order with duplicates removed.
func (s *Substitutor) ExtractVariableNames(str string) []string {
	matches := s.pattern.FindAllStringSubmatch(str, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Stringify renders a variable value for substitution into a string
// template: strings verbatim, everything else compact JSON.
func Stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
