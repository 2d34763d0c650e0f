// Package jsonpath resolves path expressions against decoded JSON values.
//
// Two grammars are supported. The primary one is the simple dotted grammar
// used by extraction rules: dot-separated segments with an optional trailing
// [integer] index per segment and an optional leading "$." indicator, e.g.
// "data.items[0].id". Paths that use JSONPath operators beyond that grammar
// (wildcards, recursive descent, filters) are delegated to ojg's jp package.
package jsonpath

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Indicator is the optional prefix stripped from path expressions.
const Indicator = "$."

// indexedSegment matches "name[3]" style segments.
var indexedSegment = regexp.MustCompile(`^([^\[\]]+)\[(\d+)\]$`)

// advancedSyntax detects JSONPath operators the simple grammar cannot express.
var advancedSyntax = regexp.MustCompile(`\.\.|\[\*\]|\[\?|\[['"]|@|\*`)

// Extract resolves path against value and reports whether the path resolved.
// A miss (missing key, non-array where an index is required, out-of-range
// index, nil intermediate value) returns (nil, false) and never an error:
// callers fall back to defaults or skip. An empty path never resolves.
func Extract(value any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	// Route on the full expression before stripping the indicator: "$..id"
	// would otherwise lose a dot and land in the simple walker.
	if advancedSyntax.MatchString(path) {
		return extractAdvanced(value, path)
	}

	if stripped, ok := strings.CutPrefix(path, Indicator); ok {
		path = stripped
	}
	if path == "" {
		return nil, false
	}

	current := value
	for _, segment := range strings.Split(path, ".") {
		if current == nil {
			return nil, false
		}

		if m := indexedSegment.FindStringSubmatch(segment); m != nil {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			arr, ok := obj[m[1]].([]any)
			if !ok {
				return nil, false
			}
			idx, err := strconv.Atoi(m[2])
			if err != nil || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
			continue
		}

		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// extractAdvanced evaluates a full JSONPath expression and returns the first
// result. Invalid expressions and empty result sets are both misses.
func extractAdvanced(value any, path string) (any, bool) {
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, false
	}
	results := expr.Get(value)
	if len(results) == 0 {
		return nil, false
	}
	return results[0], true
}

// Valid reports whether path parses under either grammar. Used to validate
// extraction rules at load time rather than silently missing at run time.
func Valid(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	if advancedSyntax.MatchString(path) {
		if !strings.HasPrefix(path, "$") {
			path = "$." + path
		}
		_, err := jp.ParseString(path)
		return err == nil
	}
	return true
}
