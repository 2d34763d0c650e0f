// Package history keeps a bounded, most-recent-first log of executed
// requests and their responses. Entries are sanitized before storage:
// credential headers are redacted, oversized JSON bodies truncated, and
// binary payloads summarized. Persistence degrades gracefully through an
// ordered fallback chain: plain JSON, compressed, trim-and-retry, and
// finally memory-only.
package history

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Entry captures one executed request/response pair. Entries are immutable
// once created except for deletion from the store.
type Entry struct {
	// ID is a unique identifier for the entry.
	ID string `json:"id"`

	// Timestamp is when the request was sent.
	Timestamp time.Time `json:"timestamp"`

	// Method is the HTTP method.
	Method string `json:"method"`

	// URL is the full request URL.
	URL string `json:"url"`

	// Path is the request path without host or query.
	Path string `json:"path,omitempty"`

	// Headers are the request headers with secrets redacted.
	Headers map[string]string `json:"headers,omitempty"`

	// RequestBody is the JSON request body, if any.
	RequestBody any `json:"requestBody,omitempty"`

	// Status is the HTTP response status code (0 when the request never
	// completed).
	Status int `json:"status"`

	// StatusText is the textual form of Status.
	StatusText string `json:"statusText,omitempty"`

	// ResponseData is the sanitized response body.
	ResponseData any `json:"responseData,omitempty"`

	// DurationMs is the request round-trip time in milliseconds.
	DurationMs int64 `json:"durationMs"`

	// Success reports whether the request completed with a 2xx status.
	Success bool `json:"success"`

	// Error holds the transport error message when the request never
	// produced a response.
	Error string `json:"error,omitempty"`
}

// RequestInfo describes the request side of an entry before sanitization.
type RequestInfo struct {
	Method  string
	URL     string
	Path    string
	Headers map[string]string
	Body    any
}

// ResponseInfo describes the response side of an entry.
type ResponseInfo struct {
	Status     int
	StatusText string
	Data       any
	DurationMs int64
	Success    bool
	Error      string
}

// redactedValue replaces secret header values.
const redactedValue = "[REDACTED]"

// sanitizeHeaders copies headers with credential-bearing values redacted.
func sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if isSecretHeader(name) {
			out[name] = redactedValue
			continue
		}
		out[name] = value
	}
	return out
}

// isSecretHeader reports whether a header carries credentials.
func isSecretHeader(name string) bool {
	lower := strings.ToLower(name)
	switch lower {
	case "authorization", "cookie", "set-cookie", "proxy-authorization":
		return true
	}
	return strings.Contains(lower, "api-key") || strings.Contains(lower, "apikey") ||
		strings.Contains(lower, "api_key") || strings.Contains(lower, "token")
}

// Body sanitization limits. Bodies under maxBodyBytes are stored verbatim;
// larger ones are truncated preserving the outer structure.
const (
	maxBodyBytes      = 32 * 1024
	truncateMaxDepth  = 3
	truncateMaxItems  = 10
	truncateMaxString = 256
	truncatedMarker   = "[TRUNCATED]"
)

// sanitizeBody returns a storable form of a response body: small values
// pass through, oversized JSON structures are truncated to a bounded depth
// and item count.
func sanitizeBody(body any) any {
	if body == nil {
		return nil
	}
	serialized, err := json.Marshal(body)
	if err != nil {
		return truncatedMarker
	}
	if len(serialized) <= maxBodyBytes {
		return body
	}
	return truncateValue(body, truncateMaxDepth)
}

// truncateValue bounds a JSON structure: at most truncateMaxItems entries
// per container, strings capped, and anything deeper than the depth budget
// replaced with a marker.
func truncateValue(value any, depth int) any {
	switch v := value.(type) {
	case map[string]any:
		if depth <= 0 {
			return truncatedMarker
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, min(len(keys), truncateMaxItems)+1)
		for i, k := range keys {
			if i >= truncateMaxItems {
				out["_truncated"] = len(keys) - truncateMaxItems
				break
			}
			out[k] = truncateValue(v[k], depth-1)
		}
		return out
	case []any:
		if depth <= 0 {
			return truncatedMarker
		}
		n := min(len(v), truncateMaxItems)
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, truncateValue(v[i], depth-1))
		}
		return out
	case string:
		if len(v) > truncateMaxString {
			// Back up to a rune boundary so the cut never splits a
			// multi-byte character.
			cut := truncateMaxString
			for cut > 0 && !utf8.RuneStart(v[cut]) {
				cut--
			}
			return v[:cut] + "…"
		}
		return v
	default:
		return v
	}
}
