package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"limit=10", "status=active", "empty="})
	require.NoError(t, err)
	require.Len(t, params, 3)
	assert.Equal(t, "limit", params[0].Name)
	assert.Equal(t, "10", params[0].Value)
	assert.Equal(t, "", params[2].Value)

	_, err = parseParams([]string{"noequals"})
	assert.Error(t, err)

	_, err = parseParams([]string{"=value"})
	assert.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"X-Trace: abc", "Accept:application/json"})
	require.NoError(t, err)
	assert.Equal(t, "abc", headers["X-Trace"])
	assert.Equal(t, "application/json", headers["Accept"])

	_, err = parseHeaders([]string{"no-colon"})
	assert.Error(t, err)

	headers, err = parseHeaders(nil)
	require.NoError(t, err)
	assert.Nil(t, headers)
}

func TestParseBody(t *testing.T) {
	body, err := parseBody(`{"name":"Ada"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ada"}, body)

	body, err = parseBody("")
	require.NoError(t, err)
	assert.Nil(t, body)

	_, err = parseBody("{not json")
	assert.Error(t, err)
}

func TestParseBody_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2,3]`), 0o600))

	body, err := parseBody("@" + path)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, body)

	_, err = parseBody("@/nonexistent/body.json")
	assert.Error(t, err)
}

func TestParseExtracts(t *testing.T) {
	rules, err := parseExtracts([]string{"userId=$.id", "name=data.profile.name"})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "userId", rules[0].Name)
	assert.Equal(t, "$.id", rules[0].Path)

	_, err = parseExtracts([]string{"nameonly"})
	assert.Error(t, err)

	_, err = parseExtracts([]string{"name="})
	assert.Error(t, err)
}

func TestCompactJSON(t *testing.T) {
	assert.Equal(t, "plain", compactJSON("plain"))
	assert.Equal(t, "42", compactJSON(float64(42)))
	assert.Equal(t, `{"a":1}`, compactJSON(map[string]any{"a": 1}))
}
