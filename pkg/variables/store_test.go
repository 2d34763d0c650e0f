package variables

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiprobe/apiprobe/pkg/storage"
)

func TestStore_SetGetRoundTrip(t *testing.T) {
	s := NewStore()

	values := map[string]any{
		"str":  "hello",
		"num":  float64(42),
		"bool": true,
		"arr":  []any{"a", "b"},
		"obj":  map[string]any{"k": "v"},
	}
	for name, v := range values {
		s.Set(name, v)
	}

	for name, want := range values {
		got, ok := s.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, len(values), s.Len())
}

func TestStore_SetNilIsNoOp(t *testing.T) {
	s := NewStore()

	s.Set("ghost", nil)
	assert.False(t, s.Has("ghost"))

	s.Set("real", "value")
	s.Set("real", nil)
	v, ok := s.Get("real")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestStore_Overwrite(t *testing.T) {
	s := NewStore()
	s.Set("name", "first")
	s.Set("name", "second")

	v, _ := s.Get("name")
	assert.Equal(t, "second", v)
	assert.Equal(t, 1, s.Len())
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := NewStore()
	s.Set("a", 1)
	s.Set("b", 2)

	s.Delete("a")
	assert.False(t, s.Has("a"))
	assert.True(t, s.Has("b"))

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestStore_PersistsEveryMutation(t *testing.T) {
	kv := storage.NewMemory()
	s := NewStore(WithPersistence(kv))

	s.Set("userId", "abc123")

	data, ok, err := kv.Get(DefaultStorageKey)
	require.NoError(t, err)
	require.True(t, ok)

	var persisted map[string]any
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, map[string]any{"userId": "abc123"}, persisted)

	s.Delete("userId")
	data, _, _ = kv.Get(DefaultStorageKey)
	persisted = nil
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Empty(t, persisted)
}

func TestStore_LoadsPersistedMap(t *testing.T) {
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(DefaultStorageKey, []byte(`{"token":"t-1","page":2}`)))

	s := NewStore(WithPersistence(kv))

	v, ok := s.Get("token")
	require.True(t, ok)
	assert.Equal(t, "t-1", v)
	v, _ = s.Get("page")
	assert.Equal(t, float64(2), v)
}

func TestStore_CorruptSnapshotDiscarded(t *testing.T) {
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(DefaultStorageKey, []byte(`{not json`)))

	s := NewStore(WithPersistence(kv))
	assert.Equal(t, 0, s.Len())
}

func TestStore_QuotaFailureDoesNotPropagate(t *testing.T) {
	kv := storage.NewMemoryWithQuota(4)
	s := NewStore(WithPersistence(kv))

	// The serialized map exceeds the quota; Set must still succeed in memory.
	s.Set("big", "a long enough value to blow the quota")

	v, ok := s.Get("big")
	require.True(t, ok)
	assert.Equal(t, "a long enough value to blow the quota", v)
}

func TestStore_ExtractFromResponse(t *testing.T) {
	s := NewStore()
	response := decodeJSON(t, `{"data":{"user":{"id":"abc123"},"items":[10,20]}}`)

	changed := s.ExtractFromResponse(response, []ExtractionRule{
		{Name: "userId", Path: "data.user.id"},
		{Name: "first", Path: "data.items[0]"},
		{Name: "missing", Path: "data.nope"},
		{Name: "fallback", Path: "data.nope", Default: float64(0)},
	})

	assert.Equal(t, map[string]any{
		"userId":   "abc123",
		"first":    float64(10),
		"fallback": float64(0),
	}, changed)

	assert.False(t, s.Has("missing"))

	v, _ := s.Get("userId")
	assert.Equal(t, "abc123", v)
}

func TestStore_ExtractOutOfRangeUsesDefault(t *testing.T) {
	s := NewStore()
	response := decodeJSON(t, `{"items":[1,2,3]}`)

	changed := s.ExtractFromResponse(response, []ExtractionRule{
		{Name: "missing", Path: "items[5]"},
		{Name: "withDefault", Path: "items[5]", Default: float64(0)},
	})

	assert.Equal(t, map[string]any{"withDefault": float64(0)}, changed)
	assert.False(t, s.Has("missing"))

	v, _ := s.Get("withDefault")
	assert.Equal(t, float64(0), v)
}

func TestStore_ExtractResolvedNullFallsBackToDefault(t *testing.T) {
	s := NewStore()
	response := decodeJSON(t, `{"cursor":null,"next":null}`)

	// A decoded JSON null is nil, the same as a miss: the default applies
	// and a rule without one is skipped. nil is never stored.
	changed := s.ExtractFromResponse(response, []ExtractionRule{
		{Name: "cursor", Path: "cursor", Default: "start"},
		{Name: "next", Path: "next"},
	})

	assert.Equal(t, map[string]any{"cursor": "start"}, changed)
	assert.False(t, s.Has("next"))

	v, _ := s.Get("cursor")
	assert.Equal(t, "start", v)
}

func TestStore_ExtractBestEffortContinuesPastMisses(t *testing.T) {
	s := NewStore()
	response := decodeJSON(t, `{"a":1,"b":2}`)

	changed := s.ExtractFromResponse(response, []ExtractionRule{
		{Name: "x", Path: "does.not.exist"},
		{Name: "", Path: "a"},
		{Name: "y", Path: "b"},
	})

	assert.Equal(t, map[string]any{"y": float64(2)}, changed)
}

func TestStore_InterpolateUsesCurrentVariables(t *testing.T) {
	s := NewStore()
	s.Set("userId", "abc123")

	body := decodeJSON(t, `{"id":"{{userId}}"}`)
	got := s.Interpolate(body).(map[string]any)
	assert.Equal(t, "abc123", got["id"])

	assert.Equal(t, "u=abc123", s.InterpolateString("u={{userId}}"))
	assert.Equal(t, "{{other}}", s.InterpolateString("{{other}}"))
}

func decodeJSON(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}
