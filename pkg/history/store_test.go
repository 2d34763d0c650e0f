package history

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiprobe/apiprobe/pkg/storage"
)

func okResponse(status int) ResponseInfo {
	return ResponseInfo{
		Status:     status,
		StatusText: "OK",
		Success:    status >= 200 && status < 300,
		DurationMs: 12,
	}
}

func TestAddEntry_MostRecentFirstAndBounded(t *testing.T) {
	s := NewStore(WithMaxEntries(2))

	s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/a"}, okResponse(200))
	s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/b"}, okResponse(200))
	s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/c"}, okResponse(200))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "https://api.test/c", entries[0].URL)
	assert.Equal(t, "https://api.test/b", entries[1].URL)
}

func TestAddEntry_RedactsSecretHeaders(t *testing.T) {
	s := NewStore()
	entry := s.AddEntry(RequestInfo{
		Method: "POST",
		URL:    "https://api.test/login",
		Headers: map[string]string{
			"Authorization": "Bearer secret",
			"Cookie":        "session=abc",
			"X-API-Key":     "key123",
			"X-Auth-Token":  "tok456",
			"Content-Type":  "application/json",
		},
	}, okResponse(200))

	assert.Equal(t, "[REDACTED]", entry.Headers["Authorization"])
	assert.Equal(t, "[REDACTED]", entry.Headers["Cookie"])
	assert.Equal(t, "[REDACTED]", entry.Headers["X-API-Key"])
	assert.Equal(t, "[REDACTED]", entry.Headers["X-Auth-Token"])
	assert.Equal(t, "application/json", entry.Headers["Content-Type"])
}

func TestAddEntry_TruncatesOversizedBody(t *testing.T) {
	big := make(map[string]any)
	for i := 0; i < 50; i++ {
		big[strings.Repeat("k", 10)+string(rune('a'+i))] = strings.Repeat("x", 2048)
	}
	s := NewStore()
	entry := s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/big"}, ResponseInfo{
		Status: 200, Success: true, Data: big,
	})

	out, ok := entry.ResponseData.(map[string]any)
	require.True(t, ok, "outer structure should be preserved")
	assert.LessOrEqual(t, len(out), truncateMaxItems+1)
	assert.Contains(t, out, "_truncated")
	for k, v := range out {
		if k == "_truncated" {
			continue
		}
		str, ok := v.(string)
		require.True(t, ok)
		assert.LessOrEqual(t, len(str), truncateMaxString+len("…"))
	}
}

func TestAddEntry_TruncationKeepsRuneBoundaries(t *testing.T) {
	// "é" is two bytes, so a byte-index cut at truncateMaxString would land
	// mid-rune. The body must be large enough to trigger truncation.
	big := map[string]any{"note": strings.Repeat("é", maxBodyBytes)}
	s := NewStore()
	entry := s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/utf8"}, ResponseInfo{
		Status: 200, Success: true, Data: big,
	})

	out, ok := entry.ResponseData.(map[string]any)
	require.True(t, ok)
	str, ok := out["note"].(string)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(str), "truncated string must stay valid UTF-8")
	assert.True(t, strings.HasSuffix(str, "…"))
	assert.LessOrEqual(t, len(str), truncateMaxString+len("…"))
}

func TestAddEntry_SmallBodyStoredVerbatim(t *testing.T) {
	body := map[string]any{"id": float64(7), "name": "widget"}
	s := NewStore()
	entry := s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/w"}, ResponseInfo{
		Status: 200, Success: true, Data: body,
	})
	assert.Equal(t, body, entry.ResponseData)
}

func TestFilters_DoNotMutateHistory(t *testing.T) {
	s := NewStore()
	s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/users"}, okResponse(200))
	s.AddEntry(RequestInfo{Method: "POST", URL: "https://api.test/users"}, okResponse(201))
	s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/orders"}, ResponseInfo{
		Status: 404, StatusText: "Not Found",
	})

	assert.Len(t, s.FilterByMethod("get"), 2)
	assert.Len(t, s.FilterByStatus(404), 1)
	assert.Len(t, s.FilterBySuccess(true), 2)
	assert.Len(t, s.FilterBySuccess(false), 1)
	assert.Len(t, s.Search("orders"), 1)
	assert.Len(t, s.Search("API.TEST"), 3)

	assert.Equal(t, 3, s.Len(), "filters must not modify the history")
}

func TestSearch_MatchesBodyText(t *testing.T) {
	s := NewStore()
	s.AddEntry(RequestInfo{Method: "POST", URL: "https://api.test/users", Body: map[string]any{
		"email": "ada@example.com",
	}}, okResponse(201))
	s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/users/1"}, ResponseInfo{
		Status: 200, Success: true, Data: map[string]any{"name": "Grace"},
	})

	assert.Len(t, s.Search("ada@example"), 1)
	assert.Len(t, s.Search("grace"), 1)
	assert.Empty(t, s.Search("nonexistent"))
}

func TestDeleteAndClear(t *testing.T) {
	s := NewStore()
	entry := s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/a"}, okResponse(200))
	s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/b"}, okResponse(200))

	require.True(t, s.Delete(entry.ID))
	assert.False(t, s.Delete(entry.ID))
	assert.Equal(t, 1, s.Len())

	s.Clear()
	assert.Zero(t, s.Len())
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := NewStore()
	src.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/a"}, okResponse(200))
	src.AddEntry(RequestInfo{Method: "POST", URL: "https://api.test/b"}, okResponse(201))

	data, err := src.Export()
	require.NoError(t, err)

	dst := NewStore()
	added, skipped, err := dst.Import(data)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Zero(t, skipped)
	assert.Equal(t, 2, dst.Len())

	// Importing again is a no-op thanks to id de-duplication.
	added, skipped, err = dst.Import(data)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, 2, skipped)
}

func TestImport_SkipsInvalidEntries(t *testing.T) {
	payload, err := json.Marshal([]map[string]any{
		{"id": "e1", "method": "GET", "url": "https://api.test/a", "timestamp": time.Now()},
		{"id": "", "method": "GET", "url": "https://api.test/b"},
		{"id": "e3", "method": "", "url": "https://api.test/c"},
		{"id": "e4", "method": "DELETE", "url": ""},
	})
	require.NoError(t, err)

	s := NewStore()
	added, skipped, err := s.Import(payload)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 3, skipped)
}

func TestImport_RejectsMalformedJSON(t *testing.T) {
	s := NewStore()
	_, _, err := s.Import([]byte("{not json"))
	assert.Error(t, err)
}

func TestImport_ReappliesBound(t *testing.T) {
	now := time.Now().UTC()
	entries := make([]*Entry, 5)
	for i := range entries {
		entries[i] = &Entry{
			ID:        "imp-" + string(rune('a'+i)),
			Method:    "GET",
			URL:       "https://api.test/x",
			Timestamp: now.Add(time.Duration(i) * time.Minute),
		}
	}
	payload, err := json.Marshal(entries)
	require.NoError(t, err)

	s := NewStore(WithMaxEntries(3))
	added, _, err := s.Import(payload)
	require.NoError(t, err)
	assert.Equal(t, 5, added)
	require.Equal(t, 3, s.Len())
	// Most recent entries survive the trim.
	assert.Equal(t, "imp-e", s.Entries()[0].ID)
}

func TestPersistence_RoundTrip(t *testing.T) {
	kv := storage.NewMemory()

	s := NewStore(WithPersistence(kv))
	s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/a"}, okResponse(200))

	reloaded := NewStore(WithPersistence(kv))
	require.Equal(t, 1, reloaded.Len())
	assert.Equal(t, "https://api.test/a", reloaded.Entries()[0].URL)
}

func TestPersistence_CompressedSnapshot(t *testing.T) {
	kv := storage.NewMemory()

	s := NewStore(WithPersistence(kv), WithCompressThreshold(64))
	s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/compressed"}, ResponseInfo{
		Status: 200, Success: true, Data: map[string]any{"payload": strings.Repeat("z", 512)},
	})

	raw, ok, err := kv.Get(DefaultStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(raw, []byte("COMPRESSED:")))

	reloaded := NewStore(WithPersistence(kv), WithCompressThreshold(64))
	require.Equal(t, 1, reloaded.Len())
	assert.Equal(t, "https://api.test/compressed", reloaded.Entries()[0].URL)
}

func TestPersistence_TrimOnQuotaFailure(t *testing.T) {
	kv := storage.NewMemoryWithQuota(2048)

	s := NewStore(WithPersistence(kv), WithCompressThreshold(1<<20))
	for i := 0; i < 10; i++ {
		s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/item"}, ResponseInfo{
			Status: 200, Success: true, Data: map[string]any{"blob": strings.Repeat("q", 300)},
		})
	}

	// The store keeps working and retains at least the newest entries.
	assert.Greater(t, s.Len(), 0)
	assert.Equal(t, "https://api.test/item", s.Entries()[0].URL)
}

func TestPersistence_FallsBackToMemoryOnly(t *testing.T) {
	kv := storage.NewMemoryWithQuota(16)

	s := NewStore(WithPersistence(kv), WithCompressThreshold(1<<20))
	entry := s.AddEntry(RequestInfo{Method: "GET", URL: "https://api.test/a"}, okResponse(200))

	// Even with persistence impossible, the entry is retained in memory.
	got, ok := s.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, entry.URL, got.URL)
	assert.True(t, s.memoryOnly)
}

func TestLoad_DiscardsCorruptSnapshot(t *testing.T) {
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(DefaultStorageKey, []byte("{corrupt")))

	s := NewStore(WithPersistence(kv))
	assert.Zero(t, s.Len())
}
