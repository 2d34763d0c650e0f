package history

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/pkg/storage"
)

const (
	// DefaultMaxEntries bounds the history when no explicit limit is set.
	DefaultMaxEntries = 100

	// DefaultStorageKey is the key history is persisted under.
	DefaultStorageKey = "history"

	// DefaultCompressThreshold is the serialized size above which the
	// snapshot is gzip-compressed before storage.
	DefaultCompressThreshold = 64 * 1024

	// compressedPrefix marks a compressed snapshot so load can tell the
	// two encodings apart.
	compressedPrefix = "COMPRESSED:"
)

// Store is a bounded, most-recent-first request history. All methods are
// safe for concurrent use.
type Store struct {
	mu                sync.RWMutex
	entries           []*Entry
	maxEntries        int
	kv                storage.KV
	key               string
	compressThreshold int
	memoryOnly        bool
	log               *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxEntries bounds the number of retained entries.
func WithMaxEntries(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithPersistence mirrors the history into the given store.
func WithPersistence(kv storage.KV) StoreOption {
	return func(s *Store) {
		s.kv = kv
	}
}

// WithStorageKey overrides the persistence key.
func WithStorageKey(key string) StoreOption {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithCompressThreshold overrides the size above which snapshots are
// compressed.
func WithCompressThreshold(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.compressThreshold = n
		}
	}
}

// WithLogger sets the logger used for persistence diagnostics.
func WithLogger(log *slog.Logger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// NewStore creates a history store and loads any persisted snapshot.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		maxEntries:        DefaultMaxEntries,
		key:               DefaultStorageKey,
		compressThreshold: DefaultCompressThreshold,
		log:               logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

// AddEntry records one executed request at the head of the history,
// sanitizing headers and the response body, and trims the history to its
// bound. The stored entry is returned.
func (s *Store) AddEntry(req RequestInfo, resp ResponseInfo) *Entry {
	entry := &Entry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Method:       req.Method,
		URL:          req.URL,
		Path:         req.Path,
		Headers:      sanitizeHeaders(req.Headers),
		RequestBody:  req.Body,
		Status:       resp.Status,
		StatusText:   resp.StatusText,
		ResponseData: sanitizeBody(resp.Data),
		DurationMs:   resp.DurationMs,
		Success:      resp.Success,
		Error:        resp.Error,
	}

	s.mu.Lock()
	s.entries = append([]*Entry{entry}, s.entries...)
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[:s.maxEntries]
	}
	s.persistLocked()
	s.mu.Unlock()

	return entry
}

// Entries returns the history, most recent first.
func (s *Store) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// Len returns the number of retained entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Delete removes the entry with the given id.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			s.persistLocked()
			return true
		}
	}
	return false
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.persistLocked()
}

// Search returns entries whose method, URL, path, or body text contains
// the term, case-insensitively. The history itself is not modified.
func (s *Store) Search(term string) []*Entry {
	term = strings.ToLower(term)
	return s.filter(func(e *Entry) bool {
		if strings.Contains(strings.ToLower(e.Method), term) ||
			strings.Contains(strings.ToLower(e.URL), term) ||
			strings.Contains(strings.ToLower(e.Path), term) {
			return true
		}
		return bodyContains(e.RequestBody, term) || bodyContains(e.ResponseData, term)
	})
}

// FilterByMethod returns entries with the given HTTP method.
func (s *Store) FilterByMethod(method string) []*Entry {
	return s.filter(func(e *Entry) bool {
		return strings.EqualFold(e.Method, method)
	})
}

// FilterByStatus returns entries with the given status code.
func (s *Store) FilterByStatus(status int) []*Entry {
	return s.filter(func(e *Entry) bool {
		return e.Status == status
	})
}

// FilterBySuccess returns entries matching the given success flag.
func (s *Store) FilterBySuccess(success bool) []*Entry {
	return s.filter(func(e *Entry) bool {
		return e.Success == success
	})
}

func (s *Store) filter(keep func(*Entry) bool) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func bodyContains(body any, term string) bool {
	if body == nil {
		return false
	}
	serialized, err := json.Marshal(body)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(serialized)), term)
}

// Export returns the full history as uncompressed JSON.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(s.entries, "", "  ")
}

// Import merges entries from exported JSON into the history. Entries
// missing an id, method, or URL are skipped, as are ids already present.
// The merged history is sorted most recent first and re-trimmed. Import
// returns the number of entries added and the number skipped.
func (s *Store) Import(data []byte) (added, skipped int, err error) {
	var incoming []*Entry
	if err := json.Unmarshal(data, &incoming); err != nil {
		return 0, 0, fmt.Errorf("parse history import: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]struct{}, len(s.entries))
	for _, e := range s.entries {
		existing[e.ID] = struct{}{}
	}

	for _, e := range incoming {
		if e == nil || e.ID == "" || e.Method == "" || e.URL == "" {
			skipped++
			continue
		}
		if _, dup := existing[e.ID]; dup {
			skipped++
			continue
		}
		existing[e.ID] = struct{}{}
		s.entries = append(s.entries, e)
		added++
	}

	if added > 0 {
		sort.SliceStable(s.entries, func(i, j int) bool {
			return s.entries[i].Timestamp.After(s.entries[j].Timestamp)
		})
		if len(s.entries) > s.maxEntries {
			s.entries = s.entries[:s.maxEntries]
		}
		s.persistLocked()
	}
	return added, skipped, nil
}

// persistLocked writes the current history through the fallback chain:
// plain JSON, gzip-compressed when over the threshold, trim-oldest-half
// and retry once on a failed write, and finally memory-only operation
// with a one-time warning. The caller must hold the write lock.
func (s *Store) persistLocked() {
	if s.kv == nil || s.memoryOnly {
		return
	}

	payload, err := s.encodeLocked()
	if err != nil {
		s.log.Error("failed to serialize history", "error", err)
		return
	}

	err = s.kv.Set(s.key, payload)
	if err == nil {
		return
	}
	s.log.Warn("history write failed, trimming oldest entries", "error", err)

	// Drop the oldest half and retry once.
	if keep := (len(s.entries) + 1) / 2; keep < len(s.entries) {
		s.entries = s.entries[:keep]
	}
	payload, err = s.encodeLocked()
	if err != nil {
		s.log.Error("failed to serialize trimmed history", "error", err)
		return
	}
	if err := s.kv.Set(s.key, payload); err == nil {
		return
	}

	s.memoryOnly = true
	s.log.Warn("history persistence disabled, operating in memory only")
}

// encodeLocked serializes the history, compressing when the snapshot
// exceeds the threshold.
func (s *Store) encodeLocked() ([]byte, error) {
	payload, err := json.Marshal(s.entries)
	if err != nil {
		return nil, err
	}
	if len(payload) <= s.compressThreshold {
		return payload, nil
	}

	var buf bytes.Buffer
	buf.WriteString(compressedPrefix)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// load restores a persisted snapshot. Corrupt snapshots are discarded and
// the store starts empty.
func (s *Store) load() {
	if s.kv == nil {
		return
	}
	raw, ok, err := s.kv.Get(s.key)
	if err != nil {
		s.log.Warn("failed to load history", "error", err)
		return
	}
	if !ok || len(raw) == 0 {
		return
	}

	if bytes.HasPrefix(raw, []byte(compressedPrefix)) {
		zr, err := gzip.NewReader(bytes.NewReader(raw[len(compressedPrefix):]))
		if err != nil {
			s.log.Warn("failed to decompress history, starting empty", "error", err)
			return
		}
		raw, err = io.ReadAll(zr)
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			s.log.Warn("failed to decompress history, starting empty", "error", err)
			return
		}
	}

	var entries []*Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.log.Warn("discarding corrupt history snapshot", "error", err)
		return
	}
	if len(entries) > s.maxEntries {
		entries = entries[:s.maxEntries]
	}
	s.entries = entries
}
