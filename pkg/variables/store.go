package variables

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/apiprobe/apiprobe/internal/jsonpath"
	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/pkg/storage"
)

// DefaultStorageKey is the KV key the variable map is mirrored under.
const DefaultStorageKey = "variables"

// ExtractionRule describes how to pull one variable out of a response.
type ExtractionRule struct {
	// Name is the variable to set.
	Name string `json:"name" yaml:"name"`

	// Path is a dotted path expression into the response, e.g.
	// "data.items[0].id", with an optional "$." prefix.
	Path string `json:"path" yaml:"path"`

	// Default is used when Path does not resolve. A nil Default means no
	// fallback: the rule is skipped on a miss.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`
}

// Store maps variable names to JSON values. When constructed with
// persistence, every mutation synchronously mirrors the full map to durable
// storage; persistence failures are logged and the in-memory map stays
// authoritative for the rest of the session.
type Store struct {
	mu   sync.RWMutex
	vars map[string]any
	sub  *Substitutor
	kv   storage.KV
	key  string
	log  *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersistence mirrors the variable map to kv under DefaultStorageKey.
func WithPersistence(kv storage.KV) StoreOption {
	return func(s *Store) { s.kv = kv }
}

// WithStorageKey overrides the KV key used for persistence.
func WithStorageKey(key string) StoreOption {
	return func(s *Store) { s.key = key }
}

// WithLogger sets the logger for persistence failures.
func WithLogger(log *slog.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// WithDelimiters overrides the token delimiters used by Interpolate.
func WithDelimiters(prefix, suffix string) StoreOption {
	return func(s *Store) { s.sub = NewSubstitutorWithDelimiters(prefix, suffix) }
}

// NewStore creates a variable store. If persistence is configured, any
// previously persisted map is loaded; a corrupt or unreadable snapshot is
// logged and discarded rather than failing construction.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		vars: make(map[string]any),
		sub:  NewSubstitutor(),
		key:  DefaultStorageKey,
		log:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.kv == nil {
		return
	}
	data, ok, err := s.kv.Get(s.key)
	if err != nil {
		s.log.Warn("failed to load persisted variables", "key", s.key, "error", err)
		return
	}
	if !ok {
		return
	}
	var loaded map[string]any
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("discarding corrupt variable snapshot", "key", s.key, "error", err)
		return
	}
	s.vars = loaded
}

// persist mirrors the current map to storage. Callers hold the write lock.
func (s *Store) persist() {
	if s.kv == nil {
		return
	}
	data, err := json.Marshal(s.vars)
	if err != nil {
		s.log.Warn("failed to serialize variables", "error", err)
		return
	}
	if err := s.kv.Set(s.key, data); err != nil {
		s.log.Warn("failed to persist variables, in-memory map remains authoritative",
			"key", s.key, "error", err)
	}
}

// Set upserts a variable. A nil value is the "undefined" analogue of the
// decoded-JSON world and is a no-op: the store never holds undefined entries.
func (s *Store) Set(name string, value any) {
	if value == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
	s.persist()
}

// Get returns the variable's value and whether it exists.
func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// Has reports whether the variable exists.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vars[name]
	return ok
}

// Delete removes a variable.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, name)
	s.persist()
}

// Clear removes all variables.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars = make(map[string]any)
	s.persist()
}

// Len returns the number of stored variables.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vars)
}

// All returns a copy of the variable map.
func (s *Store) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// Interpolate substitutes this store's variables into input, returning a new
// structure of the same shape. Unknown tokens stay as written.
func (s *Store) Interpolate(input any) any {
	return s.sub.Interpolate(input, s.Get)
}

// InterpolateString substitutes this store's variables into a single string.
func (s *Store) InterpolateString(str string) string {
	return s.sub.InterpolateString(str, s.Get)
}

// Substitutor returns the token substitutor this store interpolates with.
func (s *Store) Substitutor() *Substitutor {
	return s.sub
}

// ExtractFromResponse applies rules against a decoded response body and sets
// each resolved variable. A rule whose path misses falls back to its Default
// when provided and is skipped otherwise; no rule failure aborts the rest.
// The returned map holds only the variables set by this call, so callers can
// show "what changed".
func (s *Store) ExtractFromResponse(response any, rules []ExtractionRule) map[string]any {
	changed := make(map[string]any)
	for _, rule := range rules {
		if rule.Name == "" {
			continue
		}
		value, ok := jsonpath.Extract(response, rule.Path)
		if !ok || value == nil {
			value = rule.Default
		}
		if value == nil {
			s.log.Debug("extraction rule skipped, path did not resolve",
				"variable", rule.Name, "path", rule.Path)
			continue
		}
		s.Set(rule.Name, value)
		changed[rule.Name] = value
	}
	return changed
}
