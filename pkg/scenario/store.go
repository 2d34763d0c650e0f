package scenario

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/pkg/storage"
)

// storagePrefix namespaces scenario keys in the KV store.
const storagePrefix = "scenario_"

// Store persists scenarios by id. Saved scenarios get an id and creation
// time on first save and a refreshed UpdatedAt on every save.
type Store struct {
	mu  sync.RWMutex
	kv  storage.KV
	log *slog.Logger
	now func() time.Time
}

// NewStore creates a scenario store backed by kv.
func NewStore(kv storage.KV, log *slog.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{kv: kv, log: log, now: time.Now}
}

// Save persists the scenario, assigning an id and CreatedAt on first save
// and refreshing UpdatedAt.
func (s *Store) Save(sc *Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	for _, step := range sc.Steps {
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
	}

	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("serialize scenario %q: %w", sc.Name, err)
	}
	if err := s.kv.Set(storagePrefix+sc.ID, data); err != nil {
		return fmt.Errorf("save scenario %q: %w", sc.Name, err)
	}
	return nil
}

// Get loads the scenario with the given id.
func (s *Store) Get(id string) (*Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok, err := s.kv.Get(storagePrefix + id)
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("scenario %s not found", id)
	}
	var sc Scenario
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario %s: %w", id, err)
	}
	return &sc, nil
}

// List returns all stored scenarios, most recently updated first.
// Scenarios that fail to decode are skipped with a warning.
func (s *Store) List() ([]*Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.kv.Keys()
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}

	var out []*Scenario
	for _, key := range keys {
		if !strings.HasPrefix(key, storagePrefix) {
			continue
		}
		raw, ok, err := s.kv.Get(key)
		if err != nil || !ok {
			continue
		}
		var sc Scenario
		if err := json.Unmarshal(raw, &sc); err != nil {
			s.log.Warn("skipping undecodable scenario", "key", key, "error", err)
			continue
		}
		out = append(out, &sc)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Delete removes the scenario with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(storagePrefix + id)
}
