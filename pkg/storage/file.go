package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File is a KV implementation storing one file per key under a data
// directory. Writes are atomic: the value goes to a temp file first, then a
// rename swaps it into place, so a crash never leaves a half-written value.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates a file-backed store rooted at dir, creating the directory
// with owner-only permissions if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &File{dir: dir}, nil
}

const fileExt = ".json"

// keyPath maps a key to its on-disk path. Path separators and dots in keys
// are flattened so a key can never escape the data directory.
func (f *File) keyPath(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.', ':':
			return '_'
		}
		return r
	}, key)
	return filepath.Join(f.dir, safe+fileExt)
}

// Get returns the value for key and whether it exists.
func (f *File) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set stores value under key with an atomic temp-and-rename write.
func (f *File) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.keyPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Delete removes key.
func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.keyPath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Keys returns all stored keys.
func (f *File) Keys() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	return keys, nil
}
