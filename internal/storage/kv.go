// Package storage persists session state on the local machine.
//
// KV is the opaque key-value slot the session manager writes to. Three
// backends are provided: an in-memory map, a single JSON file and a SQLite
// table. SessionStore layers the card session record and the device
// identity on top of any KV.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

// KV is a string key-value store.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Store is a KV that holds resources.
type Store interface {
	KV
	Close() error
}

// Storage drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open creates the store for driver. path is the JSON file for the file
// driver and the database file for sqlite; it is ignored for memory.
func Open(ctx context.Context, driver, path string, logger *slog.Logger) (Store, error) {
	switch driver {
	case DriverFile, "":
		return NewFileStore(path, logger)
	case DriverSQLite:
		return OpenSQLiteStore(ctx, path, logger)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// DefaultFileName returns the conventional file name for driver inside dir.
func DefaultFileName(dir, driver string) string {
	if driver == DriverSQLite {
		return filepath.Join(dir, "cardauth.db")
	}
	return filepath.Join(dir, "cardauth.json")
}

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
