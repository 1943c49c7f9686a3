// control/store.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with snapshot reads and reload listeners.

package control

import (
	"slices"
	"sync"
)

// Store holds the active Config and the files it was loaded from.
type Store struct {
	mu        sync.RWMutex
	cfg       Config
	files     []string
	version   uint64
	listeners []func(Config)
}

// NewStore initializes a store with cfg.
func NewStore(cfg Config, files []string) *Store {
	return &Store{cfg: cfg.Clone(), files: slices.Clone(files)}
}

// Snapshot returns a copy of the active configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Files returns the files behind the active configuration.
func (s *Store) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.files)
}

// Version counts successful Set calls.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Set replaces the configuration and notifies listeners on the calling
// goroutine. Listeners must not block.
func (s *Store) Set(cfg Config, files []string) {
	s.mu.Lock()
	s.cfg = cfg.Clone()
	s.files = slices.Clone(files)
	s.version++
	ls := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range ls {
		fn(cfg.Clone())
	}
}

// OnReload registers a listener invoked after each Set.
func (s *Store) OnReload(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
