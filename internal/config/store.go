package config

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Store holds the current ProxySettings snapshot. Readers always see a
// complete snapshot; writers swap in a new value.
type Store struct {
	current atomic.Pointer[ProxySettings]
	mu      sync.Mutex // serializes writers
	logger  *slog.Logger
}

// NewStore creates a Store seeded with the loaded configuration.
func NewStore(cfg *Config, logger *slog.Logger) *Store {
	s := &Store{logger: logger.With("component", "settings_store")}
	initial := cfg.Proxy
	s.current.Store(&initial)
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() ProxySettings {
	return *s.current.Load()
}

// Replace validates next and makes it visible to subsequent requests.
func (s *Store) Replace(next ProxySettings) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("replace proxy settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.swap(next)
	return nil
}

// Update derives a new snapshot from the current one and replaces it.
// fn receives a copy and must not retain it.
func (s *Store) Update(fn func(ProxySettings) ProxySettings) (ProxySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.Load())
	if err := next.Validate(); err != nil {
		return ProxySettings{}, fmt.Errorf("update proxy settings: %w", err)
	}
	s.swap(next)
	return next, nil
}

func (s *Store) swap(next ProxySettings) {
	prev := s.current.Swap(&next)
	if *prev == next {
		return
	}
	s.logger.Info("proxy settings replaced", "previous", *prev, "current", next)
}
