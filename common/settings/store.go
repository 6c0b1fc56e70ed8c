package settings

import (
	"sync"
	"time"
)

// Store holds the live settings. Readers get a private copy; writers go
// through Update which sanitizes and validates before swapping.
type Store struct {
	mu        sync.RWMutex
	current   Settings
	updatedAt time.Time
	version   string
	listeners []func(Settings)
}

// NewStore sanitizes initial and returns a store holding it. An initial
// value that fails validation falls back to DefaultSettings.
func NewStore(initial Settings) *Store {
	Sanitize(&initial)
	if err := Validate(initial); err != nil {
		initial = DefaultSettings()
	}
	s := &Store{current: initial.Clone(), updatedAt: time.Now()}
	s.version, _ = ComputeSettingsVersion(SchemaVersion, s.updatedAt, s.current)
	return s
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Version returns the change token of the current settings.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Update applies fn to a copy of the current settings and swaps it in when
// the result validates. Listeners run after the swap, outside the lock.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	next := s.current.Clone()
	fn(&next)
	Sanitize(&next)
	if err := Validate(next); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	s.current = next
	s.updatedAt = time.Now()
	if v, err := ComputeSettingsVersion(SchemaVersion, s.updatedAt, next); err == nil {
		s.version = v
	}
	listeners := append([]func(Settings){}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(next.Clone())
	}
	return next.Clone(), nil
}

// Replace swaps in a complete settings value.
func (s *Store) Replace(next Settings) (Settings, error) {
	return s.Update(func(cur *Settings) { *cur = next.Clone() })
}

// OnChange registers fn to be called with the new settings after every
// successful update.
func (s *Store) OnChange(fn func(Settings)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}
