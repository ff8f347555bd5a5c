package device

import "sync"

// ConfigStore owns a session's threshold configuration.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg Config
}

// NewConfigStore returns a store seeded with initial.
func NewConfigStore(initial Config) *ConfigStore {
	return &ConfigStore{cfg: initial}
}

// Get returns a copy of the current configuration.
func (s *ConfigStore) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update merges patch into the current configuration and returns the merged
// result. Range checks are left to the caller; this layer always succeeds.
func (s *ConfigStore) Update(patch ConfigPatch) ConfigResult {
	s.mu.Lock()
	s.cfg = patch.Apply(s.cfg)
	merged := s.cfg
	s.mu.Unlock()
	return ConfigResult{OK: true, Config: merged}
}
