package settings

import (
	"context"
	"fmt"
	"sync"
)

// Manager owns the process-wide configuration. Reads return full copies so
// callers never observe a half-applied save.
type Manager struct {
	store Store

	saveMu sync.Mutex

	mu        sync.RWMutex
	current   Configuration
	loaded    bool
	listeners []func(Configuration)
}

func NewManager(store Store) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	return &Manager{store: store}, nil
}

// Load reads the persisted document once. A missing document leaves the
// configuration empty.
func (m *Manager) Load(ctx context.Context) error {
	cfg, found, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.current = cfg
	m.loaded = found
	m.mu.Unlock()
	return nil
}

func (m *Manager) Current() Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Saved reports whether a configuration has been loaded or saved.
func (m *Manager) Saved() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Require returns the current configuration or ErrConfigurationMissing when
// the database credentials are incomplete.
func (m *Manager) Require() (Configuration, error) {
	cfg := m.Current()
	if !cfg.Complete() {
		return Configuration{}, ErrConfigurationMissing
	}
	return cfg, nil
}

// Save validates cfg, persists it and swaps it in. Saves are serialized so
// the persisted and in-memory values always agree; the last writer wins.
func (m *Manager) Save(ctx context.Context, cfg Configuration) error {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if err := m.store.Save(ctx, cfg); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = cfg
	m.loaded = true
	listeners := append([]func(Configuration){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// OnChange registers fn to run after every successful Save.
func (m *Manager) OnChange(fn func(Configuration)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}
