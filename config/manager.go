package config

import (
	"sync"
)

// ChangeCallback is called after the configuration changed, with
// snapshots of the old and new state.
type ChangeCallback func(oldConfig, newConfig *Config)

// Getter returns the current configuration.
type Getter func() *Config

// Manager holds the live configuration and notifies registered
// callbacks on change. All methods are safe for concurrent use.
type Manager struct {
	current    *Config
	configFile string
	mutex      sync.RWMutex
	callbacks  []ChangeCallback
}

// NewManager creates a manager over an already loaded configuration.
func NewManager(config *Config, configFile string) *Manager {
	return &Manager{
		current:    config,
		configFile: configFile,
	}
}

// GetConfig returns the current configuration.
func (m *Manager) GetConfig() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// GetConfigGetter returns a function that provides the current
// configuration, for components that should always see the live state.
func (m *Manager) GetConfigGetter() Getter {
	return m.GetConfig
}

// DeepCopy returns an independent copy of the configuration.
func (c *Config) DeepCopy() *Config {
	cp := *c
	return &cp
}

// UpdateConfig validates and installs a new configuration, then
// notifies the callbacks outside the lock.
func (m *Manager) UpdateConfig(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	m.mutex.Lock()
	var oldConfig *Config
	if m.current != nil {
		oldConfig = m.current.DeepCopy()
	}
	m.current = config
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mutex.Unlock()

	for _, callback := range callbacks {
		callback(oldConfig, config)
	}
	return nil
}

// OnConfigChange registers a callback invoked on every configuration
// change.
func (m *Manager) OnConfigChange(callback ChangeCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ReloadConfig re-reads the configuration file and installs the result,
// notifying callbacks like UpdateConfig does.
func (m *Manager) ReloadConfig() error {
	config, err := Load(m.configFile)
	if err != nil {
		return err
	}
	return m.UpdateConfig(config)
}
