package core

import (
	"context"
	"fmt"

	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// SettingsManager reads backend settings through the query cache and
// invalidates the cached copy after every successful update.
type SettingsManager struct {
	backend  SettingsBackend
	cache    QueryCache
	eventLog EventLogger
}

// NewSettingsManager creates a SettingsManager. cache and eventLog may be nil.
func NewSettingsManager(backend SettingsBackend, cache QueryCache, eventLog EventLogger) *SettingsManager {
	if cache == nil {
		cache = nopCache{}
	}
	return &SettingsManager{backend: backend, cache: cache, eventLog: eventLog}
}

// Get returns the cached settings or fetches them from the backend.
func (m *SettingsManager) Get(ctx context.Context) (models.Settings, error) {
	if v, ok := m.cache.Get(SettingsCacheKey); ok {
		if s, ok := v.(models.Settings); ok {
			return s, nil
		}
	}
	s, err := m.backend.GetSettings(ctx)
	if err != nil {
		return models.Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	m.cache.Set(SettingsCacheKey, s)
	return s, nil
}

// Update writes settings to the backend and invalidates the cached copy.
func (m *SettingsManager) Update(ctx context.Context, s models.Settings) (models.Settings, error) {
	updated, err := m.backend.UpdateSettings(ctx, s)
	if err != nil {
		return models.Settings{}, fmt.Errorf("updating settings: %w", err)
	}
	m.cache.Delete(SettingsCacheKey)
	logEvent(m.eventLog, EventSettingsUpdated, map[string]any{"agent_enabled": updated.AgentEnabled})
	return updated, nil
}
