package config

import (
	"errors"
	"sync"
	"testing"
)

type memStore struct {
	mu     sync.Mutex
	values map[string]string
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (m *memStore) SaveConfig(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store offline")
	}
	m.values[key] = value
	return nil
}

func (m *memStore) GetConfig(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", errors.New("store offline")
	}
	return m.values[key], nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENABLE_DENSITY", "ENABLE_IDENTITY", "ENABLE_THREAT",
		"SHOW_OVERLAYS", "DENSITY_ALERT_THRESHOLD",
	} {
		t.Setenv(key, "")
	}
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func TestSettingsDefaults(t *testing.T) {
	clearEnv(t)
	s := NewSettings(nil)

	state := s.Snapshot()
	if !state.EnableDensity || !state.EnableIdentity || !state.EnableThreat || !state.ShowOverlays {
		t.Errorf("state = %+v, want every switch on", state)
	}
	if state.DensityAlertThreshold != defaultDensityAlertThreshold {
		t.Errorf("threshold = %d, want %d", state.DensityAlertThreshold, defaultDensityAlertThreshold)
	}
}

func TestSettingsEnvSeeds(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENABLE_THREAT", "false")
	t.Setenv("DENSITY_ALERT_THRESHOLD", "15")

	s := NewSettings(nil)
	if s.ThreatEnabled() {
		t.Error("ENABLE_THREAT=false should disable the stage")
	}
	if s.DensityEnabled() != true {
		t.Error("unrelated switches should stay on")
	}
	if s.DensityAlertThreshold() != 15 {
		t.Errorf("threshold = %d, want 15", s.DensityAlertThreshold())
	}
}

func TestSettingsIgnoresBadEnvThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv("DENSITY_ALERT_THRESHOLD", "many")

	s := NewSettings(nil)
	if s.DensityAlertThreshold() != defaultDensityAlertThreshold {
		t.Errorf("threshold = %d, want default kept", s.DensityAlertThreshold())
	}
}

func TestSettingsStoreOverridesEnv(t *testing.T) {
	clearEnv(t)
	store := newMemStore()
	store.values[keyEnableDensity] = "false"
	store.values[keyDensityAlertThreshold] = "20"

	s := NewSettings(store)
	if s.DensityEnabled() {
		t.Error("stored value should override the default")
	}
	if s.DensityAlertThreshold() != 20 {
		t.Errorf("threshold = %d, want 20", s.DensityAlertThreshold())
	}
	if !s.IdentityEnabled() {
		t.Error("keys absent from the store should keep their seed")
	}
}

func TestSettingsApplyPartialUpdate(t *testing.T) {
	clearEnv(t)
	store := newMemStore()
	s := NewSettings(store)

	state := s.Apply(Update{EnableIdentity: boolPtr(false)})
	if state.EnableIdentity {
		t.Error("update should disable identity")
	}
	if !state.EnableDensity || !state.EnableThreat || !state.ShowOverlays {
		t.Errorf("state = %+v, want untouched fields kept", state)
	}
	if store.values[keyEnableIdentity] != "false" {
		t.Errorf("persisted = %q, want false", store.values[keyEnableIdentity])
	}
}

func TestSettingsApplyRejectsNonPositiveThreshold(t *testing.T) {
	clearEnv(t)
	s := NewSettings(nil)

	state := s.Apply(Update{DensityAlertThreshold: intPtr(0)})
	if state.DensityAlertThreshold != defaultDensityAlertThreshold {
		t.Errorf("threshold = %d, want unchanged", state.DensityAlertThreshold)
	}
}

func TestSettingsSurviveRestart(t *testing.T) {
	clearEnv(t)
	store := newMemStore()

	first := NewSettings(store)
	first.Apply(Update{
		ShowOverlays:          boolPtr(false),
		DensityAlertThreshold: intPtr(12),
	})

	second := NewSettings(store)
	if second.ShowOverlays() {
		t.Error("overlay switch should survive a restart")
	}
	if second.DensityAlertThreshold() != 12 {
		t.Errorf("threshold = %d, want 12", second.DensityAlertThreshold())
	}
}

func TestSettingsApplyToleratesStoreFailure(t *testing.T) {
	clearEnv(t)
	store := newMemStore()
	s := NewSettings(store)
	store.fail = true

	state := s.Apply(Update{EnableThreat: boolPtr(false)})
	if state.EnableThreat {
		t.Error("in-memory state should change even when persistence fails")
	}
}
