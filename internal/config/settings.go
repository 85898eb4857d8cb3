// Package config holds the runtime settings: which analysis stages run,
// whether status banners are drawn, and the crowd alert threshold. Settings
// are seeded from the environment, overridden by persisted values, and
// mutated live over the API.
package config

import (
	"log"
	"os"
	"strconv"
	"sync"
)

const defaultDensityAlertThreshold = 8

// Persisted settings keys.
const (
	keyEnableDensity         = "enable_density"
	keyEnableIdentity        = "enable_identity"
	keyEnableThreat          = "enable_threat"
	keyShowOverlays          = "show_overlays"
	keyDensityAlertThreshold = "density_alert_threshold"
)

// Store persists settings between restarts.
type Store interface {
	SaveConfig(key, value string) error
	GetConfig(key string) (string, error)
}

// State is a snapshot of the runtime settings.
type State struct {
	EnableDensity         bool `json:"enable_density"`
	EnableIdentity        bool `json:"enable_identity"`
	EnableThreat          bool `json:"enable_threat"`
	ShowOverlays          bool `json:"show_overlays"`
	DensityAlertThreshold int  `json:"density_alert_threshold"`
}

// Update is a partial settings change; nil fields are left untouched.
type Update struct {
	EnableDensity         *bool `json:"enable_density"`
	EnableIdentity        *bool `json:"enable_identity"`
	EnableThreat          *bool `json:"enable_threat"`
	ShowOverlays          *bool `json:"show_overlays"`
	DensityAlertThreshold *int  `json:"density_alert_threshold"`
}

// Settings is the live settings holder. Safe for concurrent use.
type Settings struct {
	mu    sync.RWMutex
	state State
	store Store
}

// NewSettings builds the settings from environment seeds and any values the
// store carries from a previous run. A nil store disables persistence.
func NewSettings(store Store) *Settings {
	s := &Settings{
		store: store,
		state: State{
			EnableDensity:         os.Getenv("ENABLE_DENSITY") != "false",
			EnableIdentity:        os.Getenv("ENABLE_IDENTITY") != "false",
			EnableThreat:          os.Getenv("ENABLE_THREAT") != "false",
			ShowOverlays:          os.Getenv("SHOW_OVERLAYS") != "false",
			DensityAlertThreshold: defaultDensityAlertThreshold,
		},
	}
	if envVal := os.Getenv("DENSITY_ALERT_THRESHOLD"); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			s.state.DensityAlertThreshold = v
		}
	}
	s.loadStored()
	return s
}

func (s *Settings) loadStored() {
	if s.store == nil {
		return
	}
	if v, ok := s.storedBool(keyEnableDensity); ok {
		s.state.EnableDensity = v
	}
	if v, ok := s.storedBool(keyEnableIdentity); ok {
		s.state.EnableIdentity = v
	}
	if v, ok := s.storedBool(keyEnableThreat); ok {
		s.state.EnableThreat = v
	}
	if v, ok := s.storedBool(keyShowOverlays); ok {
		s.state.ShowOverlays = v
	}
	if raw, err := s.store.GetConfig(keyDensityAlertThreshold); err == nil && raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			s.state.DensityAlertThreshold = v
		}
	}
}

func (s *Settings) storedBool(key string) (bool, bool) {
	raw, err := s.store.GetConfig(key)
	if err != nil || raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// DensityEnabled reports whether the crowd density stage runs.
func (s *Settings) DensityEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.EnableDensity
}

// IdentityEnabled reports whether the identity matching stage runs.
func (s *Settings) IdentityEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.EnableIdentity
}

// ThreatEnabled reports whether the weapon screening stage runs.
func (s *Settings) ThreatEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.EnableThreat
}

// ShowOverlays reports whether status banners are drawn on rendered frames.
func (s *Settings) ShowOverlays() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ShowOverlays
}

// DensityAlertThreshold returns the crowd size that raises an alert.
func (s *Settings) DensityAlertThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.DensityAlertThreshold
}

// Snapshot returns a copy of the current settings.
func (s *Settings) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Apply merges a partial update, persists changed keys, and returns the
// resulting state. Non-positive alert thresholds are ignored.
func (s *Settings) Apply(update Update) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update.EnableDensity != nil {
		s.state.EnableDensity = *update.EnableDensity
		s.persist(keyEnableDensity, strconv.FormatBool(s.state.EnableDensity))
	}
	if update.EnableIdentity != nil {
		s.state.EnableIdentity = *update.EnableIdentity
		s.persist(keyEnableIdentity, strconv.FormatBool(s.state.EnableIdentity))
	}
	if update.EnableThreat != nil {
		s.state.EnableThreat = *update.EnableThreat
		s.persist(keyEnableThreat, strconv.FormatBool(s.state.EnableThreat))
	}
	if update.ShowOverlays != nil {
		s.state.ShowOverlays = *update.ShowOverlays
		s.persist(keyShowOverlays, strconv.FormatBool(s.state.ShowOverlays))
	}
	if update.DensityAlertThreshold != nil && *update.DensityAlertThreshold > 0 {
		s.state.DensityAlertThreshold = *update.DensityAlertThreshold
		s.persist(keyDensityAlertThreshold, strconv.Itoa(s.state.DensityAlertThreshold))
	}
	return s.state
}

func (s *Settings) persist(key, value string) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveConfig(key, value); err != nil {
		log.Printf("[Settings] Failed to persist %s: %v", key, err)
	}
}
